// Package audio defines the capture-side audio abstractions of voicefront.
//
// The primary abstractions are:
//
//   - [Device]: one capture backend (a Bluetooth peripheral characteristic
//     stream or the phone microphone) that can be probed and opened.
//   - [Stream]: an open backend delivering a lazy, unbounded sequence of raw
//     PCM16 byte chunks.
//   - [Source]: the selector that owns at most one open [Stream] at a time,
//     preferring a connected Bluetooth peripheral over the microphone.
//   - [Framer]: reassembles bursty byte chunks into fixed-size [Frame] values.
//   - [Player]: plays a synthesized response payload.
//
// Backend implementations live in sub-packages (audio/ble, audio/portaudio).
// This package lives under pkg/ because third-party backends are expected to
// implement [Device] and [Player].
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrNoDeviceAvailable is returned by [Source.Open] when no backend matching
	// the requested preference can be opened.
	ErrNoDeviceAvailable = errors.New("audio: no device available")

	// ErrAlreadyOpen is returned by [Source.Open] while a backend is open.
	ErrAlreadyOpen = errors.New("audio: source already open")
)

// Backend names a capture backend preference.
type Backend string

const (
	// BackendAuto applies the selection policy: a connected Bluetooth
	// peripheral is used exclusively, otherwise the microphone.
	BackendAuto Backend = "auto"

	// BackendBluetooth selects the Bluetooth peripheral only.
	BackendBluetooth Backend = "bluetooth"

	// BackendMicrophone selects the phone microphone only.
	BackendMicrophone Backend = "microphone"
)

// IsValid reports whether b is a recognised backend preference.
func (b Backend) IsValid() bool {
	switch b {
	case BackendAuto, BackendBluetooth, BackendMicrophone:
		return true
	}
	return false
}

// Stream is an open capture backend.
//
// Chunks delivers raw little-endian PCM16 mono bytes of arbitrary length. The
// channel is closed when the backend stops delivering (after Close, or when
// the device goes away). Close releases the backend; calling it more than once
// is safe and returns nil.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Device is a capture backend that can be probed and opened.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Name is a short label used in logs (e.g., "bluetooth", "microphone").
	Name() string

	// Available reports whether the backend can currently be opened. For the
	// Bluetooth backend this means a peripheral advertising the known audio
	// service is connected.
	Available(ctx context.Context) (bool, error)

	// Open starts the backend and returns the open stream.
	Open(ctx context.Context) (Stream, error)
}

// Source selects between a Bluetooth peripheral and the microphone and owns
// at most one open [Stream]. All methods are safe for concurrent use.
type Source struct {
	bluetooth  Device
	microphone Device

	mu      sync.Mutex
	opening bool
	active  Stream
	backend Backend
}

// NewSource creates a Source. Either device may be nil when the backend is not
// present on this host.
func NewSource(bluetooth, microphone Device) *Source {
	return &Source{bluetooth: bluetooth, microphone: microphone}
}

// Open selects a backend according to preferred and opens it. It returns the
// stream's chunk channel and the backend actually chosen.
//
// With [BackendAuto], a Bluetooth peripheral that reports itself available is
// used exclusively; otherwise the microphone is used. Returns [ErrAlreadyOpen]
// when a backend is open (or being opened) and [ErrNoDeviceAvailable] when no
// suitable backend exists.
func (s *Source) Open(ctx context.Context, preferred Backend) (<-chan []byte, Backend, error) {
	s.mu.Lock()
	if s.active != nil || s.opening {
		s.mu.Unlock()
		return nil, "", ErrAlreadyOpen
	}
	s.opening = true
	s.mu.Unlock()

	stream, backend, err := s.open(ctx, preferred)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false
	if err != nil {
		return nil, "", err
	}
	s.active = stream
	s.backend = backend
	slog.Info("audio source opened", "backend", backend)
	return stream.Chunks(), backend, nil
}

func (s *Source) open(ctx context.Context, preferred Backend) (Stream, Backend, error) {
	if preferred == "" {
		preferred = BackendAuto
	}
	if !preferred.IsValid() {
		return nil, "", fmt.Errorf("audio: unknown backend %q", preferred)
	}

	if preferred == BackendAuto || preferred == BackendBluetooth {
		if s.bluetooth != nil {
			ok, err := s.bluetooth.Available(ctx)
			if err != nil {
				slog.Warn("audio source: bluetooth probe failed", "err", err)
			}
			if ok {
				stream, err := s.bluetooth.Open(ctx)
				if err != nil {
					return nil, "", fmt.Errorf("audio: open bluetooth: %w", err)
				}
				return stream, BackendBluetooth, nil
			}
		}
		if preferred == BackendBluetooth {
			return nil, "", ErrNoDeviceAvailable
		}
	}

	if s.microphone == nil {
		return nil, "", ErrNoDeviceAvailable
	}
	ok, err := s.microphone.Available(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: microphone: %v", ErrNoDeviceAvailable, err)
	}
	if !ok {
		return nil, "", ErrNoDeviceAvailable
	}
	stream, err := s.microphone.Open(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("audio: open microphone: %w", err)
	}
	return stream, BackendMicrophone, nil
}

// Close releases the active backend, if any. Calling Close when nothing is
// open is a no-op that returns nil.
func (s *Source) Close() error {
	s.mu.Lock()
	stream := s.active
	backend := s.backend
	s.active = nil
	s.backend = ""
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	slog.Info("audio source closed", "backend", backend)
	if err := stream.Close(); err != nil {
		return fmt.Errorf("audio: close %s: %w", backend, err)
	}
	return nil
}

// IsOpen reports whether a backend is currently open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Backend returns the currently open backend, or "" when closed.
func (s *Source) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}
