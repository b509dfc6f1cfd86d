// Package ble provides an [audio.Device] backed by a Bluetooth Low Energy
// peripheral that streams microphone audio over a notify characteristic.
//
// The Bluetooth stack itself is consumed through the narrow [Central]
// capability so that the platform binding (CoreBluetooth, BlueZ, Android) can
// be supplied by the host. Each notification carries a small firmware header
// followed by either raw PCM16 or one Opus packet; the device strips the
// header, decodes when needed, and forwards the PCM bytes on a bounded channel.
// Notification callbacks never block: when the consumer falls behind, chunks
// are dropped and counted.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"layeh.com/gopus"

	"github.com/voicefront/voicefront/pkg/audio"
)

const (
	// ServiceUUID is the GATT service advertised by the audio peripheral.
	ServiceUUID = "19B10000-E8F2-537E-4F6C-D104768A1214"

	// AudioCharacteristicUUID is the notify characteristic carrying audio.
	AudioCharacteristicUUID = "19B10001-E8F2-537E-4F6C-D104768A1214"

	// DefaultHeaderBytes is the firmware header length stripped from every
	// notification payload.
	DefaultHeaderBytes = 3

	defaultBuffer     = 64
	defaultSampleRate = 8000
)

// Codec names the payload encoding of a notification after the header.
type Codec string

const (
	// CodecPCM16 is raw little-endian PCM16 mono.
	CodecPCM16 Codec = "pcm16"

	// CodecOpus is one Opus packet per notification.
	CodecOpus Codec = "opus"
)

// ErrNoPeripheral is returned by [Device.Open] when no peripheral advertising
// the audio service is connected.
var ErrNoPeripheral = errors.New("ble: no connected peripheral")

// Peripheral identifies a connected BLE peripheral.
type Peripheral struct {
	ID   string
	Name string
}

// Central is the host Bluetooth capability consumed by [Device].
type Central interface {
	// ConnectedPeripherals lists connected peripherals exposing serviceUUID.
	ConnectedPeripherals(ctx context.Context, serviceUUID string) ([]Peripheral, error)

	// StartNotification subscribes to the characteristic. onData is invoked
	// for every notification payload, possibly from a host-owned goroutine;
	// it must not block.
	StartNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string, onData func([]byte)) error

	// StopNotification cancels a subscription created by StartNotification.
	StopNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error
}

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithHeaderBytes sets how many leading bytes of each notification to strip.
func WithHeaderBytes(n int) Option {
	return func(d *Device) { d.headerBytes = n }
}

// WithCodec sets the payload codec. Defaults to [CodecPCM16].
func WithCodec(c Codec) Option {
	return func(d *Device) { d.codec = c }
}

// WithSampleRate sets the PCM sample rate the pipeline expects. Opus payloads
// are decoded at this rate.
func WithSampleRate(rate int) Option {
	return func(d *Device) { d.sampleRate = rate }
}

// WithBuffer sets the chunk channel capacity.
func WithBuffer(n int) Option {
	return func(d *Device) { d.buffer = n }
}

// WithUUIDs overrides the service and characteristic UUIDs.
func WithUUIDs(service, characteristic string) Option {
	return func(d *Device) {
		d.serviceUUID = service
		d.characteristicUUID = characteristic
	}
}

// WithDropHook registers fn to be called for every chunk dropped because the
// consumer fell behind.
func WithDropHook(fn func()) Option {
	return func(d *Device) { d.onDrop = fn }
}

// Device implements [audio.Device] on top of a [Central].
type Device struct {
	central            Central
	serviceUUID        string
	characteristicUUID string
	headerBytes        int
	codec              Codec
	sampleRate         int
	buffer             int
	onDrop             func()
}

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// New creates a Bluetooth audio device.
func New(central Central, opts ...Option) (*Device, error) {
	if central == nil {
		return nil, errors.New("ble: central must not be nil")
	}
	d := &Device{
		central:            central,
		serviceUUID:        ServiceUUID,
		characteristicUUID: AudioCharacteristicUUID,
		headerBytes:        DefaultHeaderBytes,
		codec:              CodecPCM16,
		sampleRate:         defaultSampleRate,
		buffer:             defaultBuffer,
	}
	for _, o := range opts {
		o(d)
	}
	if err := uuid.Validate(d.serviceUUID); err != nil {
		return nil, fmt.Errorf("ble: service uuid %q: %w", d.serviceUUID, err)
	}
	if err := uuid.Validate(d.characteristicUUID); err != nil {
		return nil, fmt.Errorf("ble: characteristic uuid %q: %w", d.characteristicUUID, err)
	}
	if d.headerBytes < 0 {
		return nil, fmt.Errorf("ble: header bytes must be >= 0, got %d", d.headerBytes)
	}
	if d.codec != CodecPCM16 && d.codec != CodecOpus {
		return nil, fmt.Errorf("ble: unknown codec %q", d.codec)
	}
	if d.buffer <= 0 {
		d.buffer = defaultBuffer
	}
	return d, nil
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "bluetooth" }

// Available implements [audio.Device]. It reports whether any peripheral
// exposing the audio service is connected.
func (d *Device) Available(ctx context.Context) (bool, error) {
	ps, err := d.central.ConnectedPeripherals(ctx, d.serviceUUID)
	if err != nil {
		return false, fmt.Errorf("ble: list peripherals: %w", err)
	}
	return len(ps) > 0, nil
}

// Open implements [audio.Device]. It subscribes to the audio characteristic
// of the first connected peripheral.
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	ps, err := d.central.ConnectedPeripherals(ctx, d.serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: list peripherals: %w", err)
	}
	if len(ps) == 0 {
		return nil, ErrNoPeripheral
	}

	s := &stream{
		dev:        d,
		peripheral: ps[0],
		ch:         make(chan []byte, d.buffer),
	}
	if d.codec == CodecOpus {
		dec, err := gopus.NewDecoder(d.sampleRate, 1)
		if err != nil {
			return nil, fmt.Errorf("ble: create opus decoder: %w", err)
		}
		s.opus = dec
	}

	if err := d.central.StartNotification(ctx, s.peripheral.ID, d.serviceUUID, d.characteristicUUID, s.onData); err != nil {
		return nil, fmt.Errorf("ble: start notification on %s: %w", s.peripheral.ID, err)
	}
	slog.Info("ble: subscribed to audio characteristic",
		"peripheral", s.peripheral.ID,
		"name", s.peripheral.Name,
		"codec", d.codec,
	)
	return s, nil
}

// stream is the open subscription returned by [Device.Open].
type stream struct {
	dev        *Device
	peripheral Peripheral
	opus       *gopus.Decoder

	mu     sync.Mutex
	ch     chan []byte
	closed bool

	dropped  atomic.Int64
	dropOnce sync.Once
	decOnce  sync.Once
}

func (s *stream) Chunks() <-chan []byte { return s.ch }

// onData runs on the Central's callback goroutine.
func (s *stream) onData(payload []byte) {
	if len(payload) <= s.dev.headerBytes {
		return
	}
	body := payload[s.dev.headerBytes:]

	var pcm []byte
	if s.opus != nil {
		// Decoder state is per stream; the lock also serialises decoding.
		s.mu.Lock()
		samples, err := s.opus.Decode(body, s.dev.sampleRate*120/1000, false)
		s.mu.Unlock()
		if err != nil {
			s.decOnce.Do(func() {
				slog.Warn("ble: opus decode failed, skipping packets", "peripheral", s.peripheral.ID, "err", err)
			})
			return
		}
		pcm = audio.SamplesToBytes(samples)
	} else {
		pcm = make([]byte, len(body))
		copy(pcm, body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- pcm:
	default:
		n := s.dropped.Add(1)
		if s.dev.onDrop != nil {
			s.dev.onDrop()
		}
		s.dropOnce.Do(func() {
			slog.Warn("ble: consumer behind, dropping audio chunks", "peripheral", s.peripheral.ID, "dropped", n)
		})
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	err := s.dev.central.StopNotification(context.Background(), s.peripheral.ID, s.dev.serviceUUID, s.dev.characteristicUUID)
	slog.Info("ble: unsubscribed from audio characteristic",
		"peripheral", s.peripheral.ID,
		"dropped_chunks", s.dropped.Load(),
	)
	if err != nil {
		return fmt.Errorf("ble: stop notification on %s: %w", s.peripheral.ID, err)
	}
	return nil
}
