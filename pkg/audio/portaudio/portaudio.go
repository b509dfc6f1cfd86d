// Package portaudio provides the host microphone [audio.Device] and the
// response [audio.Player], both backed by PortAudio.
//
// Call [Initialize] once before constructing devices and [Terminate] on
// shutdown. Building this package requires cgo and the PortAudio library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/voicefront/voicefront/pkg/audio"
)

const (
	// DefaultSampleRate is the capture rate used by the phone pipeline.
	DefaultSampleRate = 8000

	// DefaultFramesPerBuffer is the number of samples read per callback
	// (4096 bytes of PCM16).
	DefaultFramesPerBuffer = 2048
)

// Initialize initialises the PortAudio library.
func Initialize() error {
	slog.Debug("portaudio: initializing")
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	slog.Debug("portaudio: terminating")
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// MicOption configures a [Microphone].
type MicOption func(*Microphone)

// WithSampleRate sets the capture sample rate in Hz.
func WithSampleRate(rate int) MicOption {
	return func(m *Microphone) { m.sampleRate = rate }
}

// WithFramesPerBuffer sets the number of samples per read.
func WithFramesPerBuffer(n int) MicOption {
	return func(m *Microphone) { m.framesPerBuffer = n }
}

// Microphone implements [audio.Device] using the default PortAudio input
// device in mono PCM16.
type Microphone struct {
	sampleRate      int
	framesPerBuffer int
}

var _ audio.Device = (*Microphone)(nil)

// NewMicrophone creates a microphone device.
func NewMicrophone(opts ...MicOption) *Microphone {
	m := &Microphone{sampleRate: DefaultSampleRate, framesPerBuffer: DefaultFramesPerBuffer}
	for _, o := range opts {
		o(m)
	}
	if m.sampleRate <= 0 {
		m.sampleRate = DefaultSampleRate
	}
	if m.framesPerBuffer <= 0 {
		m.framesPerBuffer = DefaultFramesPerBuffer
	}
	return m
}

// Name implements [audio.Device].
func (m *Microphone) Name() string { return "microphone" }

// Available implements [audio.Device]. It reports whether a default input
// device exists.
func (m *Microphone) Available(_ context.Context) (bool, error) {
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return false, fmt.Errorf("portaudio: default input device: %w", err)
	}
	return dev != nil && dev.MaxInputChannels > 0, nil
}

// Open implements [audio.Device]. It opens and starts a mono input stream.
func (m *Microphone) Open(_ context.Context) (audio.Stream, error) {
	buf := make([]int16, m.framesPerBuffer)
	s, err := pa.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	slog.Info("portaudio: microphone started",
		"format", audio.Format{SampleRate: m.sampleRate, Channels: 1},
		"frames_per_buffer", m.framesPerBuffer,
	)

	ms := &micStream{
		s:    s,
		buf:  buf,
		ch:   make(chan []byte, 16),
		done: make(chan struct{}),
		exit: make(chan struct{}),
	}
	go ms.readLoop()
	return ms, nil
}

type micStream struct {
	s    *pa.Stream
	buf  []int16
	ch   chan []byte
	done chan struct{}
	exit chan struct{}
	once sync.Once
	err  error
}

func (ms *micStream) Chunks() <-chan []byte { return ms.ch }

func (ms *micStream) readLoop() {
	defer close(ms.exit)
	defer close(ms.ch)
	var warnOnce sync.Once
	for {
		select {
		case <-ms.done:
			return
		default:
		}
		if err := ms.s.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				warnOnce.Do(func() { slog.Warn("portaudio: input overflowed, samples lost") })
				continue
			}
			select {
			case <-ms.done:
			default:
				slog.Warn("portaudio: read failed, stopping microphone", "err", err)
			}
			return
		}
		chunk := audio.SamplesToBytes(ms.buf)
		select {
		case ms.ch <- chunk:
		case <-ms.done:
			return
		}
	}
}

func (ms *micStream) Close() error {
	ms.once.Do(func() {
		close(ms.done)
		if err := ms.s.Stop(); err != nil {
			ms.err = fmt.Errorf("portaudio: stop input stream: %w", err)
		}
		<-ms.exit
		if err := ms.s.Close(); err != nil && ms.err == nil {
			ms.err = fmt.Errorf("portaudio: close input stream: %w", err)
		}
	})
	return ms.err
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player implements [audio.Player] on the default PortAudio output device.
type Player struct {
	sampleRate      int
	framesPerBuffer int

	mu sync.Mutex
}

var _ audio.Player = (*Player)(nil)

// NewPlayer creates a player writing mono PCM16 at sampleRate.
func NewPlayer(sampleRate int) *Player {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Player{sampleRate: sampleRate, framesPerBuffer: sampleRate / 50}
}

// Format implements [audio.Player].
func (p *Player) Format() audio.Format {
	return audio.Format{SampleRate: p.sampleRate, Channels: 1}
}

// Play implements [audio.Player]. It blocks until all samples are written or
// ctx is cancelled.
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int16, p.framesPerBuffer)
	s, err := pa.OpenDefaultStream(0, 1, float64(p.sampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer s.Close()
	if err := s.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer s.Stop()

	samples := audio.BytesToSamples(pcm)
	for off := 0; off < len(samples); off += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, samples[off:])
		clear(out[n:])
		if err := s.Write(); err != nil {
			if errors.Is(err, pa.OutputUnderflowed) {
				continue
			}
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}
