// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Stream], and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(16)
//	mic := &mock.Device{DeviceName: "microphone", AvailableResult: true, OpenResult: stream}
//	src := audio.NewSource(nil, mic)
//	chunks, backend, err := src.Open(ctx, audio.BackendAuto)
//	stream.Push([]byte{0x01, 0x00})
package mock

import (
	"context"
	"sync"

	"github.com/voicefront/voicefront/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Use [NewStream] to create
// one; push chunks with [Stream.Push] and end the stream with [Stream.End].
type Stream struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Dropped counts chunks that did not fit the buffer.
	Dropped int
}

// NewStream returns a Stream whose chunk channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan []byte, buffer)}
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Push delivers chunk to the stream consumer. It never blocks: when the buffer
// is full the chunk is counted in Dropped. Push after the stream ended is a
// no-op that returns false.
func (s *Stream) Push(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- chunk:
		return true
	default:
		s.Dropped++
		return false
	}
}

// End closes the chunk channel without recording a Close call, simulating a
// device that went away.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Close implements [audio.Stream]. Closes the chunk channel on first call and
// returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return s.CloseError
}

// CloseCalls returns the number of Close calls so far.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Closed reports whether the stream has been closed or ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// DeviceName is returned by [Device.Name].
	DeviceName string

	// AvailableResult and AvailableError are returned by [Device.Available].
	AvailableResult bool
	AvailableError  error

	// OpenResult is returned by [Device.Open]. When nil, OpenFunc is consulted.
	OpenResult audio.Stream

	// OpenFunc, if set and OpenResult is nil, produces a fresh stream per call.
	OpenFunc func() audio.Stream

	// OpenError is returned by [Device.Open].
	OpenError error

	// CallCountAvailable records how many times Available was called.
	CallCountAvailable int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DeviceName
}

// Available implements [audio.Device].
func (d *Device) Available(_ context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountAvailable++
	return d.AvailableResult, d.AvailableError
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.OpenResult != nil {
		return d.OpenResult, nil
	}
	if d.OpenFunc != nil {
		return d.OpenFunc(), nil
	}
	return NewStream(16), nil
}

// OpenCalls returns the number of Open calls so far.
func (d *Device) OpenCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by [Player.Play].
	PlayError error

	// Block, when non-nil, makes Play wait until the channel is closed or ctx
	// is cancelled.
	Block chan struct{}

	// OutputFormat is returned by [Player.Format]. Defaults to 8000 Hz mono.
	OutputFormat audio.Format

	// Played records the payload of every Play call.
	Played [][]byte
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	p.Played = append(p.Played, pcm)
	block := p.Block
	err := p.PlayError
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Format implements [audio.Player].
func (p *Player) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OutputFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 8000, Channels: 1}
	}
	return p.OutputFormat
}

// PlayCount returns the number of Play calls so far.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}
