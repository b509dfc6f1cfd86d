// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig and to script connection failures. Use Session to feed
// controlled Transcript values and inspect which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession(16)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(types.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/types"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a new default Session.
	Session stt.SessionHandle

	// StartStreamErrs are returned in order by successive StartStream calls;
	// once exhausted, StartStreamErr applies.
	StartStreamErrs []error

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// Block, if non-nil, makes StartStream wait until it is closed or ctx is
	// done (simulating a slow connect).
	Block chan struct{}

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions holds every session returned, in order.
	Sessions []*Session
}

// StartStream records the call and returns Session or the scripted error.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	i := len(p.StartStreamCalls)
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if i < len(p.StartStreamErrs) && p.StartStreamErrs[i] != nil {
		return nil, p.StartStreamErrs[i]
	}
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession(16)
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Calls returns the number of StartStream calls. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Last returns the most recent default session, or nil. Thread-safe.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. Create one with
// [NewSession]; feed tokens with [Session.Emit] and simulate a dropped
// connection with [Session.Drop].
type Session struct {
	mu     sync.Mutex
	ch     chan types.Transcript
	closed bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseBlock, if non-nil, makes Close wait until it is closed
	// (simulating a slow graceful shutdown).
	CloseBlock chan struct{}

	// --- Call records ---

	// Chunks records a copy of every chunk passed to SendAudio.
	Chunks [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session whose transcript channel has the given buffer.
func NewSession(buffer int) *Session {
	return &Session{ch: make(chan types.Transcript, buffer)}
}

// SendAudio records the call and returns SendAudioErr, or ErrSessionClosed
// once closed.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Chunks = append(s.Chunks, cp)
	return s.SendAudioErr
}

// Transcripts implements stt.SessionHandle.
func (s *Session) Transcripts() <-chan types.Transcript { return s.ch }

// Emit delivers t unless the session is closed. Returns false if dropped.
func (s *Session) Emit(t types.Transcript) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- t:
		return true
	default:
		return false
	}
}

// Drop closes the transcript channel without a Close call, simulating a lost
// connection.
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Close records the call, closes the channel, and returns CloseErr.
func (s *Session) Close() error {
	if s.CloseBlock != nil {
		<-s.CloseBlock
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return s.CloseErr
}

// SendAudioCallCount returns the number of recorded chunks. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// CloseCalls returns the number of Close calls. Thread-safe.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Closed reports whether the session was closed or dropped. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
