package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/types"
)

// Default transcription-session parameters.
const (
	DefaultConnectTimeout = 10 * time.Second
	defaultRetries        = 1
	defaultRetryDelay     = 250 * time.Millisecond
)

// StreamState is the lifecycle state of a [TranscriptionSession].
type StreamState int

const (
	StreamClosed StreamState = iota
	StreamOpening
	StreamOpen
	StreamClosing
)

// String returns the state name.
func (s StreamState) String() string {
	switch s {
	case StreamClosed:
		return "closed"
	case StreamOpening:
		return "opening"
	case StreamOpen:
		return "open"
	case StreamClosing:
		return "closing"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// StreamHandle identifies the active transcription connection.
type StreamHandle struct {
	ID    string
	State StreamState
}

// TranscriptionConfig configures a [TranscriptionSession].
type TranscriptionConfig struct {
	// Stream is passed to the provider on every attempt.
	Stream stt.StreamConfig

	// ConnectTimeout bounds each open attempt. Expiry counts as a connection
	// failure. Defaults to [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// Retries is the number of additional attempts after a failed open.
	// Defaults to 1; a negative value disables retrying.
	Retries int

	// RetryDelay is the pause before a retry. Defaults to 250ms.
	RetryDelay time.Duration

	// OnConnect, if set, is called after every attempt with its latency and
	// outcome.
	OnConnect func(latency time.Duration, err error)

	// OnDrop, if set, is called for every audio chunk that was not delivered.
	OnDrop func(reason string)
}

// TranscriptionSession manages one streaming speech-to-text connection
// through Closed → Opening → Open → Closing → Closed.
//
// Audio sent outside Open is dropped rather than queued; the first drop per
// session is logged. All methods are safe for concurrent use.
type TranscriptionSession struct {
	provider stt.Provider
	cfg      TranscriptionConfig

	mu         sync.Mutex
	state      StreamState
	id         string
	handle     stt.SessionHandle
	cancelOpen context.CancelFunc
	dropOnce   *sync.Once
	bpOnce     *sync.Once
}

// NewTranscriptionSession returns a closed session over provider.
func NewTranscriptionSession(provider stt.Provider, cfg TranscriptionConfig) *TranscriptionSession {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	} else if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &TranscriptionSession{
		provider: provider,
		cfg:      cfg,
		dropOnce: new(sync.Once),
		bpOnce:   new(sync.Once),
	}
}

// Handle returns the current stream identity and state.
func (s *TranscriptionSession) Handle() StreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamHandle{ID: s.id, State: s.state}
}

// State returns the current lifecycle state.
func (s *TranscriptionSession) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open establishes the stream and returns its transcript channel. A failed
// attempt is retried up to the configured budget; when every attempt fails
// the error wraps both [ErrTranscriptionUnavailable] and
// [ErrConnectionFailed]. Cancelling ctx, or calling Close while opening,
// aborts without retrying and returns the context error.
func (s *TranscriptionSession) Open(ctx context.Context) (<-chan types.Transcript, error) {
	s.mu.Lock()
	if s.state != StreamClosed {
		s.mu.Unlock()
		return nil, ErrStreamBusy
	}
	openCtx, cancel := context.WithCancel(ctx)
	s.state = StreamOpening
	s.id = uuid.NewString()
	s.cancelOpen = cancel
	s.dropOnce = new(sync.Once)
	s.bpOnce = new(sync.Once)
	id := s.id
	s.mu.Unlock()
	defer cancel()

	handle, err := s.connect(openCtx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamOpening || s.id != id {
		// Closed while opening.
		if handle != nil {
			_ = handle.Close()
		}
		if err == nil {
			err = context.Canceled
		}
		return nil, err
	}
	s.cancelOpen = nil
	if err != nil {
		s.state = StreamClosed
		return nil, err
	}
	s.handle = handle
	s.state = StreamOpen
	slog.Info("transcription stream open", "stream_id", id)
	return handle.Transcripts(), nil
}

func (s *TranscriptionSession) connect(ctx context.Context, id string) (stt.SessionHandle, error) {
	var errs []error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
			slog.Info("retrying transcription stream", "stream_id", id, "attempt", attempt+1)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		start := time.Now()
		h, err := s.provider.StartStream(attemptCtx, s.cfg.Stream)
		cancel()
		if s.cfg.OnConnect != nil {
			s.cfg.OnConnect(time.Since(start), err)
		}
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			// Caller cancellation is not a connection failure.
			return nil, ctx.Err()
		}
		err = fmt.Errorf("%w: attempt %d: %w", ErrConnectionFailed, attempt+1, err)
		slog.Warn("transcription stream open failed", "stream_id", id, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, errors.Join(errs...))
}

// SendAudio forwards chunk when the stream is Open and drops it otherwise.
// It never blocks.
func (s *TranscriptionSession) SendAudio(chunk []byte) {
	s.mu.Lock()
	state := s.state
	handle := s.handle
	id := s.id
	dropOnce, bpOnce := s.dropOnce, s.bpOnce
	s.mu.Unlock()

	if state != StreamOpen || handle == nil {
		dropOnce.Do(func() {
			slog.Warn("dropping audio, transcription stream not open", "stream_id", id, "state", state)
		})
		s.dropped("not_open")
		return
	}
	if err := handle.SendAudio(chunk); err != nil {
		if errors.Is(err, stt.ErrBackpressure) {
			bpOnce.Do(func() {
				slog.Warn("dropping audio, transcription send queue full", "stream_id", id)
			})
			s.dropped("backpressure")
			return
		}
		dropOnce.Do(func() {
			slog.Warn("dropping audio", "stream_id", id, "err", err)
		})
		s.dropped("closed")
	}
}

func (s *TranscriptionSession) dropped(reason string) {
	if s.cfg.OnDrop != nil {
		s.cfg.OnDrop(reason)
	}
}

// Close terminates the stream from any state. It is idempotent.
func (s *TranscriptionSession) Close() error {
	s.mu.Lock()
	switch s.state {
	case StreamClosed, StreamClosing:
		s.mu.Unlock()
		return nil
	case StreamOpening:
		s.state = StreamClosed
		if s.cancelOpen != nil {
			s.cancelOpen()
		}
		s.mu.Unlock()
		return nil
	}
	s.state = StreamClosing
	handle := s.handle
	id := s.id
	s.handle = nil
	s.mu.Unlock()

	err := handle.Close()

	s.mu.Lock()
	s.state = StreamClosed
	s.mu.Unlock()
	slog.Info("transcription stream closed", "stream_id", id)
	if err != nil {
		return fmt.Errorf("capture: close transcription stream: %w", err)
	}
	return nil
}
