package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voicefront/voicefront/internal/capture"
	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/internal/observe"
	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/provider/vad"
	"github.com/voicefront/voicefront/pkg/provider/wakeword"
	"github.com/voicefront/voicefront/pkg/types"
)

const (
	// DefaultDispatchTimeout bounds the background flush dispatched by
	// StopCapture.
	DefaultDispatchTimeout = 30 * time.Second

	eventQueue = 256
)

// AudioSource opens the single capture stream. [*audio.Source] implements it.
type AudioSource interface {
	Open(ctx context.Context, preferred audio.Backend) (<-chan []byte, audio.Backend, error)
	Close() error
}

// Tuning holds the parameters that may change while the orchestrator runs.
type Tuning struct {
	// VADThreshold is the speech probability at or above which a frame is
	// voiced. Zero selects [capture.DefaultVADThreshold].
	VADThreshold float32

	// InactivityTimeout ends an utterance this long after its last
	// transcript. Zero selects [capture.DefaultInactivityTimeout].
	InactivityTimeout time.Duration

	// RearmWakeWord returns a wake-word session to ListeningForWakeWord after
	// each response instead of Idle.
	RearmWakeWord bool

	// ContinuousMoments restarts capture after each dispatched moment until
	// StopCapture.
	ContinuousMoments bool
}

func (t Tuning) withDefaults() Tuning {
	if t.VADThreshold <= 0 {
		t.VADThreshold = capture.DefaultVADThreshold
	}
	if t.InactivityTimeout <= 0 {
		t.InactivityTimeout = capture.DefaultInactivityTimeout
	}
	return t
}

// Config wires an [Orchestrator].
type Config struct {
	// Source is the audio source. Required.
	Source AudioSource

	// Backend is the preferred capture backend.
	Backend audio.Backend

	// Transcriber is the streaming speech-to-text provider. Required.
	Transcriber stt.Provider

	// TranscriberName labels provider metrics. Defaults to "stt".
	TranscriberName string

	// Transcription configures each transcription stream. OnConnect and
	// OnDrop are set by the orchestrator.
	Transcription capture.TranscriptionConfig

	// InterimRevisions is set when the transcriber's interim tokens are
	// cumulative revisions (Deepgram with interim_results). Otherwise every
	// token is appended to the utterance.
	InterimRevisions bool

	// VAD classifies frames during capture. When nil, utterances end only by
	// inactivity timeout or StopCapture.
	VAD vad.Engine

	// WakeWord detects the trigger phrase. When nil, StartWakeListening
	// returns [capture.ErrWakeWordUnavailable].
	WakeWord     wakeword.Engine
	WakeKeywords []string

	// Consumer receives every utterance. Required.
	Consumer consumer.Consumer

	// Player plays audio responses. When nil, audio is ignored.
	Player audio.Player

	// SampleRate and FrameSize describe the capture format.
	SampleRate int
	FrameSize  int

	Tuning Tuning

	// DispatchTimeout bounds the flush dispatched in the background by
	// StopCapture. Defaults to [DefaultDispatchTimeout].
	DispatchTimeout time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Notify, if set, receives every [Notification]. It is called from the
	// event loop and from background dispatches and must not block.
	Notify func(Notification)
}

// Orchestrator is the session state machine. Create one with [New], start
// its loop with [Orchestrator.Run], and drive it with the command methods,
// which are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	metrics *observe.Metrics

	events  chan any
	done    chan struct{}
	started atomic.Bool
	state   atomic.Int32

	// Owned by the loop goroutine.
	ctx    context.Context
	tuning Tuning
	wake   *capture.WakeWordGate
	cur    *run
	epoch  uint64
	bg     sync.WaitGroup
}

// New validates cfg and returns an idle orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Consumer == nil {
		errs = append(errs, errors.New("consumer is required"))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if cfg.Backend == "" {
		cfg.Backend = audio.BackendAuto
	}
	if cfg.TranscriberName == "" {
		cfg.TranscriberName = "stt"
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.Transcription.Stream.SampleRate == 0 {
		cfg.Transcription.Stream.SampleRate = cfg.SampleRate
	}
	if cfg.Transcription.Stream.Channels == 0 {
		cfg.Transcription.Stream.Channels = 1
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		cfg:     cfg,
		metrics: m,
		events:  make(chan any, eventQueue),
		done:    make(chan struct{}),
		tuning:  cfg.Tuning.withDefaults(),
		wake: capture.NewWakeWordGate(cfg.WakeWord, wakeword.Config{
			Keywords:   cfg.WakeKeywords,
			SampleRate: cfg.SampleRate,
			FrameSize:  cfg.FrameSize,
		}),
	}
	cfg.Transcription.OnConnect = o.recordConnect
	cfg.Transcription.OnDrop = o.recordDrop
	o.cfg.Transcription = cfg.Transcription
	return o, nil
}

// State returns the current state. Safe to call from any goroutine.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Run processes events until ctx is cancelled, then releases every resource
// and waits for background dispatches. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("session: Run called more than once")
	}
	defer close(o.done)
	o.ctx = ctx

	slog.Info("session orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.teardown()
			o.setState(Idle)
			o.bg.Wait()
			slog.Info("session orchestrator stopped")
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// StartWakeListening opens the audio source and arms the wake-word gate.
// It returns once the source is open. Calling it while already listening is
// a no-op.
func (o *Orchestrator) StartWakeListening(ctx context.Context) error {
	return o.command(ctx, command{kind: cmdStartWake})
}

// StopWakeListening returns a listening orchestrator to Idle. During a
// wake-word session it cancels re-arming so the session ends in Idle.
func (o *Orchestrator) StopWakeListening(ctx context.Context) error {
	return o.command(ctx, command{kind: cmdStopWake})
}

// StartCapture begins a manual capture session for mode. It returns once the
// audio source and transcription stream are open, or with the error that
// prevented it.
func (o *Orchestrator) StartCapture(ctx context.Context, mode types.Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return o.command(ctx, command{kind: cmdStartCapture, mode: mode})
}

// StopCapture ends the session. A buffered partial utterance is flushed with
// reason sessionStopped and dispatched in the background. All resources are
// released before StopCapture returns.
func (o *Orchestrator) StopCapture(ctx context.Context) error {
	return o.command(ctx, command{kind: cmdStopCapture})
}

// UpdateTuning applies t. Threshold and timeout changes take effect on the
// active capture immediately.
func (o *Orchestrator) UpdateTuning(ctx context.Context, t Tuning) error {
	return o.command(ctx, command{kind: cmdTuning, tuning: t})
}

func (o *Orchestrator) command(ctx context.Context, c command) error {
	c.reply = make(chan error, 1)
	select {
	case o.events <- c:
	case <-o.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-o.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers ev to the loop unless ctx is done or the loop has exited.
func (o *Orchestrator) post(ctx context.Context, ev any) bool {
	select {
	case o.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) setState(to State) {
	from := State(o.state.Swap(int32(to)))
	if from == to {
		return
	}
	slog.Info("session state changed", "from", from, "to", to)
	o.metrics.RecordTransition(context.Background(), from.String(), to.String())
	n := Notification{Kind: NotifyState, State: to, Previous: &from}
	if o.cur != nil {
		n.SessionID = o.cur.sessionID
	}
	o.notify(n)
}

func (o *Orchestrator) notify(n Notification) {
	if o.cfg.Notify == nil {
		return
	}
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	if n.Kind != NotifyState {
		n.State = o.State()
	}
	o.cfg.Notify(n)
}

func (o *Orchestrator) notifyError(sessionID string, err error, u *types.Utterance) {
	slog.Warn("session error", "session_id", sessionID, "error", err)
	o.notify(Notification{Kind: NotifyError, SessionID: sessionID, Error: err.Error(), Utterance: u})
}

func (o *Orchestrator) recordConnect(latency time.Duration, err error) {
	ctx := context.Background()
	o.metrics.STTConnectDuration.Record(ctx, latency.Seconds(),
		metric.WithAttributes(observe.Attr("provider", o.cfg.TranscriberName)))
	status := "ok"
	if err != nil {
		status = "error"
		o.metrics.RecordProviderError(ctx, o.cfg.TranscriberName, "stt")
	}
	o.metrics.RecordProviderRequest(ctx, o.cfg.TranscriberName, "stt", status)
}

func (o *Orchestrator) recordDrop(reason string) {
	o.metrics.RecordDroppedChunk(context.Background(), reason)
}
