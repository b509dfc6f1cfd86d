// Package app wires the voicefront subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the audio source,
// consumers, orchestrator and HTTP surface, Run serves until the context is
// cancelled, and Shutdown releases devices in order.
//
// For testing, inject doubles via functional options (WithMicrophone,
// WithPlayer, WithConsumer, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicefront/voicefront/internal/capture"
	"github.com/voicefront/voicefront/internal/config"
	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/internal/consumer/chat"
	"github.com/voicefront/voicefront/internal/consumer/moments"
	"github.com/voicefront/voicefront/internal/consumer/voice"
	"github.com/voicefront/voicefront/internal/health"
	"github.com/voicefront/voicefront/internal/observe"
	"github.com/voicefront/voicefront/internal/resilience"
	"github.com/voicefront/voicefront/internal/session"
	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/audio/ble"
	"github.com/voicefront/voicefront/pkg/audio/portaudio"
	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/provider/vad"
	"github.com/voicefront/voicefront/pkg/provider/wakeword"
	"github.com/voicefront/voicefront/pkg/types"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 5 * time.Second

// NamedSTT is an STT provider together with the name it is reported under.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT          NamedSTT
	STTFallbacks []NamedSTT
	VAD          vad.Engine
	WakeWord     wakeword.Engine
	Bluetooth    ble.Central
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	level      *slog.LevelVar
	microphone audio.Device
	bluetooth  audio.Device
	player     audio.Player
	consumer   consumer.Consumer
	watcher    *config.Watcher
	listener   net.Listener

	source    *audio.Source
	stt       *resilience.STTFallback
	backends  []*resilience.ConsumerFallback
	orch      *session.Orchestrator
	hub       *Hub
	handler   http.Handler
	portaudio bool

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMicrophone injects the microphone device instead of opening PortAudio.
func WithMicrophone(d audio.Device) Option {
	return func(a *App) { a.microphone = d }
}

// WithBluetoothDevice injects the Bluetooth device instead of building one
// over Providers.Bluetooth.
func WithBluetoothDevice(d audio.Device) Option {
	return func(a *App) { a.bluetooth = d }
}

// WithPlayer injects the response player instead of opening PortAudio.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithConsumer injects the utterance consumer instead of building the HTTP
// backends from config.
func WithConsumer(c consumer.Consumer) Option {
	return func(a *App) { a.consumer = c }
}

// WithWatcher runs w alongside the server. Its callback should forward to
// [App.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves the HTTP API on ln instead of cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT.Provider == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	a.initTranscription()
	if err := a.initConsumers(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init consumers: %w", err)
	}
	if err := a.initOrchestrator(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.handler = a.routes()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAudio() error {
	c := a.cfg.Capture

	needPortAudio := a.microphone == nil || (a.cfg.Playback.Enabled && a.player == nil)
	if needPortAudio {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
		a.portaudio = true
	}

	if a.microphone == nil {
		a.microphone = portaudio.NewMicrophone(
			portaudio.WithSampleRate(c.SampleRate),
			portaudio.WithFramesPerBuffer(c.Microphone.FramesPerBuffer),
		)
	}

	if a.bluetooth == nil && a.providers.Bluetooth != nil {
		opts := []ble.Option{
			ble.WithCodec(ble.Codec(c.Bluetooth.Codec)),
			ble.WithSampleRate(c.SampleRate),
			ble.WithDropHook(func() {
				a.metrics.RecordDroppedChunk(context.Background(), "bluetooth_overflow")
			}),
		}
		if c.Bluetooth.HeaderBytes != nil {
			opts = append(opts, ble.WithHeaderBytes(*c.Bluetooth.HeaderBytes))
		}
		d, err := ble.New(a.providers.Bluetooth, opts...)
		if err != nil {
			if a.portaudio {
				_ = portaudio.Terminate()
			}
			return err
		}
		a.bluetooth = d
	}

	if a.player == nil && a.cfg.Playback.Enabled {
		a.player = portaudio.NewPlayer(a.cfg.Playback.SampleRate)
	}

	a.source = audio.NewSource(a.bluetooth, a.microphone)
	a.closers = append(a.closers, a.source.Close)
	if a.portaudio {
		a.closers = append(a.closers, portaudio.Terminate)
	}
	return nil
}

func (a *App) breakerConfig() resilience.FallbackConfig {
	b := a.cfg.Backend.Breaker
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  b.MaxFailures,
			ResetTimeout: b.ResetTimeout,
			HalfOpenMax:  b.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
			},
		},
	}
}

func (a *App) initTranscription() {
	p := a.providers
	name := p.STT.Name
	if name == "" {
		name = a.cfg.Providers.STT.Name
	}
	a.stt = resilience.NewSTTFallback(p.STT.Provider, name, a.breakerConfig())
	for _, fb := range p.STTFallbacks {
		a.stt.AddFallback(fb.Name, fb.Provider)
		slog.Info("stt fallback registered", "name", fb.Name)
	}
}

func (a *App) initConsumers() error {
	if a.consumer != nil {
		return nil
	}
	b := a.cfg.Backend
	clientOpts := []consumer.ClientOption{
		consumer.WithAPIKey(b.APIKey),
		consumer.WithUserID(b.UserID),
		consumer.WithTimeout(b.Timeout),
	}
	router := consumer.Router{}

	var chatConsumer consumer.Consumer
	switch b.Responder {
	case config.ResponderVoice:
		client, err := consumer.NewClient(b.VoiceURL, clientOpts...)
		if err != nil {
			return err
		}
		c, err := voice.New(client)
		if err != nil {
			return err
		}
		chatConsumer = c
	default:
		client, err := consumer.NewClient(b.ChatURL, clientOpts...)
		if err != nil {
			return err
		}
		c, err := chat.New(client, chat.WithChatID(b.ChatID))
		if err != nil {
			return err
		}
		chatConsumer = c
	}
	router[types.ModeChat] = a.guard(chatConsumer, string(b.Responder))

	if b.MomentsURL != "" {
		client, err := consumer.NewClient(b.MomentsURL, clientOpts...)
		if err != nil {
			return err
		}
		c, err := moments.New(client)
		if err != nil {
			return err
		}
		router[types.ModeMoment] = a.guard(c, "moments")
	}

	a.consumer = router
	return nil
}

// guard wraps c in a circuit breaker and records it for readiness checks.
func (a *App) guard(c consumer.Consumer, name string) consumer.Consumer {
	f := resilience.NewConsumerFallback(c, name, a.breakerConfig())
	a.backends = append(a.backends, f)
	return f
}

func (a *App) initOrchestrator() error {
	a.hub = NewHub()
	c := a.cfg.Capture
	orch, err := session.New(session.Config{
		Source:          a.source,
		Backend:         c.PreferredBackend,
		Transcriber:     a.stt,
		TranscriberName: a.cfg.Providers.STT.Name,
		Transcription: capture.TranscriptionConfig{
			Stream:         stt.StreamConfig{Language: c.Language},
			ConnectTimeout: c.ConnectTimeout,
		},
		InterimRevisions: interimResults(a.cfg.Providers.STT),
		VAD:              a.providers.VAD,
		WakeWord:         a.providers.WakeWord,
		WakeKeywords:     c.WakeKeywords,
		Consumer:         a.consumer,
		Player:           a.player,
		SampleRate:       c.SampleRate,
		FrameSize:        c.FrameSize,
		Tuning:           tuningFrom(c),
		Metrics:          a.metrics,
		Notify:           a.hub.Publish,
	})
	if err != nil {
		return err
	}
	a.orch = orch
	a.hub.state = orch.State
	return nil
}

// interimResults reports whether the STT entry requests interim results,
// which arrive as cumulative revisions.
func interimResults(e config.ProviderEntry) bool {
	on, _ := e.Options["interim_results"].(bool)
	return on
}

func tuningFrom(c config.CaptureConfig) session.Tuning {
	return session.Tuning{
		VADThreshold:      float32(c.VADThreshold),
		InactivityTimeout: c.InactivityTimeout,
		RearmWakeWord:     c.RearmWakeWord,
		ContinuousMoments: c.ContinuousMoments,
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.registerAPI(mux)
	mux.Handle("GET /v1/events", a.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.readinessChecks(), health.WithState(func() string {
		return a.orch.State().String()
	})).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) readinessChecks() []health.Checker {
	return []health.Checker{
		{Name: "audio_source", Check: func(ctx context.Context) error {
			for _, d := range []audio.Device{a.bluetooth, a.microphone} {
				if d == nil {
					continue
				}
				if ok, err := d.Available(ctx); err == nil && ok {
					return nil
				}
			}
			return audio.ErrNoDeviceAvailable
		}},
		{Name: "transcription", Check: func(context.Context) error {
			if !a.stt.Group().Healthy() {
				return resilience.ErrCircuitOpen
			}
			return nil
		}},
		{Name: "backend", Check: func(context.Context) error {
			for _, b := range a.backends {
				if !b.Group().Healthy() {
					return resilience.ErrCircuitOpen
				}
			}
			return nil
		}},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the control API, event feed,
// health probes and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the orchestrator loop, the HTTP server and, if configured, the
// config watcher, and blocks until ctx is cancelled or one of them fails.
// A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		err := a.serve(srv)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "backend", a.cfg.Capture.PreferredBackend)
	return g.Wait()
}

func (a *App) serve(srv *http.Server) error {
	tls := a.cfg.Server.TLS
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", srv.Addr, err)
		}
	}
	if tls != nil {
		return srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	}
	return srv.Serve(ln)
}

// ApplyConfig applies the hot-reloadable parts of cfg described by diff.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.TuningChanged {
		if err := a.orch.UpdateTuning(ctx, tuningFrom(cfg.Capture)); err != nil {
			slog.Warn("failed to apply capture tuning", "err", err)
		} else {
			slog.Info("capture tuning updated",
				"vad_threshold", cfg.Capture.VADThreshold,
				"inactivity_timeout", cfg.Capture.InactivityTimeout,
				"rearm_wake_word", cfg.Capture.RearmWakeWord,
				"continuous_moments", cfg.Capture.ContinuousMoments,
			)
		}
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases devices in init order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.hub.Close()
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
