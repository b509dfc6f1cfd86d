// Command voicefront is the main entry point for the voicefront capture service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicefront/voicefront/internal/app"
	"github.com/voicefront/voicefront/internal/config"
	"github.com/voicefront/voicefront/internal/observe"
	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/provider/stt/deepgram"
	"github.com/voicefront/voicefront/pkg/provider/vad"
	"github.com/voicefront/voicefront/pkg/provider/vad/energy"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicefront: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicefront: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voicefront starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicefront",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Application ───────────────────────────────────────────────────────────
	var application *app.App
	opts := []app.Option{app.WithLevelVar(level)}
	if *watch {
		w, err := config.NewWatcher(*configPath, func(next *config.Config, diff config.ConfigDiff) {
			application.ApplyConfig(ctx, next, diff)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err = app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// voicefront into reg. Wake-word engines and Bluetooth centrals are host
// specific and are registered by embedding programs.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithSampleRate(cfg.Capture.SampleRate),
			deepgram.WithEncoding("linear16"),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		lang := cfg.Capture.Language
		if l := optString(entry.Options, "language"); l != "" {
			lang = l
		}
		if lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if v, ok := entry.Options["interim_results"].(bool); ok {
			opts = append(opts, deepgram.WithInterimResults(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if g, ok := optFloat(entry.Options, "gain"); ok {
			opts = append(opts, energy.WithGain(g))
		}
		if h, ok := optFloat(entry.Options, "hangover"); ok {
			opts = append(opts, energy.WithHangover(int(h)))
		}
		return energy.New(opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers

	primary, err := reg.CreateSTT(p.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", p.STT.Name, err)
	}
	ps.STT = app.NamedSTT{Name: p.STT.Name, Provider: primary}
	slog.Info("provider created", "kind", "stt", "name", p.STT.Name)

	for i, entry := range p.STTFallbacks {
		fb, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err)
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedSTT{
			Name:     fmt.Sprintf("%s-fallback-%d", entry.Name, i),
			Provider: fb,
		})
		slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name)
	}

	if name := p.VAD.Name; name != "" {
		e, err := reg.CreateVAD(p.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = e
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	if name := p.WakeWord.Name; name != "" {
		e, err := reg.CreateWakeWord(p.WakeWord)
		if err != nil {
			return nil, fmt.Errorf("create wake_word provider %q: %w", name, err)
		}
		ps.WakeWord = e
		slog.Info("provider created", "kind", "wake_word", "name", name)
	}

	if name := p.Bluetooth.Name; name != "" {
		c, err := reg.CreateBluetooth(p.Bluetooth)
		if err != nil {
			return nil, fmt.Errorf("create bluetooth provider %q: %w", name, err)
		}
		ps.Bluetooth = c
		slog.Info("provider created", "kind", "bluetooth", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicefront startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Providers.STTFallbacks))
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Wake word", cfg.Providers.WakeWord.Name, "")
	printProvider("Bluetooth", cfg.Providers.Bluetooth.Name, "")
	printProvider("Backend", string(cfg.Capture.PreferredBackend), "")
	printProvider("Responder", string(cfg.Backend.Responder), "")
	fmt.Printf("║  %-12s    : %-19d ║\n", "Sample rate", cfg.Capture.SampleRate)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric value from a provider Options map. YAML
// integers decode as int, decimals as float64.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
