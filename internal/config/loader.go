package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voicefront/voicefront/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if cfg.Providers.VAD.Name == "" {
		slog.Warn("providers.vad is not configured; utterances will end only on silence timeout or stop")
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_size must be positive, got %d", c.FrameSize))
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("capture.vad_threshold %.2f is out of range [0, 1]", c.VADThreshold))
	}
	if c.InactivityTimeout < 0 {
		errs = append(errs, fmt.Errorf("capture.inactivity_timeout must not be negative, got %s", c.InactivityTimeout))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("capture.connect_timeout must not be negative, got %s", c.ConnectTimeout))
	}
	if c.PreferredBackend != "" && !c.PreferredBackend.IsValid() {
		errs = append(errs, fmt.Errorf("capture.preferred_backend %q is invalid; valid values: auto, bluetooth, microphone", c.PreferredBackend))
	}
	if c.PreferredBackend == audio.BackendBluetooth && cfg.Providers.Bluetooth.Name == "" {
		errs = append(errs, errors.New("capture.preferred_backend bluetooth requires providers.bluetooth"))
	}
	if c.Microphone.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.microphone.frames_per_buffer must not be negative, got %d", c.Microphone.FramesPerBuffer))
	}
	if c.Bluetooth.HeaderBytes != nil && *c.Bluetooth.HeaderBytes < 0 {
		errs = append(errs, fmt.Errorf("capture.bluetooth.header_bytes must not be negative, got %d", *c.Bluetooth.HeaderBytes))
	}
	if c.Bluetooth.Codec != "" && !c.Bluetooth.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("capture.bluetooth.codec %q is invalid; valid values: pcm16, opus", c.Bluetooth.Codec))
	}

	// Wake word
	if cfg.Providers.WakeWord.Name != "" && len(c.WakeKeywords) == 0 {
		errs = append(errs, errors.New("capture.wake_keywords is required when providers.wake_word is configured"))
	}
	if c.RearmWakeWord && cfg.Providers.WakeWord.Name == "" {
		slog.Warn("capture.rearm_wake_word is set but providers.wake_word is not configured")
	}

	// Playback
	if cfg.Playback.Enabled && cfg.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate must be positive, got %d", cfg.Playback.SampleRate))
	}

	// Backend
	b := cfg.Backend
	if b.Responder != "" && !b.Responder.IsValid() {
		errs = append(errs, fmt.Errorf("backend.responder %q is invalid; valid values: chat, voice", b.Responder))
	}
	switch b.Responder {
	case ResponderChat:
		if b.ChatURL == "" {
			errs = append(errs, errors.New("backend.chat_url is required when backend.responder is chat"))
		}
	case ResponderVoice:
		if b.VoiceURL == "" {
			errs = append(errs, errors.New("backend.voice_url is required when backend.responder is voice"))
		}
	}
	for _, u := range []struct{ field, value string }{
		{"backend.chat_url", b.ChatURL},
		{"backend.voice_url", b.VoiceURL},
		{"backend.moments_url", b.MomentsURL},
	} {
		if err := validateURL(u.field, u.value); err != nil {
			errs = append(errs, err)
		}
	}
	if b.MomentsURL == "" {
		slog.Warn("backend.moments_url is empty; moment capture will be rejected")
	}
	if b.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout must not be negative, got %s", b.Timeout))
	}
	if b.Breaker.MaxFailures < 0 || b.Breaker.HalfOpenMax < 0 || b.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("backend.breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

func validateURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid URL: %w", field, value, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q must use http or https", field, value)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host", field, value)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
