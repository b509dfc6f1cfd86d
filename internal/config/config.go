// Package config provides the configuration schema, loader, and provider registry
// for the voicefront capture service.
package config

import (
	"log/slog"
	"time"

	"github.com/voicefront/voicefront/pkg/audio"
)

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr        = ":8080"
	DefaultSampleRate        = 8000
	DefaultFrameSize         = 512
	DefaultVADThreshold      = 0.1
	DefaultInactivityTimeout = 5 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHeaderBytes       = 3
	DefaultFramesPerBuffer   = 2048
	DefaultBackendTimeout    = 30 * time.Second
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Responder selects the backend that answers chat-mode utterances.
type Responder string

const (
	// ResponderChat replies with streamed text from the chat endpoint.
	ResponderChat Responder = "chat"

	// ResponderVoice replies with synthesized audio from the voice endpoint.
	ResponderVoice Responder = "voice"
)

// IsValid reports whether r is a recognised responder.
func (r Responder) IsValid() bool {
	return r == ResponderChat || r == ResponderVoice
}

// Codec names the Bluetooth notification payload encoding.
type Codec string

const (
	CodecPCM16 Codec = "pcm16"
	CodecOpus  Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM16 || c == CodecOpus
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Backend   BackendConfig   `yaml:"backend"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// capability. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// STT is the primary streaming transcription provider. Required.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary cannot open a stream.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// VAD selects the voice-activity classifier. Optional.
	VAD ProviderEntry `yaml:"vad"`

	// WakeWord selects the wake-word engine. Optional; without it only
	// manual capture is available.
	WakeWord ProviderEntry `yaml:"wake_word"`

	// Bluetooth selects the host Bluetooth central. Optional; without it
	// only the microphone backend is available.
	Bluetooth ProviderEntry `yaml:"bluetooth"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig describes the capture pipeline.
type CaptureConfig struct {
	// SampleRate is the pipeline sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per classifier frame.
	FrameSize int `yaml:"frame_size"`

	// VADThreshold is the voiced probability threshold in [0, 1].
	// Hot-reloadable.
	VADThreshold float64 `yaml:"vad_threshold"`

	// InactivityTimeout ends an utterance after this long without a
	// transcript. Hot-reloadable.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// ConnectTimeout bounds one transcription connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Language is the BCP-47 recognition language passed to the STT provider.
	Language string `yaml:"language"`

	// PreferredBackend is auto, bluetooth or microphone.
	PreferredBackend audio.Backend `yaml:"preferred_backend"`

	// RearmWakeWord returns to wake-word listening after each response.
	// Hot-reloadable.
	RearmWakeWord bool `yaml:"rearm_wake_word"`

	// ContinuousMoments restarts moment capture after each dispatch.
	// Hot-reloadable.
	ContinuousMoments bool `yaml:"continuous_moments"`

	// WakeKeywords lists the trigger phrases in index order.
	WakeKeywords []string `yaml:"wake_keywords"`

	Microphone MicrophoneConfig `yaml:"microphone"`
	Bluetooth  BluetoothConfig  `yaml:"bluetooth"`
}

// MicrophoneConfig tunes the microphone backend.
type MicrophoneConfig struct {
	// FramesPerBuffer is the number of samples read per callback.
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// BluetoothConfig tunes the Bluetooth peripheral backend.
type BluetoothConfig struct {
	// HeaderBytes is the firmware header stripped from each notification.
	// Unset selects [DefaultHeaderBytes]; 0 disables stripping.
	HeaderBytes *int `yaml:"header_bytes"`

	// Codec is the notification payload encoding.
	Codec Codec `yaml:"codec"`
}

// PlaybackConfig configures response audio playback.
type PlaybackConfig struct {
	Enabled bool `yaml:"enabled"`

	// SampleRate is the output rate. Defaults to the capture sample rate.
	SampleRate int `yaml:"sample_rate"`
}

// BackendConfig configures the downstream HTTP consumers.
type BackendConfig struct {
	// ChatURL is the base URL of the chat service (POST /messages).
	ChatURL string `yaml:"chat_url"`

	// VoiceURL is the base URL of the voice service (POST /sam).
	VoiceURL string `yaml:"voice_url"`

	// MomentsURL is the base URL of the moments service (/moments).
	MomentsURL string `yaml:"moments_url"`

	// APIKey is sent as X-API-Key on every request.
	APIKey string `yaml:"api_key"`

	// UserID is sent as the userId header on every request.
	UserID string `yaml:"user_id"`

	// ChatID identifies the conversation on the chat service.
	ChatID string `yaml:"chat_id"`

	// Responder selects the chat-mode consumer. Defaults to chat.
	Responder Responder `yaml:"responder"`

	// Timeout bounds a single backend request.
	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker wrapped around each consumer and
// STT provider. Zero values select the breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// applyDefaults fills fields left empty with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Capture
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PreferredBackend == "" {
		c.PreferredBackend = audio.BackendAuto
	}
	if c.Microphone.FramesPerBuffer == 0 {
		c.Microphone.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if c.Bluetooth.HeaderBytes == nil {
		n := DefaultHeaderBytes
		c.Bluetooth.HeaderBytes = &n
	}
	if c.Bluetooth.Codec == "" {
		c.Bluetooth.Codec = CodecPCM16
	}

	if cfg.Playback.SampleRate == 0 {
		cfg.Playback.SampleRate = c.SampleRate
	}
	if cfg.Backend.Responder == "" {
		cfg.Backend.Responder = ResponderChat
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = DefaultBackendTimeout
	}
}
