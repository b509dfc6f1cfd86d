// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (e.g., Silero VAD, WebRTC
// VAD, or the built-in energy classifier) and surfaces it as a stateful,
// per-stream [Classifier]. Each classifier maintains its own internal state
// (smoothing history, model hidden state) so that capture sessions never share
// detection state.
//
// Classification is synchronous: Classify returns immediately with a speech
// probability, making it suitable for the low-latency gate that drives
// utterance boundaries. Thresholding and edge detection are the caller's job.
//
// Implementations must be safe for concurrent use across different
// classifiers. A single Classifier should not be shared across goroutines.
package vad

import "github.com/voicefront/voicefront/pkg/audio"

// Config holds the parameters for a classifier.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Classify. Common values: 8000, 16000.
	SampleRate int

	// FrameSize is the number of samples per frame. Most VAD models accept a
	// fixed frame length (e.g., 512 samples for Silero at 16 kHz).
	FrameSize int
}

// Classifier scores individual frames for a single audio stream.
type Classifier interface {
	// Classify returns the probability in [0, 1] that frame contains speech.
	// Returns an error if the frame does not match the configured size or the
	// model fails; callers treat such frames as unvoiced.
	Classify(frame audio.Frame) (float32, error)

	// Close releases all resources. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for classifiers. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewClassifier creates a classifier for the given configuration.
	//
	// Returns an error if the configuration is unsupported or the engine
	// cannot allocate resources.
	NewClassifier(cfg Config) (Classifier, error)
}
