// Package wakeword defines the Engine interface for wake-word detection
// backends (e.g., Porcupine, openWakeWord).
//
// An engine allocates a [Detector] for a fixed keyword list. Detectors hold
// native resources (model buffers, DSP state) and must be released with
// [Detector.Release] once scanning stops. The capture pipeline allocates at
// most one detector at a time and releases it as soon as a keyword fires.
package wakeword

import "github.com/voicefront/voicefront/pkg/audio"

// NoMatch is the keyword index reported when a frame contains no keyword.
const NoMatch int32 = -1

// Config holds the parameters for a detector.
type Config struct {
	// Keywords lists the trigger phrases or model identifiers in index order.
	Keywords []string

	// SampleRate is the rate of the frames passed to Detect.
	SampleRate int

	// FrameSize is the number of samples per frame.
	FrameSize int
}

// Detector scans frames for one of the configured keywords.
//
// A Detector should not be shared across goroutines.
type Detector interface {
	// Detect returns the index into Config.Keywords of the keyword that ended
	// in frame, or [NoMatch].
	Detect(frame audio.Frame) (int32, error)

	// Release frees the detector's resources. Calling Release more than once
	// is safe and returns nil.
	Release() error
}

// Engine allocates detectors.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewDetector allocates a detector for cfg. Returns an error when the
	// keyword list is empty or a model cannot be loaded.
	NewDetector(cfg Config) (Detector, error)
}
