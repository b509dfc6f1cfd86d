// Package capture holds the per-session building blocks of the voice
// pipeline: the voice activity gate, the wake-word gate, the transcription
// session, and the utterance aggregator.
//
// None of these types start goroutines of their own or own a notion of
// session state. The session orchestrator drives them from its single event
// loop and is responsible for pairing every open with a close.
package capture

import "errors"

var (
	// ErrConnectionFailed wraps a single failed attempt to open the
	// transcription stream (including a connect timeout).
	ErrConnectionFailed = errors.New("capture: transcription connection failed")

	// ErrTranscriptionUnavailable is returned by [TranscriptionSession.Open]
	// after the retry budget is exhausted.
	ErrTranscriptionUnavailable = errors.New("capture: transcription unavailable")

	// ErrClassifierFailure marks a frame whose voice-activity or wake-word
	// classification failed. It is logged and counted, never returned.
	ErrClassifierFailure = errors.New("capture: classifier failure")

	// ErrStreamBusy is returned by [TranscriptionSession.Open] when a stream
	// is already opening or open.
	ErrStreamBusy = errors.New("capture: transcription stream already open")

	// ErrWakeWordUnavailable is returned by [WakeWordGate.Arm] when no
	// wake-word engine is configured.
	ErrWakeWordUnavailable = errors.New("capture: no wake-word engine configured")
)
