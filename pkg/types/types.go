// Package types defines the shared types used across voicefront packages.
//
// These types form the lingua franca between the speech-to-text providers, the
// capture pipeline, the session orchestrator, and downstream consumers. Each
// package defines its own domain types; only cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"fmt"
	"time"
)

// Transcript is a single text fragment received from a streaming
// speech-to-text session. Transcripts are ordered relative to the session that
// produced them.
type Transcript struct {
	// Text is the transcribed speech content. Never empty when produced by a
	// provider decoder; messages without text produce no Transcript.
	Text string

	// IsFinal distinguishes authoritative results from low-latency interim ones.
	IsFinal bool

	// Confidence is the provider confidence score in [0, 1], zero if unknown.
	Confidence float64

	// Timestamp is the provider-reported start offset of the fragment relative
	// to stream start.
	Timestamp time.Duration

	// ReceivedAt is the wall-clock time the fragment arrived.
	ReceivedAt time.Time
}

// EndReason records why an utterance boundary fired.
type EndReason int

const (
	// EndSilenceTimeout means no transcript arrived for the inactivity window.
	EndSilenceTimeout EndReason = iota

	// EndVoiceActivityDrop means the voice activity gate saw voice end.
	EndVoiceActivityDrop

	// EndSessionStopped means the capture session was stopped explicitly.
	EndSessionStopped
)

// String returns the wire name of the end reason.
func (r EndReason) String() string {
	switch r {
	case EndSilenceTimeout:
		return "silenceTimeout"
	case EndVoiceActivityDrop:
		return "voiceActivityDrop"
	case EndSessionStopped:
		return "sessionStopped"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler so that end reasons render by
// name in JSON notifications.
func (r EndReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Mode selects the downstream consumer of a capture session.
type Mode string

const (
	// ModeChat sends utterances to the chat backend and plays its reply.
	ModeChat Mode = "chat"

	// ModeMoment records utterances as moments. Only reachable through a
	// manual capture start.
	ModeMoment Mode = "moment"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeChat || m == ModeMoment
}

// Utterance is one complete unit of user speech, bounded by silence or an
// explicit stop. It is created by the aggregator, consumed exactly once by a
// downstream consumer, and then discarded.
type Utterance struct {
	// SessionID identifies the capture session that produced the utterance.
	// Consecutive utterances of a continuous moment session share it.
	SessionID string `json:"sessionId"`

	// Mode is the consumer the utterance is destined for.
	Mode Mode `json:"mode"`

	// Text is the space-joined concatenation of the fragments since the last
	// boundary. Never empty.
	Text string `json:"text"`

	// StartedAt is when the first fragment of the utterance arrived.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is when the boundary fired.
	EndedAt time.Time `json:"endedAt"`

	// Reason is why the boundary fired.
	Reason EndReason `json:"reason"`
}

// Response is the payload a consumer returns for an utterance.
type Response struct {
	// Text is the textual reply. May be empty (e.g. moment recording).
	Text string

	// Audio is an optional synthesized reply, WAV or raw little-endian PCM16.
	Audio []byte
}
