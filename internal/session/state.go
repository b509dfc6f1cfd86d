// Package session implements the orchestrator that drives a voice session
// from wake-word listening or a manual start, through capture and
// transcription, to consumer dispatch and response playback.
//
// All session state is owned by a single event loop ([Orchestrator.Run]).
// Audio chunks, transcripts, timer expirations, completed opens, consumer
// replies and user commands are posted to the loop as typed events and
// handled one at a time. Events from a superseded session or capture stage
// carry a stale epoch and are discarded, so late callbacks never act on the
// current session.
package session

import (
	"errors"
	"time"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/types"
)

// State is the top-level session state.
type State int32

const (
	// Idle holds no resources.
	Idle State = iota

	// ListeningForWakeWord holds an open audio source and an armed wake-word
	// detector.
	ListeningForWakeWord

	// Capturing holds an open audio source and transcription stream.
	Capturing

	// AwaitingResponse holds no audio resources; an utterance is with the
	// consumer.
	AwaitingResponse

	// PlayingResponse is playing the consumer's audio reply.
	PlayingResponse
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ListeningForWakeWord:
		return "listeningForWakeWord"
	case Capturing:
		return "capturing"
	case AwaitingResponse:
		return "awaitingResponse"
	case PlayingResponse:
		return "playingResponse"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	// ErrAlreadyOpen is returned by StartCapture while a capture is active.
	ErrAlreadyOpen = audio.ErrAlreadyOpen

	// ErrInvalidTransition is returned when a command is not valid in the
	// current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrInvalidMode is returned by StartCapture for an unknown mode.
	ErrInvalidMode = errors.New("session: invalid capture mode")

	// ErrConsumerDispatchFailed wraps consumer errors reported through
	// [Notification].
	ErrConsumerDispatchFailed = errors.New("session: consumer dispatch failed")

	// ErrPlaybackFailed wraps playback and decode errors reported through
	// [Notification].
	ErrPlaybackFailed = errors.New("session: playback failed")

	// ErrSourceLost is reported when the audio stream ends while the
	// session still needs it.
	ErrSourceLost = errors.New("session: audio source ended")

	// ErrNotRunning is returned by commands when the event loop is not
	// running.
	ErrNotRunning = errors.New("session: orchestrator not running")

	// ErrStopped is returned to a start command whose session was torn down
	// before its resources finished opening.
	ErrStopped = errors.New("session: stopped before ready")
)

// NotificationKind classifies a [Notification].
type NotificationKind string

const (
	NotifyState     NotificationKind = "state"
	NotifyWakeWord  NotificationKind = "wakeWord"
	NotifyUtterance NotificationKind = "utterance"
	NotifyResponse  NotificationKind = "response"
	NotifyError     NotificationKind = "error"
)

// Notification is an upward report of session activity: state changes,
// completed utterances, consumer responses and session-scoped errors.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Time      time.Time        `json:"time"`
	SessionID string           `json:"sessionId,omitempty"`

	// State is the current state; Previous is set on state notifications.
	State    State  `json:"state"`
	Previous *State `json:"previous,omitempty"`

	// Keyword is the wake word that fired.
	Keyword string `json:"keyword,omitempty"`

	// Utterance is the dispatched utterance, or the partial utterance
	// flushed by a failed session.
	Utterance *types.Utterance `json:"utterance,omitempty"`

	// Text and HasAudio describe a consumer response.
	Text     string `json:"text,omitempty"`
	HasAudio bool   `json:"hasAudio,omitempty"`

	Error string `json:"error,omitempty"`
}
