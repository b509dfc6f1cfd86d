// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio chunks and emits
// a single ordered stream of transcript tokens, interim and final
// interleaved in arrival order.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/voicefront/voicefront/pkg/types"
)

var (
	// ErrMalformedMessage is returned by provider decoders for an inbound
	// message that cannot be parsed. Sessions log and skip such messages.
	ErrMalformedMessage = errors.New("stt: malformed message")

	// ErrSessionClosed is returned by SendAudio after Close.
	ErrSessionClosed = errors.New("stt: session closed")

	// ErrBackpressure is returned by SendAudio when the outbound queue is
	// full. The chunk is dropped; SendAudio never blocks the capture pipeline.
	ErrBackpressure = errors.New("stt: send queue full")
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session. Zero values select the provider's defaults.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (8000 for the phone
	// pipeline).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string

	// Keywords is a list of vocabulary hints for uncommon words.
	Keywords []string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio queues a chunk of raw PCM audio for transcription. It never
	// blocks: a full queue returns [ErrBackpressure] and the chunk is dropped.
	// Returns [ErrSessionClosed] after Close or after the connection was lost.
	SendAudio(chunk []byte) error

	// Transcripts returns the ordered stream of tokens. Messages that carry no
	// transcript text produce no token. The channel is closed when the session
	// ends, either through Close or because the connection was lost.
	Transcripts() <-chan types.Transcript

	// Close sends the provider's termination message, releases the
	// connection, and closes the Transcripts channel. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. ctx bounds the
	// connection attempt only; the session lives until Close.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unreachable endpoint, or ctx cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
