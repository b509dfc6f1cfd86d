package capture

import (
	"strings"
	"time"

	"github.com/voicefront/voicefront/pkg/types"
)

// DefaultInactivityTimeout is how long the aggregator waits for another token
// before closing an utterance.
const DefaultInactivityTimeout = 5 * time.Second

// AggregatorState is the buffer state of an [Aggregator].
type AggregatorState int

const (
	// AggregatorEmpty holds no text.
	AggregatorEmpty AggregatorState = iota

	// AggregatorAccumulating holds text awaiting a boundary.
	AggregatorAccumulating
)

// String returns the state name.
func (s AggregatorState) String() string {
	if s == AggregatorAccumulating {
		return "accumulating"
	}
	return "empty"
}

// Aggregator segments transcript tokens into utterances. It is a pure state
// machine over tokens, voice-activity edges, inactivity-timer expiry and an
// explicit stop; the caller supplies wall-clock times and owns the actual
// timer, re-arming it for [Aggregator.Deadline] whenever a token reports that
// the timer was reset.
//
// Every non-empty token is appended in arrival order, space-joined. A
// provider whose interim tokens are cumulative revisions of the same words
// should be paired with [WithInterimRevisions]; an interim token then
// replaces the previous interim one and is folded into the text only if the
// boundary fires before a final token supersedes it.
//
// After an utterance is emitted the aggregator ignores tokens until
// [Aggregator.Ack] is called, so at most one utterance is in flight.
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	timeout   time.Duration
	revisions bool

	finals    []string
	partial   string
	startedAt time.Time
	deadline  time.Time
	inFlight  bool
}

// AggregatorOption configures an [Aggregator].
type AggregatorOption func(*Aggregator)

// WithInterimRevisions treats each interim token as a revision of the
// previous interim one instead of new text.
func WithInterimRevisions() AggregatorOption {
	return func(a *Aggregator) { a.revisions = true }
}

// NewAggregator returns an empty aggregator. A non-positive timeout selects
// [DefaultInactivityTimeout].
func NewAggregator(timeout time.Duration, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{}
	a.SetTimeout(timeout)
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetTimeout changes the inactivity window. Takes effect on the next token.
func (a *Aggregator) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	a.timeout = timeout
}

// Timeout returns the inactivity window.
func (a *Aggregator) Timeout() time.Duration { return a.timeout }

// State returns the buffer state.
func (a *Aggregator) State() AggregatorState {
	if len(a.finals) == 0 && a.partial == "" {
		return AggregatorEmpty
	}
	return AggregatorAccumulating
}

// InFlight reports whether an emitted utterance awaits [Aggregator.Ack].
func (a *Aggregator) InFlight() bool { return a.inFlight }

// Deadline returns when the inactivity timer should fire, or the zero time
// when no timer is needed.
func (a *Aggregator) Deadline() time.Time { return a.deadline }

// Text returns the text that a boundary would emit now.
func (a *Aggregator) Text() string {
	parts := a.finals
	if a.partial != "" {
		parts = append(parts[:len(parts):len(parts)], a.partial)
	}
	return strings.Join(parts, " ")
}

// Token applies t received at now. It reports whether the inactivity timer
// was reset; the caller then re-arms its timer for [Aggregator.Deadline].
func (a *Aggregator) Token(t types.Transcript, now time.Time) bool {
	if a.inFlight {
		return false
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		if a.State() == AggregatorEmpty {
			return false
		}
		a.deadline = now.Add(a.timeout)
		return true
	}

	if a.State() == AggregatorEmpty {
		a.startedAt = now
	}
	if t.IsFinal || !a.revisions {
		a.finals = append(a.finals, text)
		a.partial = ""
	} else {
		a.partial = text
	}
	a.deadline = now.Add(a.timeout)
	return true
}

// VoiceEnded applies a voice-activity drop at now.
func (a *Aggregator) VoiceEnded(now time.Time) (types.Utterance, bool) {
	return a.emit(now, types.EndVoiceActivityDrop)
}

// TimerExpired applies an inactivity-timer expiry observed at now. A timer
// that fires before the current deadline is stale and ignored.
func (a *Aggregator) TimerExpired(now time.Time) (types.Utterance, bool) {
	if a.deadline.IsZero() || now.Before(a.deadline) {
		return types.Utterance{}, false
	}
	return a.emit(now, types.EndSilenceTimeout)
}

// Stop flushes any buffered text as a sessionStopped utterance.
func (a *Aggregator) Stop(now time.Time) (types.Utterance, bool) {
	return a.emit(now, types.EndSessionStopped)
}

// Ack acknowledges the in-flight utterance and re-enables accumulation.
func (a *Aggregator) Ack() { a.inFlight = false }

// Reset discards all buffered text and any in-flight marker.
func (a *Aggregator) Reset() {
	a.finals = nil
	a.partial = ""
	a.startedAt = time.Time{}
	a.deadline = time.Time{}
	a.inFlight = false
}

func (a *Aggregator) emit(now time.Time, reason types.EndReason) (types.Utterance, bool) {
	if a.inFlight || a.State() == AggregatorEmpty {
		return types.Utterance{}, false
	}
	text := a.Text()
	if text == "" {
		return types.Utterance{}, false
	}
	u := types.Utterance{
		Text:      text,
		StartedAt: a.startedAt,
		EndedAt:   now,
		Reason:    reason,
	}
	a.finals = nil
	a.partial = ""
	a.startedAt = time.Time{}
	a.deadline = time.Time{}
	a.inFlight = true
	return u, true
}
