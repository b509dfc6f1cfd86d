package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/vad"
)

// DefaultVADThreshold is the speech probability at or above which a frame
// counts as voiced.
const DefaultVADThreshold float32 = 0.1

// VoiceActivityKind distinguishes the two voice-activity edges.
type VoiceActivityKind int

const (
	// VoiceStarted fires on an unvoiced → voiced transition.
	VoiceStarted VoiceActivityKind = iota + 1

	// VoiceEnded fires on a voiced → unvoiced transition.
	VoiceEnded
)

// String returns the event name.
func (k VoiceActivityKind) String() string {
	switch k {
	case VoiceStarted:
		return "voiceStarted"
	case VoiceEnded:
		return "voiceEnded"
	default:
		return fmt.Sprintf("VoiceActivityKind(%d)", int(k))
	}
}

// VoiceActivityEvent is one edge emitted by a [VoiceActivityGate].
type VoiceActivityEvent struct {
	Kind VoiceActivityKind

	// Timestamp is the stream offset of the frame that caused the edge.
	Timestamp time.Duration
}

// VoiceActivityGate thresholds per-frame classifier scores and emits
// edge-triggered events. Events strictly alternate: VoiceStarted, VoiceEnded,
// VoiceStarted, and so on, beginning from the unvoiced state.
//
// A classifier error on one frame is treated as unvoiced for that frame. The
// first failure of a gate is logged at warn level; every failure is reported
// to the optional failure hook.
//
// A VoiceActivityGate is not safe for concurrent use.
type VoiceActivityGate struct {
	classifier vad.Classifier
	threshold  float32
	voiced     bool
	onFailure  func(error)
	warnOnce   sync.Once
}

// GateOption configures a [VoiceActivityGate].
type GateOption func(*VoiceActivityGate)

// WithFailureHook registers fn to be called for every failed classification.
// The error passed to fn wraps [ErrClassifierFailure].
func WithFailureHook(fn func(error)) GateOption {
	return func(g *VoiceActivityGate) { g.onFailure = fn }
}

// NewVoiceActivityGate returns a gate over classifier. A threshold outside
// (0, 1] selects [DefaultVADThreshold].
func NewVoiceActivityGate(classifier vad.Classifier, threshold float32, opts ...GateOption) *VoiceActivityGate {
	g := &VoiceActivityGate{classifier: classifier}
	g.SetThreshold(threshold)
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetThreshold changes the voiced threshold. Takes effect on the next frame.
func (g *VoiceActivityGate) SetThreshold(threshold float32) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultVADThreshold
	}
	g.threshold = threshold
}

// Threshold returns the current voiced threshold.
func (g *VoiceActivityGate) Threshold() float32 { return g.threshold }

// Voiced reports whether the last processed frame was voiced.
func (g *VoiceActivityGate) Voiced() bool { return g.voiced }

// Process classifies frame and returns the edge it caused, if any.
func (g *VoiceActivityGate) Process(frame audio.Frame) (VoiceActivityEvent, bool) {
	p, err := g.classifier.Classify(frame)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrClassifierFailure, err)
		g.warnOnce.Do(func() {
			slog.Warn("voice activity classification failed, treating frame as silence", "err", err)
		})
		if g.onFailure != nil {
			g.onFailure(err)
		}
		p = 0
	}

	voiced := p >= g.threshold
	if voiced == g.voiced {
		return VoiceActivityEvent{}, false
	}
	g.voiced = voiced
	kind := VoiceEnded
	if voiced {
		kind = VoiceStarted
	}
	return VoiceActivityEvent{Kind: kind, Timestamp: frame.Timestamp}, true
}

// Reset returns the gate to the unvoiced state without emitting an event.
func (g *VoiceActivityGate) Reset() { g.voiced = false }

// Close releases the classifier.
func (g *VoiceActivityGate) Close() error {
	if err := g.classifier.Close(); err != nil {
		return fmt.Errorf("capture: close classifier: %w", err)
	}
	return nil
}
