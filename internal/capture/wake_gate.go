package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/wakeword"
)

// WakeWordDetected is the one-shot activation emitted by a [WakeWordGate].
type WakeWordDetected struct {
	// Index is the position of the keyword in the configured list.
	Index int32

	// Keyword is the configured keyword at Index, or "" if out of range.
	Keyword string
}

// WakeWordGate scans frames for a trigger phrase. It holds at most one
// detector: Arm allocates it, and it is released either by [WakeWordGate.Disarm]
// or automatically on the first match, so a gate fires at most once per Arm.
//
// Detector errors are treated as no-match and logged once per arm.
//
// A WakeWordGate is not safe for concurrent use.
type WakeWordGate struct {
	engine wakeword.Engine
	cfg    wakeword.Config

	det      wakeword.Detector
	warnOnce *sync.Once
}

// NewWakeWordGate returns a disarmed gate. engine may be nil, in which case
// Arm returns [ErrWakeWordUnavailable].
func NewWakeWordGate(engine wakeword.Engine, cfg wakeword.Config) *WakeWordGate {
	return &WakeWordGate{engine: engine, cfg: cfg}
}

// Available reports whether an engine is configured.
func (g *WakeWordGate) Available() bool { return g.engine != nil }

// Armed reports whether a detector is currently allocated.
func (g *WakeWordGate) Armed() bool { return g.det != nil }

// Arm allocates the detector. Arming an armed gate is a no-op.
func (g *WakeWordGate) Arm() error {
	if g.det != nil {
		return nil
	}
	if g.engine == nil {
		return ErrWakeWordUnavailable
	}
	det, err := g.engine.NewDetector(g.cfg)
	if err != nil {
		return fmt.Errorf("capture: allocate wake-word detector: %w", err)
	}
	g.det = det
	g.warnOnce = new(sync.Once)
	slog.Debug("wake-word gate armed", "keywords", g.cfg.Keywords)
	return nil
}

// Process scans frame. On a match the detector is released and the gate is
// disarmed before the event is returned.
func (g *WakeWordGate) Process(frame audio.Frame) (WakeWordDetected, bool) {
	if g.det == nil {
		return WakeWordDetected{}, false
	}
	idx, err := g.det.Detect(frame)
	if err != nil {
		g.warnOnce.Do(func() {
			slog.Warn("wake-word detection failed, treating frame as no match", "err", fmt.Errorf("%w: %w", ErrClassifierFailure, err))
		})
		return WakeWordDetected{}, false
	}
	if idx < 0 {
		return WakeWordDetected{}, false
	}

	ev := WakeWordDetected{Index: idx}
	if int(idx) < len(g.cfg.Keywords) {
		ev.Keyword = g.cfg.Keywords[idx]
	}
	if err := g.Disarm(); err != nil {
		slog.Warn("wake-word detector release failed", "err", err)
	}
	return ev, true
}

// Disarm releases the detector. Disarming a disarmed gate is a no-op.
func (g *WakeWordGate) Disarm() error {
	det := g.det
	if det == nil {
		return nil
	}
	g.det = nil
	if err := det.Release(); err != nil {
		return fmt.Errorf("capture: release wake-word detector: %w", err)
	}
	slog.Debug("wake-word gate disarmed")
	return nil
}
