// Package mock provides test doubles for the wakeword package interfaces.
//
// Detector fires on the frame index given by FireAt; everything else reports
// wakeword.NoMatch. Engine records the detectors it hands out so tests can
// assert that each one was released.
package mock

import (
	"sync"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/wakeword"
)

// Engine is a mock implementation of wakeword.Engine.
type Engine struct {
	mu sync.Mutex

	// NewDetectorErr, if non-nil, is returned by NewDetector.
	NewDetectorErr error

	// NewFunc, if set, builds each detector. Otherwise a default Detector that
	// never fires is returned.
	NewFunc func(cfg wakeword.Config) *Detector

	// Configs records the config of every NewDetector call.
	Configs []wakeword.Config

	// Detectors holds every detector handed out, in order.
	Detectors []*Detector
}

// NewDetector records the call and returns a new Detector.
func (e *Engine) NewDetector(cfg wakeword.Config) (wakeword.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewDetectorErr != nil {
		return nil, e.NewDetectorErr
	}
	d := &Detector{FireAt: -1}
	if e.NewFunc != nil {
		d = e.NewFunc(cfg)
	}
	e.Detectors = append(e.Detectors, d)
	return d, nil
}

// Allocated returns the number of detectors handed out.
func (e *Engine) Allocated() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Detectors)
}

// Live returns the number of detectors handed out and not yet released.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, d := range e.Detectors {
		if d.ReleaseCalls() == 0 {
			n++
		}
	}
	return n
}

var _ wakeword.Engine = (*Engine)(nil)

// Detector is a mock implementation of wakeword.Detector.
type Detector struct {
	mu sync.Mutex

	// FireAt is the zero-based Detect call index that reports Keyword. A
	// negative value never fires.
	FireAt int

	// Keyword is the index reported when the detector fires.
	Keyword int32

	// DetectErr, if non-nil, is returned by every Detect call.
	DetectErr error

	// Frames counts Detect calls.
	Frames int

	// ReleaseCallCount counts Release calls.
	ReleaseCallCount int
}

// Detect records the call and fires on the configured frame.
func (d *Detector) Detect(_ audio.Frame) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.Frames
	d.Frames++
	if d.DetectErr != nil {
		return wakeword.NoMatch, d.DetectErr
	}
	if d.FireAt >= 0 && i == d.FireAt {
		return d.Keyword, nil
	}
	return wakeword.NoMatch, nil
}

// Release records the call.
func (d *Detector) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReleaseCallCount++
	return nil
}

// ReleaseCalls returns how many times Release was called. Thread-safe.
func (d *Detector) ReleaseCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ReleaseCallCount
}

var _ wakeword.Detector = (*Detector)(nil)
