// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that classifiers are created with the expected Config.
// Use Classifier to script probability responses and inspect the frames that
// were submitted.
//
// Example:
//
//	cls := &mock.Classifier{Results: []float32{0, 0.9, 0.9, 0}}
//	eng := &mock.Engine{Classifier: cls}
//	c, _ := eng.NewClassifier(cfg)
package mock

import (
	"sync"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/vad"
)

// NewClassifierCall records a single invocation of Engine.NewClassifier.
type NewClassifierCall struct {
	// Cfg is the Config passed to NewClassifier.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a new default
	// Classifier is returned.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned as the error from NewClassifier.
	NewClassifierErr error

	// NewClassifierCalls records every call to NewClassifier in order.
	NewClassifierCalls []NewClassifierCall
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewClassifierCalls = append(e.NewClassifierCalls, NewClassifierCall{Cfg: cfg})
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Results are returned in order, one per Classify call. Once exhausted,
	// Default is returned.
	Results []float32

	// Errs, when non-nil at index i, is returned as the error of the i-th call.
	Errs []error

	// Default is returned once Results are exhausted.
	Default float32

	// ScoreFunc, if set, overrides Results and Default.
	ScoreFunc func(audio.Frame) (float32, error)

	// --- Call records ---

	// Frames records every frame passed to Classify.
	Frames []audio.Frame

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Classify records the call and returns the next scripted result.
func (c *Classifier) Classify(frame audio.Frame) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.Frames)
	c.Frames = append(c.Frames, frame)
	if c.ScoreFunc != nil {
		return c.ScoreFunc(frame)
	}
	var err error
	if i < len(c.Errs) {
		err = c.Errs[i]
	}
	if i < len(c.Results) {
		return c.Results[i], err
	}
	return c.Default, err
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

// Calls returns how many frames were classified. Thread-safe.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
