// Package energy implements a pure-Go [vad.Engine] that scores frames by their
// RMS energy. It needs no model files and is the default VAD backend.
//
// The probability reported for a frame is the normalised RMS level multiplied
// by a gain and clamped to [0, 1]. After a voiced frame, the score is held for
// a configurable number of hangover frames so that short pauses between words
// do not end the voiced region.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/vad"
)

const (
	// DefaultGain maps an RMS of 1% full scale to a probability of 0.1.
	DefaultGain = 10.0

	// DefaultHangover is the number of frames a voiced score is held.
	DefaultHangover = 6
)

// Option configures an [Engine].
type Option func(*Engine)

// WithGain sets the multiplier applied to the normalised RMS level.
func WithGain(g float64) Option {
	return func(e *Engine) { e.gain = g }
}

// WithHangover sets how many frames a voiced score is held after the level
// drops. Zero disables smoothing.
func WithHangover(frames int) Option {
	return func(e *Engine) { e.hangover = frames }
}

// Engine creates energy classifiers.
type Engine struct {
	gain     float64
	hangover int
}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy VAD engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{gain: DefaultGain, hangover: DefaultHangover}
	for _, o := range opts {
		o(e)
	}
	if e.gain <= 0 {
		return nil, fmt.Errorf("energy: gain must be > 0, got %v", e.gain)
	}
	if e.hangover < 0 {
		return nil, fmt.Errorf("energy: hangover must be >= 0, got %d", e.hangover)
	}
	return e, nil
}

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("energy: frame size must be > 0, got %d", cfg.FrameSize)
	}
	return &classifier{frameSize: cfg.FrameSize, gain: e.gain, hangover: e.hangover}, nil
}

// ErrClosed is returned by Classify after Close.
var ErrClosed = errors.New("energy: classifier closed")

type classifier struct {
	frameSize int
	gain      float64
	hangover  int

	mu     sync.Mutex
	held   float32
	remain int
	closed bool
}

func (c *classifier) Classify(frame audio.Frame) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if len(frame.Samples) != c.frameSize {
		return 0, fmt.Errorf("energy: frame has %d samples, want %d", len(frame.Samples), c.frameSize)
	}

	p := float32(math.Min(1, rms(frame.Samples)*c.gain))
	if p >= c.held || c.remain == 0 {
		c.held = p
		c.remain = c.hangover
		return p, nil
	}
	c.remain--
	return c.held, nil
}

func (c *classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// rms returns the root-mean-square level of samples normalised to [0, 1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
