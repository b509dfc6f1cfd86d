package capture_test

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/voicefront/voicefront/internal/capture"
	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/vad/mock"
)

func frameAt(i int) audio.Frame {
	return audio.Frame{Samples: make([]int16, 4), SampleRate: 8000, Timestamp: time.Duration(i) * time.Millisecond}
}

func TestVoiceActivityGate_Edges(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{Results: []float32{0, 0.05, 0.2, 0.9, 0.5, 0.09, 0, 0.1}}
	g := capture.NewVoiceActivityGate(cls, 0.1)

	var got []capture.VoiceActivityEvent
	for i := range len(cls.Results) {
		if ev, ok := g.Process(frameAt(i)); ok {
			got = append(got, ev)
		}
	}

	want := []capture.VoiceActivityEvent{
		{Kind: capture.VoiceStarted, Timestamp: 2 * time.Millisecond},
		{Kind: capture.VoiceEnded, Timestamp: 5 * time.Millisecond},
		{Kind: capture.VoiceStarted, Timestamp: 7 * time.Millisecond},
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestVoiceActivityGate_StrictAlternation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 5))
	cls := &mock.Classifier{ScoreFunc: func(audio.Frame) (float32, error) {
		if rng.IntN(10) == 0 {
			return 0, errors.New("model hiccup")
		}
		return rng.Float32(), nil
	}}
	g := capture.NewVoiceActivityGate(cls, 0.5)

	last := capture.VoiceEnded
	for i := range 10000 {
		ev, ok := g.Process(frameAt(i))
		if !ok {
			continue
		}
		if ev.Kind == last {
			t.Fatalf("frame %d: two consecutive %v events", i, ev.Kind)
		}
		last = ev.Kind
	}
}

func TestVoiceActivityGate_FailureIsSilence(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	cls := &mock.Classifier{
		Results: []float32{0.9, 0.9, 0.9},
		Errs:    []error{nil, boom, nil},
	}
	var failures []error
	g := capture.NewVoiceActivityGate(cls, 0.1, capture.WithFailureHook(func(err error) {
		failures = append(failures, err)
	}))

	kinds := []capture.VoiceActivityKind{}
	for i := range 3 {
		if ev, ok := g.Process(frameAt(i)); ok {
			kinds = append(kinds, ev.Kind)
		}
	}
	want := []capture.VoiceActivityKind{capture.VoiceStarted, capture.VoiceEnded, capture.VoiceStarted}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	if len(failures) != 1 || !errors.Is(failures[0], capture.ErrClassifierFailure) || !errors.Is(failures[0], boom) {
		t.Errorf("failures = %v", failures)
	}
}

func TestVoiceActivityGate_Threshold(t *testing.T) {
	t.Parallel()

	g := capture.NewVoiceActivityGate(&mock.Classifier{}, 0)
	if g.Threshold() != capture.DefaultVADThreshold {
		t.Errorf("threshold = %v, want default", g.Threshold())
	}
	g.SetThreshold(0.4)
	if g.Threshold() != 0.4 {
		t.Errorf("threshold = %v, want 0.4", g.Threshold())
	}
}
