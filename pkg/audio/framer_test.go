package audio_test

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/voicefront/voicefront/pkg/audio"
)

func TestFramer_NoLoss(t *testing.T) {
	t.Parallel()

	const frameSize = 512
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := range 50 {
		input := make([]byte, rng.IntN(20000))
		for i := range input {
			input[i] = byte(rng.IntN(256))
		}

		f := audio.NewFramer(frameSize, 8000)
		var out bytes.Buffer
		for rest := input; len(rest) > 0; {
			n := min(len(rest), rng.IntN(3000)+1)
			for _, fr := range f.Push(rest[:n]) {
				if len(fr.Samples) != frameSize {
					t.Fatalf("trial %d: frame has %d samples, want %d", trial, len(fr.Samples), frameSize)
				}
				out.Write(fr.Bytes())
			}
			rest = rest[n:]
		}

		frameBytes := frameSize * 2
		wantLen := len(input) / frameBytes * frameBytes
		if !bytes.Equal(out.Bytes(), input[:wantLen]) {
			t.Fatalf("trial %d: emitted bytes differ from input prefix (got %d bytes, want %d)", trial, out.Len(), wantLen)
		}
		if f.Pending() != len(input)-wantLen {
			t.Fatalf("trial %d: pending = %d, want %d", trial, f.Pending(), len(input)-wantLen)
		}
	}
}

func TestFramer_OddByteCarry(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(2, 8000)
	// Samples 1, 2 split so the second sample straddles two pushes.
	if got := f.Push([]byte{0x01, 0x00, 0x02}); got != nil {
		t.Fatalf("expected no frame yet, got %d", len(got))
	}
	got := f.Push([]byte{0x00})
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if got[0].Samples[0] != 1 || got[0].Samples[1] != 2 {
		t.Errorf("samples = %v, want [1 2]", got[0].Samples)
	}
	if f.Pending() != 0 {
		t.Errorf("pending = %d, want 0", f.Pending())
	}
}

func TestFramer_Timestamps(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(4, 8000)
	frames := f.Push(make([]byte, 4*2*3))
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	step := 4 * time.Second / 8000
	for i, fr := range frames {
		if want := time.Duration(i) * step; fr.Timestamp != want {
			t.Errorf("frame %d timestamp = %v, want %v", i, fr.Timestamp, want)
		}
		if fr.Duration() != step {
			t.Errorf("frame %d duration = %v, want %v", i, fr.Duration(), step)
		}
	}

	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("pending after reset = %d", f.Pending())
	}
	if fr := f.Push(make([]byte, 8)); len(fr) != 1 || fr[0].Timestamp != 0 {
		t.Errorf("expected timestamp restart after reset, got %+v", fr)
	}
}

func TestFramer_DefaultFrameSize(t *testing.T) {
	t.Parallel()

	if got := audio.NewFramer(0, 8000).FrameSize(); got != audio.DefaultFrameSize {
		t.Errorf("FrameSize() = %d, want %d", got, audio.DefaultFrameSize)
	}
}
