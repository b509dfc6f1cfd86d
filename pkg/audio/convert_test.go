package audio_test

import (
	"testing"

	"github.com/voicefront/voicefront/pkg/audio"
)

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := audio.SamplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := audio.BytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := audio.SamplesToBytes([]int16{32767, 32767})
	got := audio.BytesToSamples(audio.StereoToMono(stereo))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("got %v, want [32767]", got)
	}
}

func TestToMono(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "mono passthrough", in: []int16{1, 2, 3}, channels: 1, want: []int16{1, 2, 3}},
		{name: "stereo", in: []int16{10, 20, 30, 50}, channels: 2, want: []int16{15, 40}},
		{name: "three channels", in: []int16{3, 6, 9, -3, -3, -3}, channels: 3, want: []int16{6, -3}},
		{name: "partial trailing frame", in: []int16{3, 6, 9, 1}, channels: 3, want: []int16{6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.BytesToSamples(audio.ToMono(audio.SamplesToBytes(tt.in), tt.channels))
			if len(got) != len(tt.want) {
				t.Fatalf("length mismatch: got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := audio.SamplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 8000, 8000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 8kHz → 6 samples at 24kHz (3x)
	pcm := audio.SamplesToBytes([]int16{1000, 2000})
	got := audio.BytesToSamples(audio.ResampleMono16(pcm, 8000, 24000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	pcm := audio.SamplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	got := audio.BytesToSamples(audio.ResampleMono16(pcm, 48000, 16000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := audio.SamplesToBytes([]int16{100, 200})
	if out := audio.ResampleMono16(pcm, 0, 48000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
	}
	if out := audio.ResampleMono16(pcm, 48000, 0); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero dstRate, got len %d", len(out))
	}
	if out := audio.ResampleMono16(pcm, -1, 48000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for negative srcRate, got len %d", len(out))
	}
}

func TestFormatString(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 8000, Channels: 1}, "8000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("Format%+v.String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}
