package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// Player plays a synthesized response payload.
//
// Play blocks until playback completes, fails, or ctx is cancelled. pcm is
// little-endian PCM16 mono at the rate reported by [Player.Format]; use
// [DecodeResponse] to bring consumer payloads into that shape first.
// Implementations must be safe for concurrent use, though callers play at most
// one response at a time.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
	Format() Format
}

// ErrEmptyAudio is returned by [DecodeResponse] for an empty payload.
var ErrEmptyAudio = errors.New("audio: empty response audio")

// DecodeResponse converts a consumer response payload into mono PCM16 at
// target.SampleRate.
//
// Payloads starting with a RIFF/WAVE header are decoded with go-audio/wav;
// their sample rate and channel count are taken from the header. Anything
// else is treated as raw little-endian PCM16 mono already at the target rate.
func DecodeResponse(payload []byte, target Format) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyAudio
	}
	if !isWAV(payload) {
		return payload[:len(payload)&^1], nil
	}

	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: decode response: invalid wav header")
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("audio: decode response: unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode response: %w", err)
	}
	if buf.Format == nil || len(buf.Data) == 0 {
		return nil, ErrEmptyAudio
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(clamp16(int32(v)))
	}
	pcm := ToMono(SamplesToBytes(samples), buf.Format.NumChannels)
	return ResampleMono16(pcm, buf.Format.SampleRate, target.SampleRate), nil
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}
