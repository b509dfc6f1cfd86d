package audio

import (
	"encoding/binary"
	"time"
)

// Frame is a fixed-length window of signed 16-bit mono samples, the unit of
// voice-activity and wake-word classification. Frames are produced by a
// [Framer] and must be treated as immutable once emitted.
type Frame struct {
	// Samples holds exactly the framer's frame size of samples.
	Samples []int16

	// SampleRate in Hz of the samples (e.g., 8000 for the phone microphone).
	SampleRate int

	// Timestamp is the offset of the first sample relative to stream start.
	Timestamp time.Duration
}

// Bytes returns the frame samples as little-endian PCM16 bytes, the wire
// format expected by streaming speech-to-text services.
func (f Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// Duration returns the length of audio the frame covers. Returns zero when
// the sample rate is unknown.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// BytesToSamples converts little-endian PCM16 bytes to int16 samples. A
// trailing odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}
