package audio

import "time"

// DefaultFrameSize is the classifier frame length in samples.
const DefaultFrameSize = 512

// Framer reassembles arbitrarily sized PCM16 byte chunks into fixed-size
// [Frame] values. BLE notifications and microphone callbacks deliver bursty,
// unpredictable chunk lengths; the framer carries any remainder (including a
// dangling odd byte) over to the next push so that no sample is dropped,
// duplicated, or reordered.
//
// A Framer is not safe for concurrent use. Create one per capture stream.
type Framer struct {
	frameSize  int
	sampleRate int
	carry      []byte
	emitted    int64 // samples emitted so far, for timestamps
}

// NewFramer returns a Framer emitting frames of frameSize samples. A
// non-positive frameSize selects [DefaultFrameSize].
func NewFramer(frameSize, sampleRate int) *Framer {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Framer{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		carry:      make([]byte, 0, frameSize*2),
	}
}

// FrameSize returns the number of samples per emitted frame.
func (f *Framer) FrameSize() int { return f.frameSize }

// Push appends chunk to the carry-over buffer and returns every complete frame
// now available, in arrival order. Each frame consumes exactly FrameSize
// samples; the remainder stays buffered. Returns nil when no frame is ready.
func (f *Framer) Push(chunk []byte) []Frame {
	f.carry = append(f.carry, chunk...)

	frameBytes := f.frameSize * 2
	n := len(f.carry) / frameBytes
	if n == 0 {
		return nil
	}

	frames := make([]Frame, 0, n)
	for i := range n {
		window := f.carry[i*frameBytes : (i+1)*frameBytes]
		frames = append(frames, Frame{
			Samples:    BytesToSamples(window),
			SampleRate: f.sampleRate,
			Timestamp:  f.offset(),
		})
		f.emitted += int64(f.frameSize)
	}

	// Shift the remainder to a fresh slice so the consumed prefix is released.
	rest := f.carry[n*frameBytes:]
	fresh := make([]byte, len(rest), max(cap(f.carry), frameBytes))
	copy(fresh, rest)
	f.carry = fresh
	return frames
}

// Pending returns the number of buffered bytes not yet emitted as a frame.
func (f *Framer) Pending() int { return len(f.carry) }

// Reset discards buffered bytes and restarts timestamps at zero.
func (f *Framer) Reset() {
	f.carry = f.carry[:0]
	f.emitted = 0
}

func (f *Framer) offset() time.Duration {
	if f.sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.emitted) * time.Second / time.Duration(f.sampleRate)
}
