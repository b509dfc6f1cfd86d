package session

import (
	"context"
	"sync"
	"time"

	"github.com/voicefront/voicefront/internal/capture"
	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/types"
)

// task is a cancellable group of goroutines.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTask(parent context.Context) *task {
	ctx, cancel := context.WithCancel(parent)
	return &task{ctx: ctx, cancel: cancel}
}

func (t *task) Go(fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn(t.ctx)
	}()
}

// stop cancels the task and waits for its goroutines. Safe on nil.
func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
}

type flow int

const (
	flowManual flow = iota
	flowWake
)

func (f flow) String() string {
	if f == flowWake {
		return "wake"
	}
	return "manual"
}

// run is one session, from the start command to the return to Idle. A wake
// flow spans every listen/capture cycle until the gate is no longer re-armed.
type run struct {
	epoch uint64
	flow  flow
	mode  types.Mode
	rearm bool

	sessionID string

	ctx    context.Context
	cancel context.CancelFunc

	// pending is the reply of the start command still waiting for its
	// resources to open.
	pending chan error

	// Audio source. src owns the open and pump goroutines.
	src        *task
	srcGen     uint64
	ownsSource bool
	sourceOpen bool
	backend    audio.Backend
	framer     *audio.Framer

	// Capture stage. stage owns the stream open and transcript reader.
	stage       uint64
	cap         *task
	stt         *capture.TranscriptionSession
	transcripts <-chan types.Transcript
	vad         *capture.VoiceActivityGate
	agg         *capture.Aggregator
	timer       *time.Timer

	// Dispatch and playback. flushed is set when StopCapture handed the
	// last utterance to a background dispatch.
	resp    *task
	flushed bool
}

func (r *run) reply(err error) {
	if r.pending == nil {
		return
	}
	r.pending <- err
	r.pending = nil
}

type cmdKind int

const (
	cmdStartWake cmdKind = iota
	cmdStopWake
	cmdStartCapture
	cmdStopCapture
	cmdTuning
)

type command struct {
	kind   cmdKind
	mode   types.Mode
	tuning Tuning
	reply  chan error
}

type sourceOpenedEvent struct {
	epoch, gen uint64
	chunks     <-chan []byte
	backend    audio.Backend
	err        error
}

type chunkEvent struct {
	epoch, gen uint64
	data       []byte
}

type sourceEndedEvent struct {
	epoch, gen uint64
}

type streamOpenedEvent struct {
	epoch, stage uint64
	transcripts  <-chan types.Transcript
	err          error
}

type transcriptEvent struct {
	epoch, stage uint64
	t            types.Transcript
}

type streamEndedEvent struct {
	epoch, stage uint64
}

type timerEvent struct {
	epoch, stage uint64
}

type dispatchedEvent struct {
	epoch uint64
	resp  types.Response
	err   error
}

type playedEvent struct {
	epoch uint64
	err   error
}
