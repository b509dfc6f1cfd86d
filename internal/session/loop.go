package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicefront/voicefront/internal/capture"
	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/internal/observe"
	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/provider/vad"
	"github.com/voicefront/voicefront/pkg/types"
)

func (o *Orchestrator) handle(ev any) {
	switch ev := ev.(type) {
	case command:
		o.handleCommand(ev)
	case sourceOpenedEvent:
		o.onSourceOpened(ev)
	case chunkEvent:
		o.onChunk(ev)
	case sourceEndedEvent:
		o.onSourceEnded(ev)
	case streamOpenedEvent:
		o.onStreamOpened(ev)
	case transcriptEvent:
		o.onTranscript(ev)
	case streamEndedEvent:
		o.onStreamEnded(ev)
	case timerEvent:
		o.onTimer(ev)
	case dispatchedEvent:
		o.onDispatched(ev)
	case playedEvent:
		o.onPlayed(ev)
	default:
		slog.Warn("session: unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// live returns the current run if epoch identifies it.
func (o *Orchestrator) live(epoch uint64) *run {
	if o.cur != nil && o.cur.epoch == epoch {
		return o.cur
	}
	return nil
}

// ─── Commands ────────────────────────────────────────────────────────────────

func (o *Orchestrator) handleCommand(c command) {
	switch c.kind {
	case cmdStartWake:
		o.startWake(c.reply)
	case cmdStopWake:
		c.reply <- o.stopWake()
	case cmdStartCapture:
		o.startCapture(c.mode, c.reply)
	case cmdStopCapture:
		c.reply <- o.stopCapture()
	case cmdTuning:
		o.applyTuning(c.tuning)
		c.reply <- nil
	}
}

func (o *Orchestrator) startWake(reply chan error) {
	switch st := o.State(); st {
	case ListeningForWakeWord:
		reply <- nil
		return
	case Idle:
	default:
		reply <- fmt.Errorf("%w: start wake listening while %s", ErrInvalidTransition, st)
		return
	}
	if err := o.wake.Arm(); err != nil {
		reply <- err
		return
	}
	r := o.newRun(flowWake)
	r.rearm = o.tuning.RearmWakeWord
	r.pending = reply
	o.setState(ListeningForWakeWord)
	o.openSource(r)
}

func (o *Orchestrator) stopWake() error {
	st := o.State()
	switch {
	case st == ListeningForWakeWord:
		o.teardown()
		o.setState(Idle)
		return nil
	case st == Idle:
		return nil
	case o.cur != nil && o.cur.flow == flowWake:
		o.cur.rearm = false
		return nil
	default:
		return fmt.Errorf("%w: stop wake listening while %s", ErrInvalidTransition, st)
	}
}

func (o *Orchestrator) startCapture(mode types.Mode, reply chan error) {
	switch st := o.State(); st {
	case Idle:
		r := o.newRun(flowManual)
		r.pending = reply
		o.enterCapture(r, mode)
	case ListeningForWakeWord:
		r := o.cur
		if !r.sourceOpen {
			reply <- fmt.Errorf("%w: audio source still opening", ErrInvalidTransition)
			return
		}
		if err := o.wake.Disarm(); err != nil {
			slog.Warn("session: disarm wake-word gate", "err", err)
		}
		r.pending = reply
		o.enterCapture(r, mode)
	case Capturing:
		reply <- ErrAlreadyOpen
	default:
		reply <- fmt.Errorf("%w: start capture while %s", ErrInvalidTransition, st)
	}
}

func (o *Orchestrator) stopCapture() error {
	r := o.cur
	switch st := o.State(); st {
	case Capturing:
		if u, ok := r.agg.Stop(time.Now()); ok {
			u = o.completed(r, u)
			r.flushed = true
			o.dispatchInBackground(u)
		}
	case AwaitingResponse, PlayingResponse:
	default:
		return fmt.Errorf("%w: stop capture while %s", ErrInvalidTransition, st)
	}
	o.teardown()
	o.setState(Idle)
	return nil
}

func (o *Orchestrator) applyTuning(t Tuning) {
	t = t.withDefaults()
	o.tuning = t
	r := o.cur
	if r == nil {
		return
	}
	r.agg.SetTimeout(t.InactivityTimeout)
	if r.vad != nil {
		r.vad.SetThreshold(t.VADThreshold)
	}
	if r.flow == flowWake {
		r.rearm = t.RearmWakeWord
	}
	slog.Info("session tuning updated",
		"vad_threshold", t.VADThreshold,
		"inactivity_timeout", t.InactivityTimeout,
		"rearm", t.RearmWakeWord,
		"continuous_moments", t.ContinuousMoments)
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func (o *Orchestrator) newRun(f flow) *run {
	o.epoch++
	ctx, cancel := context.WithCancel(o.ctx)
	var aggOpts []capture.AggregatorOption
	if o.cfg.InterimRevisions {
		aggOpts = append(aggOpts, capture.WithInterimRevisions())
	}
	r := &run{
		epoch:  o.epoch,
		flow:   f,
		mode:   types.ModeChat,
		ctx:    ctx,
		cancel: cancel,
		agg:    capture.NewAggregator(o.tuning.InactivityTimeout, aggOpts...),
		resp:   newTask(ctx),
	}
	o.cur = r
	return r
}

// enterCapture moves r to Capturing. The transcription stream is opened once
// the audio source is open.
func (o *Orchestrator) enterCapture(r *run, mode types.Mode) {
	r.mode = mode
	if r.sessionID == "" {
		r.sessionID = uuid.NewString()
	}
	o.setState(Capturing)
	if r.sourceOpen {
		o.beginStage(r)
		return
	}
	o.openSource(r)
}

func (o *Orchestrator) openSource(r *run) {
	r.srcGen++
	r.src = newTask(r.ctx)
	r.ownsSource = true
	epoch, gen := r.epoch, r.srcGen
	r.src.Go(func(ctx context.Context) {
		chunks, backend, err := o.cfg.Source.Open(ctx, o.cfg.Backend)
		o.post(ctx, sourceOpenedEvent{epoch: epoch, gen: gen, chunks: chunks, backend: backend, err: err})
	})
}

func (o *Orchestrator) startPump(r *run, chunks <-chan []byte) {
	epoch, gen := r.epoch, r.srcGen
	r.src.Go(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-chunks:
				if !ok {
					o.post(ctx, sourceEndedEvent{epoch: epoch, gen: gen})
					return
				}
				if !o.post(ctx, chunkEvent{epoch: epoch, gen: gen, data: b}) {
					return
				}
			}
		}
	})
}

// beginStage starts a capture stage on an open source: a fresh classifier
// and transcription stream.
func (o *Orchestrator) beginStage(r *run) {
	r.stage++
	r.cap = newTask(r.ctx)
	r.agg.SetTimeout(o.tuning.InactivityTimeout)
	r.vad = o.newVADGate()
	r.stt = capture.NewTranscriptionSession(o.cfg.Transcriber, o.cfg.Transcription)

	stream, epoch, stage := r.stt, r.epoch, r.stage
	r.cap.Go(func(ctx context.Context) {
		ch, err := stream.Open(ctx)
		o.post(ctx, streamOpenedEvent{epoch: epoch, stage: stage, transcripts: ch, err: err})
	})
}

func (o *Orchestrator) startReader(r *run, transcripts <-chan types.Transcript) {
	epoch, stage := r.epoch, r.stage
	r.cap.Go(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-transcripts:
				if !ok {
					o.post(ctx, streamEndedEvent{epoch: epoch, stage: stage})
					return
				}
				if !o.post(ctx, transcriptEvent{epoch: epoch, stage: stage, t: t}) {
					return
				}
			}
		}
	})
}

func (o *Orchestrator) newVADGate() *capture.VoiceActivityGate {
	if o.cfg.VAD == nil {
		return nil
	}
	cls, err := o.cfg.VAD.NewClassifier(vad.Config{SampleRate: o.cfg.SampleRate, FrameSize: o.cfg.FrameSize})
	if err != nil {
		slog.Warn("voice activity detection unavailable for this capture", "err", err)
		o.metrics.RecordClassifierFailure(context.Background(), "vad")
		return nil
	}
	return capture.NewVoiceActivityGate(cls, o.tuning.VADThreshold,
		capture.WithFailureHook(func(error) {
			o.metrics.RecordClassifierFailure(context.Background(), "vad")
		}))
}

func (o *Orchestrator) armTimer(r *run) {
	if r.timer != nil {
		r.timer.Stop()
	}
	ctx, epoch, stage := r.cap.ctx, r.epoch, r.stage
	r.timer = time.AfterFunc(time.Until(r.agg.Deadline()), func() {
		o.post(ctx, timerEvent{epoch: epoch, stage: stage})
	})
}

// releaseCapture closes the transcription stream, the audio source and the
// classifier, and invalidates every event still queued for them.
func (o *Orchestrator) releaseCapture(r *run) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.cap.stop()
	r.src.stop()
	r.cap, r.src = nil, nil
	r.stage++
	r.srcGen++

	if r.stt != nil {
		if r.transcripts != nil {
			go audio.Drain(r.transcripts)
		}
		o.closeInBackground(r.stt, r.sessionID)
		r.stt, r.transcripts = nil, nil
	}
	if r.ownsSource {
		if err := o.cfg.Source.Close(); err != nil {
			slog.Warn("session: close audio source", "session_id", r.sessionID, "err", err)
		}
		if r.sourceOpen {
			o.metrics.ActiveCaptures.Add(context.Background(), -1)
		}
		r.ownsSource, r.sourceOpen = false, false
		r.framer = nil
	}
	if r.vad != nil {
		if err := r.vad.Close(); err != nil {
			slog.Warn("session: close classifier", "err", err)
		}
		r.vad = nil
	}
}

// closeInBackground closes a transcription stream off the event loop. A
// graceful close waits on the provider, and Run waits for it on shutdown.
func (o *Orchestrator) closeInBackground(stream *capture.TranscriptionSession, sessionID string) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if err := stream.Close(); err != nil {
			slog.Warn("session: close transcription stream", "session_id", sessionID, "err", err)
		}
	}()
}

// teardown ends the current run and releases everything it holds.
func (o *Orchestrator) teardown() {
	r := o.cur
	if err := o.wake.Disarm(); err != nil {
		slog.Warn("session: disarm wake-word gate", "err", err)
	}
	if r == nil {
		return
	}
	r.cancel()
	o.releaseCapture(r)
	r.resp.stop()
	if !r.flushed {
		o.endSession(r)
	}
	r.reply(ErrStopped)
	o.cur = nil
}

func (o *Orchestrator) endSession(r *run) {
	if r.sessionID == "" {
		return
	}
	if se, ok := o.cfg.Consumer.(consumer.SessionEnder); ok {
		se.EndSession(r.sessionID)
	}
	r.sessionID = ""
}

// fail reports err, tears the run down and returns to Idle.
//
// A partial utterance is carried in the error notification but never
// dispatched: the failed session's consumer state is closed through
// EndSession instead, and the client decides whether to resubmit.
func (o *Orchestrator) fail(r *run, err error) {
	var partial *types.Utterance
	if o.State() == Capturing {
		if u, ok := r.agg.Stop(time.Now()); ok {
			u.SessionID, u.Mode = r.sessionID, r.mode
			partial = &u
		}
	}
	// A waiting command sees the failure only once the session is Idle.
	pending := r.pending
	r.pending = nil
	o.notifyError(r.sessionID, err, partial)
	o.teardown()
	o.setState(Idle)
	if pending != nil {
		pending <- err
	}
}

// ─── Audio and transcripts ───────────────────────────────────────────────────

func (o *Orchestrator) onSourceOpened(ev sourceOpenedEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.gen != r.srcGen {
		return
	}
	if ev.err != nil {
		r.ownsSource = false
		o.fail(r, fmt.Errorf("session: open audio source: %w", ev.err))
		return
	}
	r.sourceOpen = true
	r.backend = ev.backend
	r.framer = audio.NewFramer(o.cfg.FrameSize, o.cfg.SampleRate)
	o.metrics.ActiveCaptures.Add(context.Background(), 1)
	slog.Info("audio source open", "backend", ev.backend, "flow", r.flow)
	o.startPump(r, ev.chunks)

	switch o.State() {
	case ListeningForWakeWord:
		r.reply(nil)
	case Capturing:
		o.beginStage(r)
	}
}

func (o *Orchestrator) onSourceEnded(ev sourceEndedEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.gen != r.srcGen {
		return
	}
	o.fail(r, ErrSourceLost)
}

func (o *Orchestrator) onChunk(ev chunkEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.gen != r.srcGen || r.framer == nil {
		return
	}
	for _, f := range r.framer.Push(ev.data) {
		switch o.State() {
		case ListeningForWakeWord:
			if det, ok := o.wake.Process(f); ok {
				o.wakeDetected(r, det)
			}
		case Capturing:
			if !o.captureFrame(r, f) {
				return
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) wakeDetected(r *run, det capture.WakeWordDetected) {
	r.sessionID = uuid.NewString()
	slog.Info("wake word detected", "keyword", det.Keyword, "session_id", r.sessionID)
	o.notify(Notification{Kind: NotifyWakeWord, SessionID: r.sessionID, Keyword: det.Keyword})
	o.enterCapture(r, types.ModeChat)
}

// captureFrame feeds f to the transcription stream and the voice-activity
// gate. It reports false once the frame ended the capture.
func (o *Orchestrator) captureFrame(r *run, f audio.Frame) bool {
	if r.stt == nil {
		return true
	}
	r.stt.SendAudio(f.Bytes())
	if r.vad == nil {
		return true
	}
	ev, ok := r.vad.Process(f)
	if !ok || ev.Kind != capture.VoiceEnded {
		return true
	}
	u, ok := r.agg.VoiceEnded(time.Now())
	if !ok {
		return true
	}
	o.utteranceReady(r, u)
	return false
}

func (o *Orchestrator) onStreamOpened(ev streamOpenedEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.stage != r.stage || o.State() != Capturing {
		return
	}
	if ev.err != nil {
		o.fail(r, fmt.Errorf("session: open transcription stream: %w", ev.err))
		return
	}
	r.transcripts = ev.transcripts
	o.startReader(r, ev.transcripts)
	slog.Info("capture started",
		"session_id", r.sessionID,
		"mode", r.mode,
		"flow", r.flow,
		"backend", r.backend,
		"stream_id", r.stt.Handle().ID)
	r.reply(nil)
}

func (o *Orchestrator) onStreamEnded(ev streamEndedEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.stage != r.stage || o.State() != Capturing {
		return
	}
	o.fail(r, fmt.Errorf("session: transcription stream lost: %w", capture.ErrConnectionFailed))
}

func (o *Orchestrator) onTranscript(ev transcriptEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.stage != r.stage || o.State() != Capturing {
		return
	}
	if r.agg.Token(ev.t, time.Now()) {
		o.armTimer(r)
	}
}

func (o *Orchestrator) onTimer(ev timerEvent) {
	r := o.live(ev.epoch)
	if r == nil || ev.stage != r.stage || o.State() != Capturing {
		return
	}
	if u, ok := r.agg.TimerExpired(time.Now()); ok {
		o.utteranceReady(r, u)
	}
}

// ─── Dispatch and playback ───────────────────────────────────────────────────

// completed stamps u with the session identity and reports it.
func (o *Orchestrator) completed(r *run, u types.Utterance) types.Utterance {
	u.SessionID, u.Mode = r.sessionID, r.mode
	o.metrics.RecordUtterance(context.Background(), string(u.Mode), u.Reason.String())
	slog.Info("utterance complete",
		"session_id", u.SessionID,
		"mode", u.Mode,
		"reason", u.Reason,
		"chars", len(u.Text))
	o.notify(Notification{Kind: NotifyUtterance, SessionID: u.SessionID, Utterance: &u})
	return u
}

func (o *Orchestrator) utteranceReady(r *run, u types.Utterance) {
	o.releaseCapture(r)
	o.setState(AwaitingResponse)
	u = o.completed(r, u)

	epoch := r.epoch
	r.resp.Go(func(ctx context.Context) {
		resp, err := o.dispatch(ctx, u)
		o.post(ctx, dispatchedEvent{epoch: epoch, resp: resp, err: err})
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, u types.Utterance) (types.Response, error) {
	ctx, span := observe.StartSpan(ctx, "session.dispatch",
		trace.WithAttributes(
			attribute.String("session.id", u.SessionID),
			attribute.String("utterance.mode", string(u.Mode)),
			attribute.String("utterance.reason", u.Reason.String()),
		))
	defer span.End()

	ctx = observe.WithSessionID(ctx, u.SessionID)
	log := observe.Logger(ctx)

	start := time.Now()
	resp, err := o.cfg.Consumer.Submit(ctx, u)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(observe.Attr("mode", string(u.Mode))))
		log.Warn("utterance dispatch failed", "mode", u.Mode, "reason", u.Reason, "err", err)
	} else {
		log.Info("utterance dispatched", "mode", u.Mode, "reason", u.Reason,
			"chars", len(u.Text), "has_audio", len(resp.Audio) > 0, "duration", time.Since(start))
	}
	o.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("mode", string(u.Mode)), observe.Attr("status", status)))
	return resp, err
}

// dispatchInBackground submits a flushed utterance after its session has
// ended. Run waits for it on shutdown.
func (o *Orchestrator) dispatchInBackground(u types.Utterance) {
	base := context.WithoutCancel(o.ctx)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(base, o.cfg.DispatchTimeout)
		defer cancel()

		resp, err := o.dispatch(ctx, u)
		if err != nil {
			o.notifyError(u.SessionID, fmt.Errorf("%w: %w", ErrConsumerDispatchFailed, err), &u)
		} else {
			o.notify(Notification{Kind: NotifyResponse, SessionID: u.SessionID, Text: resp.Text, HasAudio: len(resp.Audio) > 0})
		}
		if se, ok := o.cfg.Consumer.(consumer.SessionEnder); ok {
			se.EndSession(u.SessionID)
		}
	}()
}

func (o *Orchestrator) onDispatched(ev dispatchedEvent) {
	r := o.live(ev.epoch)
	if r == nil || o.State() != AwaitingResponse {
		return
	}
	r.agg.Ack()
	if ev.err != nil {
		o.notifyError(r.sessionID, fmt.Errorf("%w: %w", ErrConsumerDispatchFailed, ev.err), nil)
		o.finishCycle(r, false)
		return
	}
	o.notify(Notification{
		Kind:      NotifyResponse,
		SessionID: r.sessionID,
		Text:      ev.resp.Text,
		HasAudio:  len(ev.resp.Audio) > 0,
	})
	if len(ev.resp.Audio) == 0 || o.cfg.Player == nil {
		o.finishCycle(r, true)
		return
	}
	pcm, err := audio.DecodeResponse(ev.resp.Audio, o.cfg.Player.Format())
	if err != nil {
		o.playbackFailed(r, err)
		return
	}
	o.setState(PlayingResponse)
	epoch := r.epoch
	r.resp.Go(func(ctx context.Context) {
		start := time.Now()
		err := o.cfg.Player.Play(ctx, pcm)
		o.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
		o.post(ctx, playedEvent{epoch: epoch, err: err})
	})
}

func (o *Orchestrator) onPlayed(ev playedEvent) {
	r := o.live(ev.epoch)
	if r == nil || o.State() != PlayingResponse {
		return
	}
	if ev.err != nil {
		o.playbackFailed(r, ev.err)
		return
	}
	o.finishCycle(r, true)
}

func (o *Orchestrator) playbackFailed(r *run, err error) {
	o.metrics.PlaybackFailures.Add(context.Background(), 1)
	o.notifyError(r.sessionID, fmt.Errorf("%w: %w", ErrPlaybackFailed, err), nil)
	o.finishCycle(r, false)
}

// finishCycle decides where a session goes after its response: back to
// listening for a re-armed wake flow, back to capturing for continuous
// moments, otherwise Idle.
func (o *Orchestrator) finishCycle(r *run, ok bool) {
	switch {
	case r.flow == flowWake && r.rearm:
		o.endSession(r)
		if err := o.wake.Arm(); err != nil {
			o.fail(r, err)
			return
		}
		o.setState(ListeningForWakeWord)
		o.openSource(r)
	case ok && r.flow == flowManual && r.mode == types.ModeMoment && o.tuning.ContinuousMoments:
		o.enterCapture(r, r.mode)
	default:
		o.teardown()
		o.setState(Idle)
	}
}
