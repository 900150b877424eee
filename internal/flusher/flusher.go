// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package flusher implements the Batch Flusher of spec.md §4.3: a
// single-armed per-session timer that decides when to cut the AudioBuffer
// and hand it to the Transcription Worker Client, strictly sequential so
// batch_index never gets ahead of what has actually been appended to the
// transcript.
package flusher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rapidaai/streamgateway/internal/audio"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/workerclient"
)

// pollInterval is how soon the timer rechecks when duration hasn't yet
// reached batch_window_sec; it keeps the "single-armed timer" honest
// without busy-waiting on every audio append.
const pollInterval = 200 * time.Millisecond

// minFinalFlushSec is the smallest remaining buffer worth flushing on stop
// (spec.md §4.3, trigger 3: "forced flush of any remaining buffer ≥ 0.1s").
const minFinalFlushSec = 0.1

// Config carries the per-session cadence settings (spec.md §3).
type Config struct {
	BatchWindowSec    float64
	MaxBatchWindowSec float64
	MaxBufferSec      float64
	Language          string
	Model             string
	ComputeType       string
}

// BatchResult is appended to the session's Transcript after a flush.
type BatchResult struct {
	BatchIndex      int
	Text            string
	Segments        []workerclient.Segment
	DurationSeconds float64
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Flusher owns exactly one session's flush cadence and worker calls. Every
// field below is touched only from the goroutine started by Start — the
// timer tick, a max_buffer_sec breach, and the final flush are all requests
// funneled through forceCh/finalCh rather than separate goroutines calling
// flush() directly, so batch_index assignment and f.lastFlushAt never race.
type Flusher struct {
	sessionID string
	cfg       Config
	buffer    *audio.Buffer
	worker    *workerclient.Client
	logger    commons.Logger

	onBatch func(BatchResult)
	onFatal func(error)

	forceCh chan struct{}
	finalCh chan chan struct{}
	doneCh  chan struct{}
	stopped atomic.Bool

	lastFlushAt time.Time
	nextIndex   int
}

// New builds a Flusher. onBatch is invoked after every successful flush, in
// order; onFatal is invoked at most once, after which the Flusher does not
// schedule further flushes. Call Start to begin running its loop.
func New(sessionID string, cfg Config, buffer *audio.Buffer, worker *workerclient.Client, logger commons.Logger, onBatch func(BatchResult), onFatal func(error)) *Flusher {
	return &Flusher{
		sessionID:   sessionID,
		cfg:         cfg,
		buffer:      buffer,
		worker:      worker,
		logger:      logger,
		onBatch:     onBatch,
		onFatal:     onFatal,
		forceCh:     make(chan struct{}, 1),
		finalCh:     make(chan chan struct{}),
		doneCh:      make(chan struct{}),
		lastFlushAt: time.Now(),
	}
}

// Start launches the Flusher's run loop in its own goroutine. Call once,
// from the session's Running transition.
func (f *Flusher) Start(ctx context.Context) {
	go f.run(ctx)
}

// NotifyAppend is called after every audio append. It never blocks: a
// max_buffer_sec breach (spec.md §4.2/§4.3 trigger 4) only signals the run
// loop to flush, so the reader goroutine feeding audio in is never held up
// waiting on the worker HTTP round trip (spec.md §5, "audio ingest never
// blocks on downstream congestion").
func (f *Flusher) NotifyAppend(_ context.Context, bufferedDurationSec float64) {
	if f.stopped.Load() {
		return
	}
	if bufferedDurationSec < f.cfg.MaxBufferSec {
		return
	}
	select {
	case f.forceCh <- struct{}{}:
	default:
		// a forced flush is already queued for the run loop; it will see
		// the buffer is still over the cap and flush again on its own.
	}
}

// FinalFlush performs the stop-triggered flush (trigger 3) and stops the
// run loop. It blocks until that flush (if any) has completed, since the
// coordinator needs the Transcript fully populated before computing
// final_summary. Safe to call once the session enters Draining; a no-op if
// the run loop already exited after a fatal error.
func (f *Flusher) FinalFlush(_ context.Context) {
	ack := make(chan struct{})
	select {
	case f.finalCh <- ack:
		select {
		case <-ack:
		case <-f.doneCh:
		}
	case <-f.doneCh:
	}
}

func durationOrMin(sec float64) time.Duration {
	if sec <= 0 {
		return pollInterval
	}
	return time.Duration(sec * float64(time.Second))
}

// run is the Flusher's single owning goroutine: the timer tick, a forced
// flush request, and the final flush request are all handled here, one at a
// time, so flush() never runs concurrently with itself.
func (f *Flusher) run(ctx context.Context) {
	defer close(f.doneCh)

	timer := time.NewTimer(durationOrMin(f.cfg.BatchWindowSec))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if f.onTimerTick(ctx) {
				f.stopped.Store(true)
				return
			}
			timer.Reset(f.nextTimerDelay())

		case <-f.forceCh:
			// cfg.MaxBatchWindowSec worth off the front, not the whole
			// buffer (spec.md §4.2: "the oldest samples up to
			// max_batch_window_sec are force-flushed"); any remainder stays
			// buffered for the next trigger to pick up.
			if err := f.flush(ctx, f.cfg.MaxBatchWindowSec); err != nil {
				f.stopped.Store(true)
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(f.nextTimerDelay())

		case ack := <-f.finalCh:
			if f.buffer.DurationSeconds() >= minFinalFlushSec {
				f.flush(ctx, 0)
			}
			close(ack)
			f.stopped.Store(true)
			return
		}
	}
}

// onTimerTick implements flush triggers 1 and 2, reporting whether a fatal
// worker error stopped the Flusher.
func (f *Flusher) onTimerTick(ctx context.Context) (stopped bool) {
	dur := f.buffer.DurationSeconds()
	elapsed := time.Since(f.lastFlushAt)

	switch {
	case dur >= f.cfg.MaxBatchWindowSec:
		return f.flush(ctx, 0) != nil
	case elapsed.Seconds() >= f.cfg.BatchWindowSec && dur >= f.cfg.BatchWindowSec:
		return f.flush(ctx, 0) != nil
	}
	return false
}

// nextTimerDelay is the poll-and-recheck cadence: once audio is buffered it
// rechecks frequently rather than waiting out the full batch_window_sec, so
// a batch that crosses the threshold between ticks isn't left waiting.
func (f *Flusher) nextTimerDelay() time.Duration {
	if f.buffer.DurationSeconds() > 0 {
		return pollInterval
	}
	return durationOrMin(f.cfg.BatchWindowSec)
}

// flush cuts at most maxDurationSec worth of buffered audio off the front
// (the whole buffer, if maxDurationSec <= 0) and hands it to the worker.
// Only ever called from run's goroutine.
func (f *Flusher) flush(ctx context.Context, maxDurationSec float64) error {
	bufferedDurationSec := f.buffer.DurationSeconds()
	if maxDurationSec > 0 && maxDurationSec < bufferedDurationSec {
		bufferedDurationSec = maxDurationSec
	}

	var wav []byte
	if maxDurationSec > 0 {
		wav = f.buffer.SnapshotUpTo(maxDurationSec)
	} else {
		wav = f.buffer.Snapshot()
	}
	if wav == nil {
		return nil
	}

	started := time.Now()
	audioDuration := time.Duration(bufferedDurationSec * float64(time.Second))
	result, err := f.worker.Transcribe(ctx, wav, f.cfg.Language, f.cfg.Model, f.cfg.ComputeType, f.sessionID, audioDuration)
	completed := time.Now()

	if err != nil {
		workerclient.RecordBatch("failed", completed.Sub(started))
		f.logger.Errorw("flush failed fatally", "session_id", f.sessionID, "batch_index", f.nextIndex, "err", err)
		f.onFatal(err)
		return err
	}

	br := BatchResult{
		BatchIndex:      f.nextIndex,
		Text:            result.Text,
		Segments:        result.Segments,
		DurationSeconds: result.DurationSeconds,
		StartedAt:       started,
		CompletedAt:     completed,
	}
	f.nextIndex++
	f.lastFlushAt = completed
	workerclient.RecordBatch("ok", completed.Sub(started))
	f.onBatch(br)
	return nil
}
