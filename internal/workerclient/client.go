// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package workerclient implements the Transcription Worker Client of
// spec.md §4.5: a thin HTTP client over a pool of stateless transcription
// workers, affinity-aware via a caller-supplied header, with retry and
// backoff handled locally rather than delegated to a generic library —
// matching the teacher's own transformer clients, which retry inline
// around a single resty call instead of wrapping it in a backoff package.
package workerclient

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/metrics"
)

// Segment mirrors the worker's transcript fragment shape (spec.md §6).
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker,omitempty"`
}

// transcribeResponse is the worker's JSON reply shape.
type transcribeResponse struct {
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments"`
	Language        string    `json:"language"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Result is what the Batch Flusher folds into a BatchResult.
type Result struct {
	Text            string
	Segments        []Segment
	DurationSeconds float64
}

// FatalError marks a transcription failure that exhausted all retries; the
// Session Coordinator maps it to worker_unavailable and fails the session.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return fmt.Sprintf("worker unavailable: %v", e.Cause) }
func (e *FatalError) Unwrap() error { return e.Cause }

// Options configures a Client.
type Options struct {
	// BaseURL is a single-worker deployment's address. Addrs takes
	// precedence when set; BaseURL is kept as a one-address convenience for
	// single-worker deployments and tests.
	BaseURL        string
	Addrs          []string
	Retries        int
	BackoffBaseMs  int
	DefaultTimeout time.Duration
}

// Client transcribes WAV blobs against the worker fleet, preserving
// per-session affinity via the Worker Binding Store and the
// X-Session-Affinity header, and falling back to a different worker in the
// pool when the bound one is unreachable.
type Client struct {
	rc      *resty.Client
	log     commons.Logger
	retries int
	backoff time.Duration
	addrs   []string
	store   *binding.Store
}

// New builds a Client with one shared resty.Client — and so one shared
// connection pool — for the lifetime of the process, per spec.md §4.5
// ("one pool per upstream").
func New(opts Options, log commons.Logger) *Client {
	rc := resty.New().SetTimeout(firstNonZeroDuration(opts.DefaultTimeout, 30*time.Second))

	addrs := opts.Addrs
	if len(addrs) == 0 {
		addrs = []string{opts.BaseURL}
	}

	return &Client{
		rc:      rc,
		log:     log,
		retries: opts.Retries,
		backoff: time.Duration(opts.BackoffBaseMs) * time.Millisecond,
		addrs:   addrs,
	}
}

// SetStore wires in the Worker Binding Store (spec.md §4.5): Transcribe
// pins a session to the same worker address across batches via the store,
// and records a rebind when a retry has to target a different one, so the
// break is visible to every gateway process sharing the Redis deployment.
// Left nil, Transcribe falls back to a purely in-process, stateless
// selection with no cross-process affinity — the behavior of a
// single-worker deployment where there is nothing to pin to.
func (c *Client) SetStore(store *binding.Store) {
	c.store = store
}

func firstNonZeroDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// flushTimeout implements spec.md §5: max(30s, 6x audio_duration).
func flushTimeout(audioDuration time.Duration) time.Duration {
	scaled := 6 * audioDuration
	if scaled < 30*time.Second {
		return 30 * time.Second
	}
	return scaled
}

// Transcribe posts wavBytes to /transcribe with the session's affinity
// header, retrying transient failures with jittered exponential backoff. A
// retry targets a different worker address than the one the session was
// last bound to (spec.md §4.5) and records the rebind in the Worker
// Binding Store, so the break is visible to any other gateway process
// sharing the session's affinity key.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte, language, model, computeType, sessionID string, audioDuration time.Duration) (*Result, error) {
	timeout := flushTimeout(audioDuration)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := c.bindAddr(ctx, sessionID)

	var lastErr error
	attempts := c.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.jitteredBackoff(attempt)
			c.log.Warnw("retrying transcription", "session_id", sessionID, "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &FatalError{Cause: ctx.Err()}
			}
			if next := c.selectAddr(sessionID, attempt); next != addr {
				addr = c.rebindAddr(ctx, sessionID, next)
			}
		}

		result, transient, err := c.attempt(ctx, addr, wavBytes, language, model, computeType, sessionID)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !transient {
			return nil, &FatalError{Cause: err}
		}
	}
	return nil, &FatalError{Cause: lastErr}
}

// bindAddr picks this session's worker address — its existing binding if
// the store has one and it is still in the pool, otherwise a deterministic
// hash pick — and records the pick in the store for cross-process affinity.
func (c *Client) bindAddr(ctx context.Context, sessionID string) string {
	addr := c.selectAddr(sessionID, 0)
	if c.store == nil {
		return addr
	}
	if bound, ok, err := c.store.Lookup(ctx, sessionID); err == nil && ok && c.inPool(bound) {
		addr = bound
	}
	if err := c.store.Bind(ctx, sessionID, addr); err != nil {
		c.log.Warnw("worker binding store unavailable", "session_id", sessionID, "err", err)
	}
	return addr
}

// rebindAddr records that sessionID moved to newAddr after the previously
// bound worker proved unreachable, bumping the affinity-break counter.
func (c *Client) rebindAddr(ctx context.Context, sessionID, newAddr string) string {
	metrics.WorkerAffinityBreaksTotal.Inc()
	if c.store != nil {
		if err := c.store.Rebind(ctx, sessionID, newAddr); err != nil {
			c.log.Warnw("worker rebind failed", "session_id", sessionID, "err", err)
		}
	}
	return newAddr
}

func (c *Client) inPool(addr string) bool {
	for _, a := range c.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// selectAddr deterministically maps sessionID onto the pool, advancing by
// one worker per retry attempt so a retry never targets the same address
// the prior attempt just failed against.
func (c *Client) selectAddr(sessionID string, attempt int) string {
	if len(c.addrs) == 1 {
		return c.addrs[0]
	}
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	idx := (int(h.Sum32()) + attempt) % len(c.addrs)
	if idx < 0 {
		idx += len(c.addrs)
	}
	return c.addrs[idx]
}

// attempt makes one HTTP call against addr. transient reports whether the
// failure is worth retrying (5xx or network error) as opposed to fatal
// immediately.
func (c *Client) attempt(ctx context.Context, addr string, wavBytes []byte, language, model, computeType, sessionID string) (*Result, bool, error) {
	var out transcribeResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("X-Session-Affinity", sessionID).
		SetFileReader("file", "audio.wav", bytes.NewReader(wavBytes)).
		SetFormData(map[string]string{
			"language":     language,
			"model":        model,
			"compute_type": computeType,
		}).
		SetResult(&out).
		Post(addr + "/transcribe")

	if err != nil {
		return nil, true, fmt.Errorf("transcribe request: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, true, fmt.Errorf("transcribe worker status %d", resp.StatusCode())
	}
	if resp.IsError() {
		return nil, false, fmt.Errorf("transcribe worker status %d", resp.StatusCode())
	}

	return &Result{
		Text:            out.Text,
		Segments:        out.Segments,
		DurationSeconds: out.DurationSeconds,
	}, false, nil
}

func (c *Client) jitteredBackoff(attempt int) time.Duration {
	base := float64(c.backoff) * pow2(attempt-1)
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +-20%
	return time.Duration(base * jitter)
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

// RecordBatch reports outcome into stream_batches_total and
// stream_batch_duration_seconds.
func RecordBatch(status string, duration time.Duration) {
	metrics.StreamBatchesTotal.WithLabelValues(status).Inc()
	metrics.StreamBatchDurationSeconds.Observe(duration.Seconds())
}
