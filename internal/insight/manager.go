// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package insight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rapidaai/streamgateway/internal/chatclient"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/metrics"
)

// ErrDrainTimeout is returned by AwaitDrain when a session's in-flight or
// pending job did not finish within the drain deadline.
var ErrDrainTimeout = errors.New("insight drain timed out")

const drainPollInterval = 100 * time.Millisecond

// Config mirrors the INSIGHT_* environment variables of spec.md §6.
type Config struct {
	MinTokens         int
	MinInterval       time.Duration
	RetainTokens      int
	WorkerConcurrency int
	QueueMaxSize      int
	PerTenantMax      int64
	FlushTimeout      time.Duration
	Thresholds        chatclient.Thresholds
}

// Backends bundles the three chat-completion tiers the manager dispatches
// to, selected per job by Config.Thresholds.
type Backends struct {
	Fast        chatclient.Client
	Balanced    chatclient.Client
	HighContext chatclient.Client
}

// sessionState tracks the coalescing and rerun bookkeeping for one session.
type sessionState struct {
	queued        *Job
	running       bool
	rerunRequest  *TriggerRequest
	discarded     bool
}

// Manager is the process-wide insight scheduler. Exactly one instance runs
// per process; it is one of the two intentionally global mutables named in
// spec.md §9 (alongside the metrics registry).
type Manager struct {
	cfg      Config
	backends Backends
	logger   commons.Logger

	queue chan *Job

	mu       sync.Mutex
	sessions map[string]*sessionState

	tenantMu  sync.Mutex
	tenantSem map[string]*semaphore.Weighted

	onInsight func(sessionID string, out *chatclient.InsightOutput, model string)
	onError   func(sessionID string, code, message string)

	wg sync.WaitGroup
}

// New builds a Manager; call Start to launch the worker pool.
func New(cfg Config, backends Backends, logger commons.Logger,
	onInsight func(sessionID string, out *chatclient.InsightOutput, model string),
	onError func(sessionID string, code, message string),
) *Manager {
	return &Manager{
		cfg:       cfg,
		backends:  backends,
		logger:    logger,
		queue:     make(chan *Job, cfg.QueueMaxSize),
		sessions:  make(map[string]*sessionState),
		tenantSem: make(map[string]*semaphore.Weighted),
		onInsight: onInsight,
		onError:   onError,
	}
}

// Start launches the fixed-size worker pool (spec.md §4.4, "Worker pool").
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.WorkerConcurrency; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

func (m *Manager) tenantSemaphore(tenantID string) *semaphore.Weighted {
	m.tenantMu.Lock()
	defer m.tenantMu.Unlock()
	sem, ok := m.tenantSem[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(m.cfg.PerTenantMax)
		m.tenantSem[tenantID] = sem
	}
	return sem
}

func (m *Manager) stateFor(sessionID string) *sessionState {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		m.sessions[sessionID] = st
	}
	return st
}

// Trigger evaluates the throttle rules and, if allowed, enqueues or
// coalesces a job. It never blocks: queue admission is a non-blocking
// channel send (spec.md §5, "Audio ingest never blocks on downstream
// congestion").
func (m *Manager) Trigger(req TriggerRequest) TriggerOutcome {
	if req.TokensSinceLastInsight < m.cfg.MinTokens {
		return TriggerThrottled
	}
	if req.TimeSinceLastInsight < m.cfg.MinInterval {
		return TriggerThrottled
	}
	if _, err := m.cfg.Thresholds.SelectBackend(estimateTokens(req.Snapshot.Text)); err != nil {
		metrics.InsightJobFailuresTotal.WithLabelValues("context_too_large").Inc()
		return TriggerContextTooLarge
	}

	m.mu.Lock()
	st := m.stateFor(req.SessionID)

	if st.running {
		st.rerunRequest = &req
		m.mu.Unlock()
		return TriggerRerunMarked
	}
	if st.queued != nil {
		st.queued.Snapshot = req.Snapshot
		m.mu.Unlock()
		return TriggerCoalesced
	}
	m.mu.Unlock()

	sem := m.tenantSemaphore(req.TenantID)
	if !sem.TryAcquire(1) {
		metrics.InsightJobFailuresTotal.WithLabelValues("tenant_capped").Inc()
		return TriggerTenantCapped
	}

	job := &Job{SessionID: req.SessionID, TenantID: req.TenantID, Snapshot: req.Snapshot, EnqueuedAt: time.Now()}

	select {
	case m.queue <- job:
		m.mu.Lock()
		st.queued = job
		m.mu.Unlock()
		metrics.InsightQueueSize.Set(float64(len(m.queue)))
		return TriggerEnqueued
	default:
		sem.Release(1)
		metrics.InsightJobFailuresTotal.WithLabelValues("queue_full").Inc()
		return TriggerQueueFull
	}
}

func estimateTokens(text string) int {
	n, err := chatclient.CountTokens(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-m.queue:
			if !ok {
				return
			}
			metrics.InsightQueueSize.Set(float64(len(m.queue)))
			m.runJob(ctx, job)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, job *Job) {
	metrics.InsightJobWaitSeconds.Observe(time.Since(job.EnqueuedAt).Seconds())
	metrics.InsightTenantConcurrent.WithLabelValues(job.TenantID).Inc()

	m.mu.Lock()
	st := m.stateFor(job.SessionID)
	st.queued = nil
	st.running = true
	discarded := st.discarded
	m.mu.Unlock()

	start := time.Now()
	if !discarded {
		out, model, err := m.execute(ctx, job)
		metrics.InsightJobDurationSeconds.Observe(time.Since(start).Seconds())
		m.mu.Lock()
		suppressed := st.discarded
		m.mu.Unlock()
		if err != nil {
			metrics.InsightJobFailuresTotal.WithLabelValues("insight_failed").Inc()
			m.logger.Warnw("insight job failed", "session_id", job.SessionID, "err", err)
			if !suppressed {
				m.onError(job.SessionID, "insight_failed", err.Error())
			}
		} else if !suppressed {
			m.onInsight(job.SessionID, out, model)
		}
	}

	metrics.InsightTenantConcurrent.WithLabelValues(job.TenantID).Dec()
	m.tenantSemaphore(job.TenantID).Release(1)

	m.mu.Lock()
	st.running = false
	rerun := st.rerunRequest
	st.rerunRequest = nil
	wasDiscarded := st.discarded
	if wasDiscarded {
		st.discarded = false
	}
	m.mu.Unlock()

	if rerun != nil && !wasDiscarded {
		m.Trigger(*rerun)
	}
}

// execute runs one job to completion: pick the backend by snapshot size,
// call it with a 30s-per-attempt / 60s-end-to-end deadline and one retry
// on RateLimited/Transient errors, then validate the strict JSON reply.
func (m *Manager) execute(ctx context.Context, job *Job) (*chatclient.InsightOutput, string, error) {
	promptTokens := estimateTokens(job.Snapshot.Text)
	backend, err := m.cfg.Thresholds.SelectBackend(promptTokens)
	if err != nil {
		return nil, "", err
	}

	client := m.clientFor(backend)
	messages := []chatclient.Message{
		{Role: "system", Content: insightSystemPrompt(job.Snapshot.InsightType)},
		{Role: "user", Content: job.Snapshot.Text},
	}
	opts := chatclient.CompleteOptions{MaxTokens: 512, Temperature: 0.2, StrictJSON: true}

	overall, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := m.callWithOneRetry(overall, client, messages, opts)
	if err != nil {
		return nil, "", err
	}

	out, err := chatclient.ParseInsightOutput(resp.Text)
	if err != nil {
		return nil, "", err
	}
	return out, resp.Model, nil
}

func (m *Manager) callWithOneRetry(ctx context.Context, client chatclient.Client, messages []chatclient.Message, opts chatclient.CompleteOptions) (*chatclient.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	resp, err := client.Complete(attemptCtx, messages, opts)
	cancel()
	if err == nil {
		return resp, nil
	}
	if !chatclient.IsRetryable(err) {
		return nil, err
	}

	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	attemptCtx2, cancel2 := context.WithTimeout(ctx, 30*time.Second)
	defer cancel2()
	return client.Complete(attemptCtx2, messages, opts)
}

func (m *Manager) clientFor(backend chatclient.Backend) chatclient.Client {
	switch backend {
	case chatclient.BackendFast:
		return m.backends.Fast
	case chatclient.BackendBalanced:
		return m.backends.Balanced
	default:
		return m.backends.HighContext
	}
}

func insightSystemPrompt(insightType string) string {
	if insightType == "" {
		insightType = "live_summary"
	}
	return fmt.Sprintf("You generate a %s from a call-center transcript. Reply with strict JSON: {\"type\":\"...\",\"text\":\"...\",\"confidence\":0..1}.", insightType)
}

// AwaitDrain blocks until the session has no queued or running job, or
// until timeout elapses — spec.md §4.4, "Cancellation". On timeout, any
// queued job is discarded and the in-flight job's result (if any) is
// suppressed when it eventually completes.
func (m *Manager) AwaitDrain(ctx context.Context, sessionID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		st, ok := m.sessions[sessionID]
		active := ok && (st.running || st.queued != nil)
		m.mu.Unlock()
		if !active {
			return nil
		}
		if time.Now().After(deadline) {
			m.mu.Lock()
			if st != nil {
				st.queued = nil
				st.discarded = true
				st.rerunRequest = nil
			}
			m.mu.Unlock()
			return ErrDrainTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}

// ReleaseSession drops all bookkeeping for a closed session.
func (m *Manager) ReleaseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Shutdown waits, bounded by ctx, for the worker pool's goroutines to exit
// (they exit once the ctx passed to Start is cancelled) — the process-wide
// analogue of AwaitDrain, using errgroup for the bounded wait. It does not
// itself stop Trigger from accepting new work.
func (m *Manager) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	return g.Wait()
}
