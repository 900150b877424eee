// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package insight implements the Insight Manager of spec.md §4.4: a
// process-wide bounded job queue with a fixed worker pool, per-session
// coalescing, per-tenant concurrency caps, and throttling — grounded on
// the fixed-size worker-pool-over-a-buffered-channel shape used broadly in
// the retrieved pack's own worker-pool implementations (submit rejects
// once the channel is full rather than blocking the producer).
package insight

import "time"

// Snapshot is the immutable payload captured when a job is enqueued
// (spec.md §3, "Payload snapshot"). Text has already had fillers stripped
// and PII masked by session.Transcript.Snapshot before it reaches the
// manager, so the downstream prompt is deterministic for a given snapshot.
type Snapshot struct {
	Text        string
	Language    string
	InsightType string
}

// Job is exclusively owned by the Insight Manager once enqueued; the
// session holds only a weak reference (its id) to await completion on
// drain, breaking the Session<->InsightJob cycle spec.md §9 calls out.
type Job struct {
	SessionID  string
	TenantID   string
	Snapshot   Snapshot
	EnqueuedAt time.Time
}

// TriggerRequest is what a flush (or any transcript update) supplies to
// Manager.Trigger.
type TriggerRequest struct {
	SessionID              string
	TenantID                string
	TokensSinceLastInsight  int
	TimeSinceLastInsight    time.Duration
	Snapshot                Snapshot
}

// TriggerOutcome reports what Trigger actually did, for logging/metrics at
// the call site; it never blocks audio ingest regardless of outcome.
type TriggerOutcome string

const (
	TriggerEnqueued        TriggerOutcome = "enqueued"
	TriggerCoalesced       TriggerOutcome = "coalesced"
	TriggerRerunMarked     TriggerOutcome = "rerun_marked"
	TriggerThrottled       TriggerOutcome = "throttled"
	TriggerTenantCapped    TriggerOutcome = "tenant_capped"
	TriggerQueueFull       TriggerOutcome = "queue_full"
	TriggerContextTooLarge TriggerOutcome = "context_too_large"
)
