// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package metrics exposes the process-wide Prometheus registry named in
// spec.md §6. It is the one intentionally process-global mutable besides
// the insight queue (spec.md §9, "Global mutable state").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_sessions_active",
		Help: "Number of currently live streaming sessions.",
	})

	StreamBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_batches_total",
		Help: "Total audio batches processed by the flusher, by outcome.",
	}, []string{"status"})

	StreamBatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_batch_duration_seconds",
		Help:    "Wall-clock duration of a single batch transcription round trip.",
		Buckets: prometheus.DefBuckets,
	})

	InsightQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "insight_queue_size",
		Help: "Current depth of the insight job queue.",
	})

	InsightJobWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "insight_job_wait_seconds",
		Help:    "Time an insight job spent queued before a worker picked it up.",
		Buckets: prometheus.DefBuckets,
	})

	InsightJobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "insight_job_duration_seconds",
		Help:    "Time an insight worker spent executing a job end to end.",
		Buckets: prometheus.DefBuckets,
	})

	InsightJobFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_job_failures_total",
		Help: "Insight job failures by reason.",
	}, []string{"reason"})

	WorkerAffinityBreaksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_affinity_breaks_total",
		Help: "Count of transcription requests that had to rebind off their affinity worker.",
	})

	InsightTenantConcurrent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "insight_tenant_concurrent_jobs",
		Help: "Currently running insight jobs per tenant.",
	}, []string{"tenant_id"})
)
