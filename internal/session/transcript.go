// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session implements the per-connection Session State of spec.md
// §3 and the Session Coordinator state machine of spec.md §4.1, grounded
// on the teacher's baseStreamer: a mutex-guarded buffer plus a bounded
// outbound channel serviced by a dedicated writer goroutine.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/streamgateway/internal/flusher"
	"github.com/rapidaai/streamgateway/internal/insight"
)

// Transcript is the ordered list of BatchResults plus the derived
// insight-throttle counters (spec.md §3).
type Transcript struct {
	mu                     sync.Mutex
	batches                []flusher.BatchResult
	tokensSinceLastInsight int
	lastInsightAt          time.Time
	insightCount           int
}

func newTranscript() *Transcript {
	return &Transcript{lastInsightAt: time.Time{}}
}

// Append records a completed batch and grows the insight-trigger token
// counter by a crude whitespace-token count of the new text.
func (t *Transcript) Append(br flusher.BatchResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches = append(t.batches, br)
	t.tokensSinceLastInsight += len(strings.Fields(br.Text))
}

// Text concatenates every batch's text in order.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(t.batches))
	for _, b := range t.batches {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, " ")
}

// Snapshot returns the insight payload snapshot: the last retainTokens
// whitespace-tokens of transcript text, fillers stripped and PII masked so
// the prompt handed to the Chat Completion Client is deterministic for a
// given snapshot (spec.md §4.4).
func (t *Transcript) Snapshot(retainTokens int) insight.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	words := make([]string, 0, retainTokens)
	for i := len(t.batches) - 1; i >= 0 && len(words) < retainTokens; i-- {
		parts := stripFillers(strings.Fields(t.batches[i].Text))
		words = append(parts, words...)
	}
	if len(words) > retainTokens {
		words = words[len(words)-retainTokens:]
	}
	return insight.Snapshot{Text: maskPII(strings.Join(words, " "))}
}

// TriggerState reads the two throttle inputs atomically with respect to
// Append/RecordInsight (spec.md §4.4, "evaluated atomically on each trigger").
func (t *Transcript) TriggerState() (tokens int, sinceLastInsight time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since := time.Since(t.lastInsightAt)
	if t.lastInsightAt.IsZero() {
		since = time.Hour * 24 * 365 // effectively "never", always passes the interval check
	}
	return t.tokensSinceLastInsight, since
}

// RecordInsight resets the throttle counters after a successful insight.
func (t *Transcript) RecordInsight() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokensSinceLastInsight = 0
	t.lastInsightAt = time.Now()
	t.insightCount++
}

// Stats reports the final_summary aggregates (spec.md §4.1).
func (t *Transcript) Stats() (batchCount int, totalDuration float64, insightCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.batches {
		totalDuration += b.DurationSeconds
	}
	return len(t.batches), totalDuration, t.insightCount
}
