// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"sync/atomic"
	"time"

	"github.com/rapidaai/streamgateway/internal/audio"
	"github.com/rapidaai/streamgateway/internal/protocol"
	"github.com/rapidaai/streamgateway/pkg/utils"
)

// State is the Session Coordinator's state machine position (spec.md §4.1).
type State int32

const (
	StateOpening State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "Opening"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// outboundQueueSize is the bound on a session's outbound channel
// (spec.md §5, "default 64").
const outboundQueueSize = 64

// dropOldEventsAfter is how stale a partial/batch_processed event may get
// before it's dropped under backpressure (spec.md §5).
const dropOldEventsAfter = 2 * time.Second

// Session is the per-connection record of spec.md §3: configuration,
// AudioBuffer, running Transcript, and the outbound event channel.
type Session struct {
	ID       string
	TenantID string
	Language string

	SampleRate        int
	BatchWindowSec    float64
	MaxBatchWindowSec float64
	MaxBufferSec      float64
	InsightsEnabled   bool
	Provider          string

	Buffer     *audio.Buffer
	Transcript *Transcript

	outbound chan timedEvent
	state    atomic.Int32

	createdAt time.Time
}

type timedEvent struct {
	ev       protocol.OutboundEvent
	queuedAt time.Time
	dropable bool
}

// New allocates a Session from a validated start event (spec.md §4.1,
// "Opening -> on valid start: allocate Session"). defaultMaxBufferSec is the
// operator-configured MAX_BUFFER_SEC (config.AppConfig.MaxBufferSec); the
// start event carries no client-settable max_buffer_sec of its own
// (spec.md §3/§6), so every session inherits it, floored at this session's
// own max_batch_window_sec per the "default >= max_batch_window" rule.
func New(id, tenantID string, start *protocol.StartEvent, defaultMaxBufferSec float64) *Session {
	batchWindow := firstNonZero(start.BatchWindowSec, 5.0)
	maxBatchWindow := firstNonZero(start.MaxBatchWindowSec, 10.0)
	if maxBatchWindow < batchWindow {
		maxBatchWindow = batchWindow
	}
	maxBufferSec := defaultMaxBufferSec
	if maxBufferSec < maxBatchWindow {
		maxBufferSec = maxBatchWindow
	}

	s := &Session{
		ID:                id,
		TenantID:          tenantID,
		Language:          start.Language,
		SampleRate:        start.SampleRate,
		BatchWindowSec:    utils.Clamp(batchWindow, 0.5, 15),
		MaxBatchWindowSec: utils.Clamp(maxBatchWindow, batchWindow, 20),
		MaxBufferSec:      maxBufferSec,
		InsightsEnabled:   start.EnableInsights,
		Provider:          start.Provider,
		Buffer:            audio.NewBuffer(start.SampleRate, maxBufferSec),
		Transcript:        newTranscript(),
		outbound:          make(chan timedEvent, outboundQueueSize),
		createdAt:         utils.NowUTC(),
	}
	s.state.Store(int32(StateOpening))
	return s
}

func firstNonZero(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

// State returns the session's current state machine position.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// MarkRunning transitions Opening -> Running.
func (s *Session) MarkRunning() { s.setState(StateRunning) }

// MarkDraining transitions Running -> Draining.
func (s *Session) MarkDraining() { s.setState(StateDraining) }

// MarkClosed transitions Draining -> Closed.
func (s *Session) MarkClosed() { s.setState(StateClosed) }

// Emit enqueues an outbound event. Terminal and insight events are never
// dropped. When the outbound channel is full, a new partial/batch_processed
// event is dropped instead of queued; events already queued are not
// evicted to make room. Separately, Next skips any partial/batch_processed
// event that waited longer than dropOldEventsAfter.
func (s *Session) Emit(ev protocol.OutboundEvent) {
	dropable := ev.Type == protocol.OutboundPartial || ev.Type == protocol.OutboundBatchProcessed
	te := timedEvent{ev: ev, queuedAt: time.Now(), dropable: dropable}

	select {
	case s.outbound <- te:
	default:
		if dropable {
			return
		}
		// Terminal/insight events must never be dropped (spec.md §5, §8):
		// block until the writer goroutine drains room, rather than the
		// teacher's pushInput/pushOutput non-blocking-with-warning pattern.
		// This is safe to block on indefinitely: s.outbound is only ever
		// closed after every Emit call for this session has returned (the
		// coordinator calls CloseOutbound from the same goroutine that
		// drives the Draining state, strictly after emitting session_ended),
		// and the writer goroutine keeps draining until that close.
		s.outbound <- te
	}
}

// Next blocks for the writer goroutine's next outbound event, silently
// skipping any that aged past dropOldEventsAfter while queued. ok is false
// once the channel has been closed and drained.
func (s *Session) Next() (ev protocol.OutboundEvent, ok bool) {
	for te := range s.outbound {
		if te.dropable && time.Since(te.queuedAt) > dropOldEventsAfter {
			continue
		}
		return te.ev, true
	}
	return protocol.OutboundEvent{}, false
}

// CloseOutbound closes the internal channel once no further events will be
// emitted (after session_ended has been queued).
func (s *Session) CloseOutbound() {
	close(s.outbound)
}
