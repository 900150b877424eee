// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/config"
	"github.com/rapidaai/streamgateway/internal/flusher"
	"github.com/rapidaai/streamgateway/internal/insight"
	"github.com/rapidaai/streamgateway/internal/metrics"
	"github.com/rapidaai/streamgateway/internal/protocol"
	"github.com/rapidaai/streamgateway/internal/workerclient"
)

// Conn is the narrow duplex-transport surface the coordinator needs; a
// *websocket.Conn satisfies it directly, and a fake satisfies it in tests
// without opening a socket — the same shape as the teacher's baseStreamer
// reading frames off an abstracted channel instead of a concrete driver.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Deps bundles the shared, process-wide collaborators a Coordinator needs;
// one Deps is built once at startup and handed to every connection.
type Deps struct {
	Worker   *workerclient.Client
	Insight  *insight.Manager
	Binding  *binding.Store
	Registry *Registry
	Cfg      *config.AppConfig
	Logger   commons.Logger
}

// Coordinator is the Session Coordinator of spec.md §4.1: one instance per
// duplex connection, owning the state machine, the Flusher, and the
// session's outbound ordering.
type Coordinator struct {
	conn     Conn
	tenantID string
	deps     Deps
	sess     *Session
	flusher  *flusher.Flusher
	logger   commons.Logger
}

// NewCoordinator builds a Coordinator for one freshly-upgraded connection.
// tenantID comes from the already-validated bearer token.
func NewCoordinator(conn Conn, tenantID string, deps Deps) *Coordinator {
	return &Coordinator{conn: conn, tenantID: tenantID, deps: deps, logger: deps.Logger}
}

const textMessage = 1 // websocket.TextMessage, duplicated to avoid importing gorilla here.

// Run drives the connection to completion. It returns only after the
// session has reached Closed (or the handshake failed outright).
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.handshake(ctx); err != nil {
		return err
	}
	defer c.teardown()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop(ctx)

	c.drain(ctx)
	c.sess.CloseOutbound()
	<-writerDone
	return nil
}

// handshake waits for exactly one `start` frame and allocates the Session,
// per spec.md §4.1 ("Opening -> on valid start ..."). Anything else closes
// the connection with protocol_error — there is no session yet to carry an
// error event through, so it is written directly.
func (c *Coordinator) handshake(ctx context.Context) error {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}

	ev, err := protocol.ParseInbound(raw)
	if err != nil || ev.Type != protocol.InboundStart {
		c.writeDirect(protocol.NewErrorEvent(protocol.ErrProtocolError, "expected start event to open a session"))
		c.conn.Close()
		return fmt.Errorf("handshake: expected start event")
	}

	sessionID := uuid.NewString()
	c.sess = New(sessionID, c.tenantID, ev.Start, c.deps.Cfg.MaxBufferSec)
	c.flusher = flusher.New(sessionID, flusher.Config{
		BatchWindowSec:    c.sess.BatchWindowSec,
		MaxBatchWindowSec: c.sess.MaxBatchWindowSec,
		MaxBufferSec:      c.sess.MaxBufferSec,
		Language:          c.sess.Language,
		Model:             "default",
		ComputeType:       "int8",
	}, c.sess.Buffer, c.deps.Worker, c.logger, c.onBatch, c.onFlushFatal)

	metrics.StreamSessionsActive.Inc()
	// The Worker Binding Store's affinity key is bound lazily by the
	// Transcription Worker Client on the session's first Transcribe call
	// (workerclient.Client.bindAddr), not here: it is the one place that
	// actually knows which worker address a retry picked.
	c.deps.Registry.Put(c.sess)
	c.sess.Emit(protocol.NewReadyEvent())
	c.sess.Emit(protocol.NewSessionStartedEvent(sessionID))
	c.sess.MarkRunning()
	c.flusher.Start(ctx)
	return nil
}

// readLoop consumes audio/stop frames while Running, returning once the
// transport closes or a stop is processed.
func (c *Coordinator) readLoop(ctx context.Context) {
	for {
		if c.sess.State() != StateRunning {
			return
		}
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Infow("transport closed", "session_id", c.sess.ID, "err", err)
			c.sess.MarkDraining()
			return
		}

		ev, err := protocol.ParseInbound(raw)
		if err != nil {
			c.sess.Emit(protocol.NewErrorEvent(protocol.ErrProtocolError, err.Error()))
			continue
		}

		switch ev.Type {
		case protocol.InboundAudio:
			c.onAudio(ctx, ev.Audio)
		case protocol.InboundStop:
			c.sess.MarkDraining()
			return
		default:
			c.sess.Emit(protocol.NewErrorEvent(protocol.ErrProtocolError, "event not valid in Running state"))
		}
	}
}

func (c *Coordinator) onAudio(ctx context.Context, ev *protocol.AudioEvent) {
	if len(ev.Chunk) > protocol.MaxAudioChunkBase64Bytes {
		c.sess.Emit(protocol.NewErrorEvent(protocol.ErrPayloadTooLarge, "audio chunk exceeds 1MiB base64 limit"))
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(ev.Chunk)
	if err != nil {
		c.sess.Emit(protocol.NewErrorEvent(protocol.ErrProtocolError, "audio chunk is not valid base64"))
		return
	}

	c.sess.Buffer.Append(pcm)
	c.flusher.NotifyAppend(ctx, c.sess.Buffer.DurationSeconds())
}

// onBatch is the Flusher's post-flush callback: append to the transcript,
// emit batch_processed, and conditionally trigger the Insight Manager.
func (c *Coordinator) onBatch(br flusher.BatchResult) {
	c.sess.Transcript.Append(br)
	tokens, _ := c.sess.Transcript.TriggerState()
	c.sess.Emit(protocol.NewBatchProcessedEvent(br.BatchIndex, br.Text, tokens, br.DurationSeconds))

	if !c.sess.InsightsEnabled || c.sess.State() != StateRunning {
		return
	}

	tokensSince, sinceLast := c.sess.Transcript.TriggerState()
	c.deps.Insight.Trigger(insight.TriggerRequest{
		SessionID:              c.sess.ID,
		TenantID:               c.tenantID,
		TokensSinceLastInsight: tokensSince,
		TimeSinceLastInsight:   sinceLast,
		Snapshot:               c.sess.Transcript.Snapshot(60),
	})
}

func (c *Coordinator) onFlushFatal(err error) {
	c.sess.Emit(protocol.NewErrorEvent(protocol.ErrWorkerUnavailable, err.Error()))
	c.sess.MarkDraining()
}

// drain implements the Draining state (spec.md §4.1): final flush, await
// in-flight insights up to INSIGHT_FLUSH_TIMEOUT, emit final_summary and
// session_ended.
func (c *Coordinator) drain(ctx context.Context) {
	c.flusher.FinalFlush(ctx)

	if c.sess.InsightsEnabled {
		if err := c.deps.Insight.AwaitDrain(ctx, c.sess.ID, c.deps.Cfg.InsightFlushTimeout()); err != nil {
			c.sess.Emit(protocol.NewErrorEvent(protocol.ErrInsightFlushTimeout, "insight drain exceeded deadline"))
		}
	}

	text := c.sess.Transcript.Text()
	batchCount, totalDuration, insightCount := c.sess.Transcript.Stats()
	c.sess.Emit(protocol.NewFinalEvent(text, nil))
	c.sess.Emit(protocol.NewFinalSummaryEvent(text, batchCount, totalDuration, insightCount))
	c.sess.Emit(protocol.NewSessionEndedEvent(c.sess.ID))
	c.sess.MarkClosed()
}

func (c *Coordinator) writeLoop() {
	for {
		ev, ok := c.sess.Next()
		if !ok {
			return
		}
		c.writeDirect(ev)
	}
}

func (c *Coordinator) writeDirect(ev protocol.OutboundEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		c.logger.Errorw("marshal outbound event", "err", err)
		return
	}
	if err := c.conn.WriteMessage(textMessage, b); err != nil {
		c.logger.Warnw("write outbound event failed", "err", err)
	}
}

func (c *Coordinator) teardown() {
	metrics.StreamSessionsActive.Dec()
	if c.sess != nil {
		c.deps.Insight.ReleaseSession(c.sess.ID)
		c.deps.Registry.Remove(c.sess.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.deps.Binding.Release(ctx, c.sess.ID); err != nil {
			c.logger.Warnw("release worker binding failed", "session_id", c.sess.ID, "err", err)
		}
	}
	c.conn.Close()
}
