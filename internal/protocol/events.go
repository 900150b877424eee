// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package protocol implements the WebSocket event protocol of
// spec.md §4.1 and §6: a tagged union of inbound client events and
// outbound server events, exchanged as text JSON frames over
// /api/v1/asr/stream.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// InboundType enumerates the tagged variants a client may send.
type InboundType string

const (
	InboundStart InboundType = "start"
	InboundAudio InboundType = "audio"
	InboundStop  InboundType = "stop"
)

// OutboundType enumerates the tagged variants the server may emit.
type OutboundType string

const (
	OutboundReady          OutboundType = "ready"
	OutboundSessionStarted OutboundType = "session_started"
	OutboundPartial        OutboundType = "partial"
	OutboundBatchProcessed OutboundType = "batch_processed"
	OutboundFinal          OutboundType = "final"
	OutboundInsight        OutboundType = "insight"
	OutboundFinalSummary   OutboundType = "final_summary"
	OutboundSessionEnded   OutboundType = "session_ended"
	OutboundError          OutboundType = "error"
)

// Error codes from spec.md §7.
const (
	ErrProtocolError       = "protocol_error"
	ErrPayloadTooLarge     = "payload_too_large"
	ErrWorkerUnavailable   = "worker_unavailable"
	ErrWorkerTransient     = "worker_transient"
	ErrInsightFailed       = "insight_failed"
	ErrContextTooLarge     = "context_too_large"
	ErrInsightFlushTimeout = "insight_flush_timeout"
	ErrTransportError      = "transport_error"
)

// MaxAudioChunkBase64Bytes is the oversized-chunk threshold from spec.md §4.1
// ("> 1 MiB base64").
const MaxAudioChunkBase64Bytes = 1 << 20

var validate = validator.New()

// rawEnvelope is decoded first to read the discriminant; the frame is then
// re-unmarshalled into the concrete event struct named by Type.
type rawEnvelope struct {
	Type InboundType `json:"type"`
}

// StartEvent opens a session. Only valid while the Session Coordinator is
// in the Opening state.
type StartEvent struct {
	SampleRate        int     `json:"sample_rate" validate:"required,gt=0"`
	Encoding          string  `json:"encoding" validate:"required,oneof=pcm16"`
	Language          string  `json:"language,omitempty"`
	BatchWindowSec    float64 `json:"batch_window_sec,omitempty"`
	MaxBatchWindowSec float64 `json:"max_batch_window_sec,omitempty"`
	EnableInsights    bool    `json:"enable_insights,omitempty"`
	Provider          string  `json:"provider,omitempty"`
	TenantID          string  `json:"tenant_id,omitempty"`
}

// AudioEvent carries one chunk of base64-encoded PCM16 audio.
type AudioEvent struct {
	Chunk string `json:"chunk" validate:"required"`
}

// StopEvent requests a graceful drain. It carries no fields but is kept as
// a distinct type so the state machine can pattern-match on it exhaustively.
type StopEvent struct{}

// InboundEvent is the decoded, typed result of ParseInbound: exactly one of
// Start, Audio, Stop is non-nil.
type InboundEvent struct {
	Type  InboundType
	Start *StartEvent
	Audio *AudioEvent
	Stop  *StopEvent
}

// ParseInbound decodes one JSON frame into a typed InboundEvent. Unknown
// variants and malformed fields both resolve to a protocol_error the caller
// reports via NewErrorEvent.
func ParseInbound(raw []byte) (*InboundEvent, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case InboundStart:
		var s StartEvent
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("malformed start event: %w", err)
		}
		if err := validate.Struct(&s); err != nil {
			return nil, fmt.Errorf("invalid start event: %w", err)
		}
		return &InboundEvent{Type: InboundStart, Start: &s}, nil
	case InboundAudio:
		var a AudioEvent
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("malformed audio event: %w", err)
		}
		if err := validate.Struct(&a); err != nil {
			return nil, fmt.Errorf("invalid audio event: %w", err)
		}
		return &InboundEvent{Type: InboundAudio, Audio: &a}, nil
	case InboundStop:
		return &InboundEvent{Type: InboundStop, Stop: &StopEvent{}}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

// --- Outbound event payloads -------------------------------------------------

// Segment is a word/phrase-level transcript fragment with optional speaker
// attribution, per spec.md §3.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker,omitempty"`
}

type readyPayload struct{}

type sessionStartedPayload struct {
	SessionID string `json:"session_id"`
}

type partialPayload struct {
	BatchIndex int    `json:"batch_index"`
	Text       string `json:"text"`
}

type batchProcessedPayload struct {
	BatchIndex int     `json:"batch_index"`
	Text       string  `json:"text"`
	Tokens     int     `json:"tokens"`
	Duration   float64 `json:"duration"`
}

type finalPayload struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

type insightPayload struct {
	Type         string  `json:"type"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	Model        string  `json:"model"`
	GeneratedAt  string  `json:"generated_at"`
}

type finalSummaryStats struct {
	BatchCount      int     `json:"batch_count"`
	TotalDuration   float64 `json:"total_duration"`
	InsightCount    int     `json:"insight_count"`
}

type finalSummaryPayload struct {
	Transcript string            `json:"transcript"`
	Stats      finalSummaryStats `json:"stats"`
}

type sessionEndedPayload struct {
	SessionID string `json:"session_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutboundEvent is the wire shape written back to the client. Events queue
// on the session's bounded outbound channel; ordering is enforced by the
// single writer goroutine draining it, not by this type.
type OutboundEvent struct {
	Type OutboundType `json:"type"`
	Data interface{}  `json:"data,omitempty"`
}

func NewReadyEvent() OutboundEvent {
	return OutboundEvent{Type: OutboundReady, Data: readyPayload{}}
}

func NewSessionStartedEvent(sessionID string) OutboundEvent {
	return OutboundEvent{Type: OutboundSessionStarted, Data: sessionStartedPayload{SessionID: sessionID}}
}

func NewPartialEvent(batchIndex int, text string) OutboundEvent {
	return OutboundEvent{Type: OutboundPartial, Data: partialPayload{BatchIndex: batchIndex, Text: text}}
}

func NewBatchProcessedEvent(batchIndex int, text string, tokens int, duration float64) OutboundEvent {
	return OutboundEvent{Type: OutboundBatchProcessed, Data: batchProcessedPayload{
		BatchIndex: batchIndex, Text: text, Tokens: tokens, Duration: duration,
	}}
}

func NewFinalEvent(text string, segments []Segment) OutboundEvent {
	return OutboundEvent{Type: OutboundFinal, Data: finalPayload{Text: text, Segments: segments}}
}

func NewInsightEvent(insightType, text string, confidence float64, model, generatedAt string) OutboundEvent {
	return OutboundEvent{Type: OutboundInsight, Data: insightPayload{
		Type: insightType, Text: text, Confidence: confidence, Model: model, GeneratedAt: generatedAt,
	}}
}

func NewFinalSummaryEvent(transcript string, batchCount int, totalDuration float64, insightCount int) OutboundEvent {
	return OutboundEvent{Type: OutboundFinalSummary, Data: finalSummaryPayload{
		Transcript: transcript,
		Stats: finalSummaryStats{
			BatchCount:    batchCount,
			TotalDuration: totalDuration,
			InsightCount:  insightCount,
		},
	}}
}

func NewSessionEndedEvent(sessionID string) OutboundEvent {
	return OutboundEvent{Type: OutboundSessionEnded, Data: sessionEndedPayload{SessionID: sessionID}}
}

func NewErrorEvent(code, message string) OutboundEvent {
	return OutboundEvent{Type: OutboundError, Data: errorPayload{Code: code, Message: message}}
}
