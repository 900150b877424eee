// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package chatclient implements the Chat Completion Client of spec.md
// §4.6: one interface, two concrete backends (an OpenAI-compatible
// endpoint for the fast/balanced tiers, Anthropic's API for the
// high-context tier), selected by the Insight Manager from a prompt-token
// count rather than imported directly — mirroring the teacher's
// IntegrationServiceClient, which dispatches to a concrete provider
// implementation behind one interface chosen by a provider-name hint.
package chatclient

import (
	"context"
	"errors"
	"fmt"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Response is the buffered result of a completion call.
type Response struct {
	Text       string
	Confidence float64
	Model      string
}

// CompleteOptions configures a single completion call.
type CompleteOptions struct {
	MaxTokens      int
	Temperature    float64
	StrictJSON     bool // requests response_format: json_object on the OpenAI-compatible backend; the Anthropic backend ignores it.
}

// Client is implemented once per backend (OpenAI-style, Anthropic-style);
// the Insight Manager only ever holds this interface.
type Client interface {
	// Complete returns a single buffered response. Implementations enforce
	// ctx's deadline themselves; callers must always pass one with a
	// deadline attached (spec.md §4.6, "enforces a caller-supplied deadline").
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (*Response, error)
}

// RateLimited wraps an HTTP 429 (or provider-native rate-limit signal).
// Eligible for exactly one retry with backoff.
type RateLimited struct{ Cause error }

func (e *RateLimited) Error() string { return fmt.Sprintf("rate limited: %v", e.Cause) }
func (e *RateLimited) Unwrap() error { return e.Cause }

// Transient wraps an HTTP 5xx from the chat backend. Eligible for exactly
// one retry with backoff; transport-level failures are not wrapped as
// Transient and are fatal.
type Transient struct{ Cause error }

func (e *Transient) Error() string { return fmt.Sprintf("transient chat backend error: %v", e.Cause) }
func (e *Transient) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is eligible for the single allowed retry.
func IsRetryable(err error) bool {
	var rl *RateLimited
	var tr *Transient
	return errors.As(err, &rl) || errors.As(err, &tr)
}

// InsightOutput is the strict schema every insight completion must
// validate against (spec.md §4.4: "{type, text, confidence}").
type InsightOutput struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ValidateInsightOutput enforces the required-fields and confidence-clamp
// rules from spec.md §4.4.
func ValidateInsightOutput(out *InsightOutput) error {
	if out.Text == "" {
		return errors.New("insight output missing text")
	}
	if out.Type == "" {
		return errors.New("insight output missing type")
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return nil
}
