// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package chatclient

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Backend names the three tiers of spec.md §4.4.
type Backend string

const (
	BackendFast        Backend = "fast"
	BackendBalanced    Backend = "balanced"
	BackendHighContext Backend = "high_context"
)

// ErrContextTooLarge is returned by SelectBackend when the snapshot exceeds
// the configured ceiling; callers map this to the context_too_large code.
var ErrContextTooLarge = errors.New("prompt exceeds configured context ceiling")

// Thresholds holds the three prompt-token cutoffs from LLM_ROUTING_THRESHOLDS.
type Thresholds struct {
	FastMaxTokens     int
	BalancedMaxTokens int
	RejectTokens      int
}

// SelectBackend picks a tier for a prompt of promptTokens tokens.
func (t Thresholds) SelectBackend(promptTokens int) (Backend, error) {
	if promptTokens > t.RejectTokens {
		return "", ErrContextTooLarge
	}
	if promptTokens < t.FastMaxTokens {
		return BackendFast, nil
	}
	if promptTokens < t.BalancedMaxTokens {
		return BackendBalanced, nil
	}
	return BackendHighContext, nil
}

// encodingName is the cl100k-family encoding used for estimating prompt
// size ahead of routing; it approximates every backend closely enough for
// a threshold decision, matching how the teacher's own token counting
// (pkg/utils token estimation for provider dispatch) treats it as an
// estimate rather than an exact backend-native count.
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func getEncoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens estimates the token count of text.
func CountTokens(text string) (int, error) {
	e, err := getEncoding()
	if err != nil {
		return 0, fmt.Errorf("load tokenizer: %w", err)
	}
	return len(e.Encode(text, nil, nil)), nil
}

// CountMessageTokens sums the estimated token count across all messages.
func CountMessageTokens(messages []Message) (int, error) {
	total := 0
	for _, m := range messages {
		n, err := CountTokens(m.Content)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
