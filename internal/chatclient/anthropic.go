// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package chatclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicBackend implements Client against Anthropic's Messages API. It
// backs the high-context tier, chosen for large-context prompts that
// exceed what the fast/balanced OpenAI-compatible deployments are sized
// for (spec.md §4.4).
type anthropicBackend struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicBackend builds the high-context Client.
func NewAnthropicBackend(apiKey, model string) Client {
	return &anthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (b *anthropicBackend) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (*Response, error) {
	var system string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: int64(maxInt(opts.MaxTokens, 1)),
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}
	if len(msg.Content) == 0 {
		return nil, errors.New("chat backend returned no content blocks")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{Text: text, Model: string(b.model)}, nil
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &RateLimited{Cause: err}
		case apiErr.StatusCode >= 500:
			return &Transient{Cause: err}
		}
	}
	return fmt.Errorf("chat completion: %w", err)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
