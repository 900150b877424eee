// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIBackend implements Client against any OpenAI-compatible
// /v1/chat/completions endpoint. It backs both the fast and balanced
// tiers; only BaseURL/Model differ between the two constructed instances.
type openAIBackend struct {
	client openai.Client
	model  string
	name   Backend
}

// NewOpenAIBackend builds a Client for one fast/balanced deployment.
func NewOpenAIBackend(baseURL, apiKey, model string, name Backend) Client {
	return &openAIBackend{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		model: model,
		name:  name,
	}
}

func (b *openAIBackend) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       b.model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   openai.Int(int64(opts.MaxTokens)),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.StrictJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat backend returned no choices")
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: string(b.model),
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// mapOpenAIError turns the SDK's status-coded error into the typed
// RateLimited/Transient taxonomy of spec.md §4.6; anything else is fatal.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
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

// ParseInsightOutput decodes and validates a raw JSON insight reply.
func ParseInsightOutput(raw string) (*InsightOutput, error) {
	var out InsightOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse insight output: %w", err)
	}
	if err := ValidateInsightOutput(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
