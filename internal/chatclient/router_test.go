// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thresholds() Thresholds {
	return Thresholds{FastMaxTokens: 2000, BalancedMaxTokens: 8000, RejectTokens: 32000}
}

func TestSelectBackend_Fast(t *testing.T) {
	b, err := thresholds().SelectBackend(500)
	require.NoError(t, err)
	assert.Equal(t, BackendFast, b)
}

func TestSelectBackend_Balanced(t *testing.T) {
	b, err := thresholds().SelectBackend(5000)
	require.NoError(t, err)
	assert.Equal(t, BackendBalanced, b)
}

func TestSelectBackend_HighContext(t *testing.T) {
	b, err := thresholds().SelectBackend(20000)
	require.NoError(t, err)
	assert.Equal(t, BackendHighContext, b)
}

func TestSelectBackend_RejectsOverCeiling(t *testing.T) {
	_, err := thresholds().SelectBackend(40000)
	assert.ErrorIs(t, err, ErrContextTooLarge)
}

func TestSelectBackend_BoundaryAtFastMax(t *testing.T) {
	b, err := thresholds().SelectBackend(2000)
	require.NoError(t, err)
	assert.Equal(t, BackendBalanced, b, "exactly at the fast ceiling should route to balanced")
}

func TestCountTokens_NonEmpty(t *testing.T) {
	n, err := CountTokens("hello world, this is a transcript snippet")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestValidateInsightOutput_ClampsConfidence(t *testing.T) {
	out := &InsightOutput{Type: "alert", Text: "caller is frustrated", Confidence: 1.4}
	require.NoError(t, ValidateInsightOutput(out))
	assert.Equal(t, 1.0, out.Confidence)

	out.Confidence = -0.2
	require.NoError(t, ValidateInsightOutput(out))
	assert.Equal(t, 0.0, out.Confidence)
}

func TestValidateInsightOutput_RejectsMissingFields(t *testing.T) {
	assert.Error(t, ValidateInsightOutput(&InsightOutput{Type: "alert"}))
	assert.Error(t, ValidateInsightOutput(&InsightOutput{Text: "x"}))
}

func TestParseInsightOutput_RejectsMalformedJSON(t *testing.T) {
	_, err := ParseInsightOutput("not json")
	assert.Error(t, err)
}

func TestParseInsightOutput_Valid(t *testing.T) {
	out, err := ParseInsightOutput(`{"type":"live_summary","text":"caller wants a refund","confidence":0.87}`)
	require.NoError(t, err)
	assert.Equal(t, "live_summary", out.Type)
	assert.Equal(t, 0.87, out.Confidence)
}
