// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound_Start(t *testing.T) {
	raw := []byte(`{"type":"start","sample_rate":16000,"encoding":"pcm16","enable_insights":true}`)
	ev, err := ParseInbound(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Start)
	assert.Equal(t, InboundStart, ev.Type)
	assert.Equal(t, 16000, ev.Start.SampleRate)
	assert.True(t, ev.Start.EnableInsights)
}

func TestParseInbound_StartRejectsBadEncoding(t *testing.T) {
	raw := []byte(`{"type":"start","sample_rate":16000,"encoding":"mulaw"}`)
	_, err := ParseInbound(raw)
	assert.Error(t, err)
}

func TestParseInbound_StartRejectsMissingSampleRate(t *testing.T) {
	raw := []byte(`{"type":"start","encoding":"pcm16"}`)
	_, err := ParseInbound(raw)
	assert.Error(t, err)
}

func TestParseInbound_Audio(t *testing.T) {
	raw := []byte(`{"type":"audio","chunk":"AAECAw=="}`)
	ev, err := ParseInbound(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Audio)
	assert.Equal(t, "AAECAw==", ev.Audio.Chunk)
}

func TestParseInbound_AudioRejectsEmptyChunk(t *testing.T) {
	raw := []byte(`{"type":"audio","chunk":""}`)
	_, err := ParseInbound(raw)
	assert.Error(t, err)
}

func TestParseInbound_Stop(t *testing.T) {
	raw := []byte(`{"type":"stop"}`)
	ev, err := ParseInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, InboundStop, ev.Type)
	require.NotNil(t, ev.Stop)
}

func TestParseInbound_UnknownType(t *testing.T) {
	raw := []byte(`{"type":"bogus"}`)
	_, err := ParseInbound(raw)
	assert.Error(t, err)
}

func TestParseInbound_MalformedJSON(t *testing.T) {
	_, err := ParseInbound([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewErrorEvent_Roundtrip(t *testing.T) {
	ev := NewErrorEvent(ErrProtocolError, "unexpected event in state Opening")
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "error", decoded["type"])

	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, ErrProtocolError, data["code"])
}

func TestNewBatchProcessedEvent_Fields(t *testing.T) {
	ev := NewBatchProcessedEvent(3, "hello world", 2, 4.75)
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "batch_processed", decoded["type"])
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["batch_index"])
	assert.Equal(t, "hello world", data["text"])
}
