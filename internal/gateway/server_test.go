// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/chatclient"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/config"
	"github.com/rapidaai/streamgateway/internal/insight"
	"github.com/rapidaai/streamgateway/internal/session"
	"github.com/rapidaai/streamgateway/internal/workerclient"
)

func testCollaborators(t *testing.T, workerHandler http.HandlerFunc) Collaborators {
	t.Helper()
	workerSrv := httptest.NewServer(workerHandler)
	t.Cleanup(workerSrv.Close)

	worker := workerclient.New(workerclient.Options{BaseURL: workerSrv.URL, Retries: 1, BackoffBaseMs: 5}, commons.NewNop())
	client, _ := redismock.NewClientMock()
	registry := session.NewRegistry()
	mgr := insight.New(
		insight.Config{MinTokens: 1, WorkerConcurrency: 1, QueueMaxSize: 4, PerTenantMax: 2, FlushTimeout: time.Second,
			Thresholds: chatclient.Thresholds{FastMaxTokens: 2000, BalancedMaxTokens: 8000, RejectTokens: 32000}},
		insight.Backends{}, commons.NewNop(),
		func(string, *chatclient.InsightOutput, string) {},
		func(string, string, string) {},
	)
	mgr.Start(context.Background())

	return Collaborators{
		Cfg: &config.AppConfig{
			ListenAddr: ":0", JWTSecret: testSecret, JWTIssuer: testIssuer,
			WorkerBaseURL: workerSrv.URL, InsightFlushTimeoutSec: 1,
		},
		Logger:   commons.NewNop(),
		Worker:   worker,
		Insight:  mgr,
		Binding:  binding.New(client),
		Registry: registry,
	}
}

func TestServeWS_RejectsMissingToken(t *testing.T) {
	srv := NewServer(testCollaborators(t, func(w http.ResponseWriter, r *http.Request) {}))
	ts := httptest.NewServer(srv.engine)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/asr/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_HappyPath(t *testing.T) {
	srv := NewServer(testCollaborators(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"hi","segments":[],"duration_seconds":6.0}`))
	}))
	ts := httptest.NewServer(srv.engine)
	defer ts.Close()

	tok := mintToken(t, "tenant-9", false)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/asr/stream?token=" + tok

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "start", "sample_rate": 16000, "encoding": "pcm16",
	}))

	pcm := make([]byte, 16000*2*6)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "audio", "chunk": base64.StdEncoding.EncodeToString(pcm),
	}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "stop"}))

	var types []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		types = append(types, msg["type"].(string))
		if msg["type"] == "session_ended" {
			break
		}
	}

	assert.Contains(t, types, "ready")
	assert.Contains(t, types, "session_started")
	assert.Contains(t, types, "batch_processed")
	assert.Contains(t, types, "session_ended")
}

func TestHealthz_OK(t *testing.T) {
	srv := NewServer(testCollaborators(t, func(w http.ResponseWriter, r *http.Request) {}))
	ts := httptest.NewServer(srv.engine)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
