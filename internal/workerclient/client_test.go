// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package workerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/commons"
)

func TestClient_Transcribe_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-1", r.Header.Get("X-Session-Affinity"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","segments":[{"start":0,"end":1,"text":"hello world"}],"language":"en","duration_seconds":6.0}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Retries: 2, BackoffBaseMs: 10}, commons.NewNop())
	res, err := c.Transcribe(context.Background(), []byte("RIFF...fakewav"), "en", "base", "int8", "sess-1", 6*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, 6.0, res.DurationSeconds)
}

func TestClient_Transcribe_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"recovered","segments":[],"duration_seconds":1.0}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Retries: 2, BackoffBaseMs: 5}, commons.NewNop())
	res, err := c.Transcribe(context.Background(), []byte("x"), "en", "base", "int8", "sess-2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_Transcribe_FatalAfterExhaustingRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Retries: 2, BackoffBaseMs: 5}, commons.NewNop())
	_, err := c.Transcribe(context.Background(), []byte("x"), "en", "base", "int8", "sess-3", time.Second)
	require.Error(t, err)
	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls)) // initial + 2 retries
}

func TestClient_Transcribe_RotatesToOtherAddrOnTransientFailure(t *testing.T) {
	var callsA, callsB int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&callsA, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"from-a","segments":[],"duration_seconds":1.0}`))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&callsB, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"from-b","segments":[],"duration_seconds":1.0}`))
	}))
	defer srvB.Close()

	c := New(Options{Addrs: []string{srvA.URL, srvB.URL}, Retries: 2, BackoffBaseMs: 5}, commons.NewNop())
	_, err := c.Transcribe(context.Background(), []byte("x"), "en", "base", "int8", "sess-rotate", time.Second)
	require.NoError(t, err)

	// a two-address pool, retried on a 503, must have hit both addresses:
	// the initial pick's first call fails, the next attempt's pick differs
	// by construction, and by the third attempt the cycle returns to the
	// first address for its (now successful) second call.
	assert.Positive(t, atomic.LoadInt32(&callsA))
	assert.Positive(t, atomic.LoadInt32(&callsB))
}

func TestClient_Transcribe_StoreErrorsDoNotBlockTranscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"ok","segments":[],"duration_seconds":1.0}`))
	}))
	defer srv.Close()

	redisClient, _ := redismock.NewClientMock()
	c := New(Options{BaseURL: srv.URL, Retries: 2, BackoffBaseMs: 5}, commons.NewNop())
	c.SetStore(binding.New(redisClient))

	// no expectations were set on the mock, so Lookup/Bind fail — Transcribe
	// must still succeed, treating the binding store as best-effort.
	res, err := c.Transcribe(context.Background(), []byte("x"), "en", "base", "int8", "sess-store", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func TestClient_Transcribe_FatalOn4xxWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Retries: 2, BackoffBaseMs: 5}, commons.NewNop())
	_, err := c.Transcribe(context.Background(), []byte("x"), "en", "base", "int8", "sess-4", time.Second)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
