// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package flusher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/streamgateway/internal/audio"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/workerclient"
)

func newTestWorker(t *testing.T, handler http.HandlerFunc) *workerclient.Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return workerclient.New(workerclient.Options{BaseURL: srv.URL, Retries: 2, BackoffBaseMs: 5}, commons.NewNop())
}

func TestFlusher_FinalFlushOnStop(t *testing.T) {
	var mu sync.Mutex
	var batches []BatchResult

	worker := newTestWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hi","segments":[],"duration_seconds":0.5}`))
	})

	buf := audio.NewBuffer(16000, 10)
	buf.Append(make([]byte, 4800)) // 150ms, below batch_window_sec but above 0.1s final-flush floor

	f := New("sess-1", Config{BatchWindowSec: 5, MaxBatchWindowSec: 10, MaxBufferSec: 10, Language: "en", Model: "base", ComputeType: "int8"},
		buf, worker, commons.NewNop(),
		func(br BatchResult) {
			mu.Lock()
			defer mu.Unlock()
			batches = append(batches, br)
		},
		func(err error) { t.Fatalf("unexpected fatal: %v", err) },
	)

	f.Start(context.Background())
	f.FinalFlush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Equal(t, 0, batches[0].BatchIndex)
	assert.Equal(t, "hi", batches[0].Text)
}

func TestFlusher_FinalFlushSkipsBelowMinimum(t *testing.T) {
	called := false
	worker := newTestWorker(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	buf := audio.NewBuffer(16000, 10) // empty buffer
	f := New("sess-2", Config{BatchWindowSec: 5, MaxBatchWindowSec: 10, MaxBufferSec: 10, Language: "en", Model: "base", ComputeType: "int8"},
		buf, worker, commons.NewNop(),
		func(BatchResult) { t.Fatal("onBatch should not fire for an empty buffer") },
		func(error) { t.Fatal("onFatal should not fire") },
	)

	f.Start(context.Background())
	f.FinalFlush(context.Background())
	assert.False(t, called)
}

func TestFlusher_MaxBufferSecForcesFlush(t *testing.T) {
	flushed := make(chan BatchResult, 1)

	worker := newTestWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"batch","segments":[],"duration_seconds":1.0}`))
	})

	// MaxBufferSec(1) < MaxBatchWindowSec(10): the buffer breaches the hard
	// cap well before the batch window would, so the only way this batch
	// fires is via NotifyAppend's forced-flush signal.
	buf := audio.NewBuffer(8000, 2) // 2 second backing cap at 8kHz mono16
	f := New("sess-3", Config{BatchWindowSec: 5, MaxBatchWindowSec: 10, MaxBufferSec: 1, Language: "en", Model: "base", ComputeType: "int8"},
		buf, worker, commons.NewNop(),
		func(br BatchResult) { flushed <- br },
		func(err error) { t.Fatalf("unexpected fatal: %v", err) },
	)

	f.Start(context.Background())
	buf.Append(make([]byte, 17000)) // just over 1s at 8kHz mono16
	f.NotifyAppend(context.Background(), buf.DurationSeconds())

	select {
	case br := <-flushed:
		assert.Equal(t, "batch", br.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("forced flush did not fire")
	}

	// 17000 bytes is far less than MaxBatchWindowSec's worth, so the forced
	// flush cuts all of it and nothing is left buffered.
	assert.InDelta(t, 0, buf.DurationSeconds(), 0.01)
}

func TestFlusher_FatalStopsFurtherFlushes(t *testing.T) {
	worker := newTestWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	var fatalErr error
	buf := audio.NewBuffer(16000, 10)
	buf.Append(make([]byte, 3200))

	f := New("sess-4", Config{BatchWindowSec: 5, MaxBatchWindowSec: 10, MaxBufferSec: 10, Language: "en", Model: "base", ComputeType: "int8"},
		buf, worker, commons.NewNop(),
		func(BatchResult) { t.Fatal("onBatch must not fire on fatal worker error") },
		func(err error) { fatalErr = err },
	)

	f.Start(context.Background())
	f.FinalFlush(context.Background())
	require.Error(t, fatalErr)
	assert.True(t, f.stopped.Load())
}

// guard against pollInterval regressions silently turning the timer into a
// busy loop.
func TestPollInterval_IsBounded(t *testing.T) {
	assert.GreaterOrEqual(t, pollInterval, 50*time.Millisecond)
}
