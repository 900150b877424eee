// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendAndSnapshot(t *testing.T) {
	b := NewBuffer(16000, 10)
	chunk := make([]byte, 3200) // 100ms

	overflow := b.Append(chunk)
	assert.False(t, overflow)
	assert.Equal(t, 3200, b.Len())

	snap := b.Snapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap, wavHeaderSize+3200)
	assert.Equal(t, 0, b.Len(), "snapshot must truncate the buffer")
}

func TestBuffer_SnapshotEmptyReturnsNil(t *testing.T) {
	b := NewBuffer(16000, 10)
	assert.Nil(t, b.Snapshot())
}

func TestBuffer_OverflowAtMaxBufferSec(t *testing.T) {
	b := NewBuffer(8000, 1) // max 1 second = 16000 bytes at 8kHz mono16
	assert.False(t, b.Append(make([]byte, 15000)))
	assert.True(t, b.Append(make([]byte, 2000)))
}

func TestBuffer_DurationSeconds(t *testing.T) {
	b := NewBuffer(16000, 10)
	b.Append(make([]byte, 16000*2)) // 2 seconds of mono16 @ 16kHz
	assert.InDelta(t, 2.0, b.DurationSeconds(), 0.001)
}

func TestBuffer_AppendCheckedRejectsOversizedChunk(t *testing.T) {
	b := NewBuffer(16000, 10)
	_, err := b.AppendChecked(make([]byte, 100), 50)
	assert.Error(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_AppendCheckedAcceptsWithinLimit(t *testing.T) {
	b := NewBuffer(16000, 10)
	overflow, err := b.AppendChecked(make([]byte, 40), 50)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, 40, b.Len())
}

func TestBuffer_SnapshotUpToLeavesRemainderBuffered(t *testing.T) {
	b := NewBuffer(16000, 10)
	b.Append(make([]byte, 16000*2*3)) // 3 seconds of mono16 @ 16kHz

	snap := b.SnapshotUpTo(2) // cut only the first 2 seconds
	require.NotNil(t, snap)
	assert.Len(t, snap, wavHeaderSize+16000*2*2)
	assert.InDelta(t, 1.0, b.DurationSeconds(), 0.001, "the remaining 1s must stay buffered")
}

func TestBuffer_SnapshotUpToNonPositiveTakesEverything(t *testing.T) {
	b := NewBuffer(16000, 10)
	b.Append(make([]byte, 3200))
	snap := b.SnapshotUpTo(0)
	require.NotNil(t, snap)
	assert.Len(t, snap, wavHeaderSize+3200)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_SnapshotUpToBeyondBufferedTakesEverything(t *testing.T) {
	b := NewBuffer(16000, 10)
	b.Append(make([]byte, 3200))
	snap := b.SnapshotUpTo(100)
	require.NotNil(t, snap)
	assert.Len(t, snap, wavHeaderSize+3200)
	assert.Equal(t, 0, b.Len())
}
