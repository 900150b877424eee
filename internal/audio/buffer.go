// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audio

import (
	"fmt"
	"sync"
)

const bytesPerSample = bitsPerSample / 8

// Buffer accumulates raw PCM16 mono samples for one session between batch
// flushes. It is a plain append-and-truncate slice rather than a circular
// ring: a session's in-flight audio is at most MAX_BUFFER_SEC worth of
// bytes, so the array-copy cost of truncation is bounded and the code stays
// three lines instead of carrying a ring-buffer dependency for it.
type Buffer struct {
	mu         sync.Mutex
	sampleRate int
	data       []byte
	maxBytes   int
}

// NewBuffer builds a Buffer for sampleRate Hz mono PCM16 audio, forcing a
// flush once more than maxBufferSec worth of samples have accumulated
// (spec.md §4.2, "buffer exceeds max_buffer_sec").
func NewBuffer(sampleRate int, maxBufferSec float64) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		data:       make([]byte, 0, sampleRate*bytesPerSample),
		maxBytes:   int(float64(sampleRate*bytesPerSample) * maxBufferSec),
	}
}

// Append adds raw PCM16 bytes to the buffer. It returns true if the buffer
// is now at or beyond its forced-flush threshold.
func (b *Buffer) Append(pcm []byte) (overflow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, pcm...)
	return len(b.data) >= b.maxBytes
}

// Len returns the number of buffered PCM bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationSeconds returns how many seconds of audio are currently buffered.
func (b *Buffer) DurationSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.data)) / float64(b.sampleRate*bytesPerSample)
}

// Snapshot copies out everything buffered so far, wrapped as a WAV file,
// and truncates the internal buffer to empty. Returns nil if there is
// nothing to flush.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(len(b.data))
}

// SnapshotUpTo copies out at most maxDurationSec worth of buffered audio
// from the front, wrapped as a WAV file, and shifts any remainder to the
// front of the buffer instead of discarding it. Used for the max_buffer_sec
// forced flush (spec.md §4.2/§4.3 trigger 4), which cuts only
// max_batch_window_sec worth off the front rather than draining everything
// that has accumulated past the cap. A non-positive maxDurationSec behaves
// like Snapshot.
func (b *Buffer) SnapshotUpTo(maxDurationSec float64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.data)
	if maxDurationSec > 0 {
		if cut := int(float64(b.sampleRate*bytesPerSample) * maxDurationSec); cut < n {
			n = cut
		}
	}
	return b.snapshotLocked(n)
}

// snapshotLocked assumes b.mu is held. It copies out the first n bytes of
// b.data, shifts whatever remains to the front, and truncates.
func (b *Buffer) snapshotLocked(n int) []byte {
	if len(b.data) == 0 {
		return nil
	}
	pcm := make([]byte, n)
	copy(pcm, b.data[:n])
	remaining := copy(b.data, b.data[n:])
	b.data = b.data[:remaining]
	return WrapWAV(pcm, b.sampleRate)
}

// AppendChecked rejects an oversized decoded chunk before appending it,
// otherwise behaving like Append.
func (b *Buffer) AppendChecked(pcm []byte, maxChunkBytes int) (overflow bool, err error) {
	if len(pcm) > maxChunkBytes {
		return false, fmt.Errorf("audio chunk of %d bytes exceeds max %d", len(pcm), maxChunkBytes)
	}
	return b.Append(pcm), nil
}
