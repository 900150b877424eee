// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapWAV_HeaderFields(t *testing.T) {
	pcm := make([]byte, 320) // 10ms @ 16kHz mono16
	out := WrapWAV(pcm, 16000)

	assert.Len(t, out, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(out[0:4]))
	assert.Equal(t, "WAVE", string(out[8:12]))
	assert.Equal(t, "fmt ", string(out[12:16]))
	assert.Equal(t, "data", string(out[36:40]))

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[20:22])) // PCM format tag
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[22:24])) // mono
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(out[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(out[28:32])) // byte rate
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(out[32:34]))    // block align
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(out[34:36]))   // bits per sample
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(out[40:44]))
}

func TestWrapWAV_EmptyPayload(t *testing.T) {
	out := WrapWAV(nil, 8000)
	assert.Len(t, out, wavHeaderSize)
}
