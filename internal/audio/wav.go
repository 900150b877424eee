// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio implements the per-session PCM16 AudioBuffer of spec.md
// §4.2: accumulate raw samples, snapshot-and-truncate on flush, wrap each
// snapshot in a canonical WAV container for the transcription worker.
package audio

import (
	"encoding/binary"
)

const (
	// wavHeaderSize is the size of a canonical 44-byte PCM WAV header.
	wavHeaderSize = 44
	bitsPerSample = 16
	numChannels   = 1
)

// WrapWAV prepends a 44-byte RIFF/WAVE header describing mono 16-bit PCM at
// sampleRate to pcm, returning a self-contained .wav byte stream.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)

	copy(buf[wavHeaderSize:], pcm)
	return buf
}
