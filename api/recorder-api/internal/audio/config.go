// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

// Config is a canonical PCM format description.
type Config struct {
	SampleRate uint32
	Channels   uint16
}

// RAPIDA_INTERNAL_AUDIO_CONFIG is the canonical wire format of the recorder:
// everything that leaves a capture source — transcription frames and file
// sink frames alike — is mono 16-bit signed little-endian PCM at this rate.
var RAPIDA_INTERNAL_AUDIO_CONFIG = Config{
	SampleRate: 16000,
	Channels:   1,
}

const (
	// BytesPerSample for LINEAR16.
	BytesPerSample = 2
	// BitsPerSample for LINEAR16.
	BitsPerSample = 16
)

// BytesPerSecond returns the canonical byte rate.
func BytesPerSecond() int {
	return int(RAPIDA_INTERNAL_AUDIO_CONFIG.SampleRate) *
		int(RAPIDA_INTERNAL_AUDIO_CONFIG.Channels) * BytesPerSample
}
