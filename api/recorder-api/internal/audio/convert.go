// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Convert downmixes and resamples interleaved int16 samples to the canonical
// format in a single stage and returns little-endian PCM bytes. srcRate and
// srcChannels describe the hardware delivery format.
func Convert(samples []int16, srcRate, srcChannels int) ([]byte, error) {
	if srcRate <= 0 || srcChannels <= 0 {
		return nil, fmt.Errorf("invalid source format: rate=%d channels=%d", srcRate, srcChannels)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty sample buffer")
	}
	if len(samples)%srcChannels != 0 {
		return nil, fmt.Errorf("sample count %d not aligned to %d channels", len(samples), srcChannels)
	}

	mono := downmix(samples, srcChannels)
	out := resample(mono, srcRate, int(RAPIDA_INTERNAL_AUDIO_CONFIG.SampleRate))

	pcm := make([]byte, len(out)*BytesPerSample)
	for i, s := range out {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm, nil
}

// downmix averages interleaved channels into a mono signal.
func downmix(samples []int16, channels int) []int16 {
	if channels == 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[f*channels+c])
		}
		mono[f] = int16(sum / int32(channels))
	}
	return mono
}

// resample converts between rates with linear interpolation. Good enough for
// speech at the canonical 16 kHz target; the transcription service does its
// own front-end filtering.
func resample(in []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate {
		return in
	}
	n := int(float64(len(in)) * float64(dstRate) / float64(srcRate))
	if n == 0 {
		n = 1
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		left := int(pos)
		if left >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(left)
		a := float64(in[left])
		b := float64(in[left+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// Level computes the root-mean-square amplitude of a canonical PCM frame,
// normalized to [0, 1]. Used for level metering in the UI.
func Level(pcm []byte) float64 {
	if len(pcm) < BytesPerSample {
		return 0
	}
	var sum float64
	n := len(pcm) / BytesPerSample
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / float64(math.MaxInt16)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
