// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/api/recorder-api/internal/audio"
	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

const (
	AudioPCMFormat = 1 // WAV PCM format tag
)

var audioConfig = internal_audio.RAPIDA_INTERNAL_AUDIO_CONFIG

// chunk is a recorded audio fragment placed at a specific position on the
// timeline. ByteOffset is the byte position relative to Start().
type chunk struct {
	ByteOffset int
	Data       []byte
	Source     internal_type.AudioSource
}

type wavRecorder struct {
	logger    commons.Logger
	directory string
	sessionID string

	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []chunk
	// Per-source cursor: the byte position just past the last written byte
	// on each track. Mic audio uses wall-clock placement. System (tap)
	// audio arrives in bursts, so the cursor paces it at the playback rate;
	// only the first chunk after a gap uses wall-clock to anchor position.
	cursor map[internal_type.AudioSource]int
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

// NewWavRecorder builds a dual-track recorder writing one WAV per source
// into directory, named after the session.
func NewWavRecorder(logger commons.Logger, directory, sessionID string) (internal_type.Recorder, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return &wavRecorder{
		logger:    logger,
		directory: directory,
		sessionID: sessionID,
		cursor:    make(map[internal_type.AudioSource]int),
		clock:     time.Now,
	}, nil
}

// Start begins the recording session. Both tracks share this start time.
// Audio is placed on the timeline based on when it arrives relative to
// this moment.
func (r *wavRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

// durationBytes converts a wall-clock duration to a frame-aligned byte count.
func durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(internal_audio.BytesPerSecond()))
	frameSize := internal_audio.BytesPerSample * int(audioConfig.Channels)
	return (raw / frameSize) * frameSize
}

// Record places audio on the source's track at the current wall-clock
// position. Each chunk is positioned based on WHEN it arrives, not just
// appended. Both tracks share the same timeline (Start → Finalize).
func (r *wavRecorder) Record(_ context.Context, source internal_type.AudioSource, pcm []byte) error {
	if !source.Valid() {
		return fmt.Errorf("unknown audio source %q", source)
	}
	if len(pcm) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wallOffset := 0
	if r.started {
		wallOffset = durationBytes(r.clock().Sub(r.startTime))
	}

	var offset int
	switch source {
	case internal_type.SourceMicrophone:
		// Mic delivers at real-time rate, so wall-clock offset is the
		// correct timeline position.
		offset = wallOffset
		if r.cursor[source] > offset {
			offset = r.cursor[source]
		}
	case internal_type.SourceSystem:
		// Tap audio can arrive in bursts. Pace it at the playback rate:
		// a chunk continuing a burst (cursor > wallOffset) goes at the
		// cursor so the track stays gapless; a chunk after silence
		// anchors at wall-clock.
		if r.cursor[source] > wallOffset {
			offset = r.cursor[source]
		} else {
			offset = wallOffset
		}
	}

	// Copy to avoid caller mutations.
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	r.chunks = append(r.chunks, chunk{
		ByteOffset: offset,
		Data:       buf,
		Source:     source,
	})
	r.cursor[source] = offset + len(buf)
	return nil
}

// Finalize renders one WAV file per source and writes both to disk. Both
// WAVs span the full session duration (Start → Finalize); chunks sit at
// their recorded timeline positions and gaps are silence.
func (r *wavRecorder) Finalize() (*internal_type.AudioFileRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return nil, fmt.Errorf("no audio chunks to persist")
	}

	sessionBytes := 0
	if r.started {
		sessionBytes = durationBytes(r.clock().Sub(r.startTime))
	}

	// Minimum buffer size: max(session duration, furthest chunk end).
	totalLen := sessionBytes
	for _, c := range r.chunks {
		if end := c.ByteOffset + len(c.Data); end > totalLen {
			totalLen = end
		}
	}

	micPCM := make([]byte, totalLen)
	systemPCM := make([]byte, totalLen)

	micBytes := 0
	systemBytes := 0
	for _, c := range r.chunks {
		dst := micPCM
		if c.Source == internal_type.SourceSystem {
			dst = systemPCM
			systemBytes += len(c.Data)
		} else {
			micBytes += len(c.Data)
		}
		copy(dst[c.ByteOffset:], c.Data)
	}

	r.logger.Info(fmt.Sprintf(
		"Audio finalize: micAudio=%d (%.2fs), systemAudio=%d (%.2fs), totalLen=%d (%.2fs), chunks=%d",
		micBytes, float64(micBytes)/float64(internal_audio.BytesPerSecond()),
		systemBytes, float64(systemBytes)/float64(internal_audio.BytesPerSecond()),
		totalLen, float64(totalLen)/float64(internal_audio.BytesPerSecond()),
		len(r.chunks),
	))

	micPath := filepath.Join(r.directory, fmt.Sprintf("%s-microphone.wav", r.sessionID))
	systemPath := filepath.Join(r.directory, fmt.Sprintf("%s-system.wav", r.sessionID))

	if err := os.WriteFile(micPath, createWAVFile(micPCM), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write microphone track: %w", err)
	}
	if err := os.WriteFile(systemPath, createWAVFile(systemPCM), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write system track: %w", err)
	}

	return &internal_type.AudioFileRef{
		MicrophonePath: micPath,
		SystemPath:     systemPath,
	}, nil
}

func createWAVFile(pcmData []byte) []byte {
	var buf bytes.Buffer
	sampleRate := audioConfig.SampleRate
	channels := audioConfig.Channels
	bps := internal_audio.BytesPerSecond()

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(internal_audio.BytesPerSample*int(channels)))
	binary.Write(&buf, binary.LittleEndian, uint16(internal_audio.BitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}
