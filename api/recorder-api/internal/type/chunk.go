// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "time"

// TranscriptChunk is one segment of recognized speech. A chunk is either
// interim (replaceable, at most one per source at any time) or final
// (immutable once emitted). The ID is assigned once and never reused.
type TranscriptChunk struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Source    AudioSource `json:"source"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
}

// CloneChunks returns a defensive copy so owners can hand out snapshots
// without exposing their backing slice.
func CloneChunks(chunks []TranscriptChunk) []TranscriptChunk {
	if chunks == nil {
		return nil
	}
	out := make([]TranscriptChunk, len(chunks))
	copy(out, chunks)
	return out
}

// AudioFileRef points at the finalized per-track recordings of a session.
type AudioFileRef struct {
	MicrophonePath string `json:"microphone_path"`
	SystemPath     string `json:"system_path"`
}

// SessionSnapshot is the read-only view of a recording session published to
// external observers. Mutating a snapshot never affects the coordinator.
type SessionSnapshot struct {
	SessionID    string
	IsRecording  bool
	Chunks       []TranscriptChunk
	ErrorMessage string
	// Transient marks ErrorMessage as informational; it clears itself.
	Transient bool
	// Levels carries the latest root-mean-square amplitude per source.
	Levels map[AudioSource]float64
}
