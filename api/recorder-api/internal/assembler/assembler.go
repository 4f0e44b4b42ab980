// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_assembler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

// interim tracks the single in-progress utterance of one source: the chunk id
// it occupies in the ordered list and the accumulated text so far.
type interim struct {
	id   string
	text string
}

// Assembler turns per-source streaming transcription events into one ordered
// transcript. Each source holds at most one interim chunk, replaced in place
// as deltas accumulate; an utterance end freezes it into a final chunk under
// the same id. Final chunks are immutable and never reordered.
type Assembler struct {
	logger commons.Logger

	mu       sync.Mutex
	chunks   []internal_type.TranscriptChunk
	interims map[internal_type.AudioSource]*interim
	clock    func() time.Time
}

func New(logger commons.Logger) *Assembler {
	return &Assembler{
		logger:   logger,
		interims: make(map[internal_type.AudioSource]*interim),
		clock:    time.Now,
	}
}

// Seed replaces the transcript with previously persisted chunks, dropping any
// in-progress interims. Used on resume and restore.
func (a *Assembler) Seed(chunks []internal_type.TranscriptChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chunks = internal_type.CloneChunks(chunks)
	a.interims = make(map[internal_type.AudioSource]*interim)
}

// AddDelta appends partial text to the source's current utterance. The first
// delta of an utterance creates the interim chunk; later deltas rewrite it in
// place, so the transcript always shows exactly one growing interim per
// source.
func (a *Assembler) AddDelta(source internal_type.AudioSource, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.interims[source]
	if !ok {
		st = &interim{id: uuid.NewString()}
		a.interims[source] = st
		a.chunks = append(a.chunks, internal_type.TranscriptChunk{
			ID:        st.id,
			Timestamp: a.clock(),
			Source:    source,
		})
	}
	st.text += text

	for i := range a.chunks {
		if a.chunks[i].ID == st.id {
			a.chunks[i].Text = st.text
			return
		}
	}
}

// EndUtterance promotes the source's interim to a final chunk, keeping its id
// and position. The accumulated text wins; the event's text only fills in
// when no deltas were seen (a final arriving straight after a reconnect).
func (a *Assembler) EndUtterance(source internal_type.AudioSource, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.interims[source]
	if !ok {
		if text == "" {
			return
		}
		a.chunks = append(a.chunks, internal_type.TranscriptChunk{
			ID:        uuid.NewString(),
			Timestamp: a.clock(),
			Source:    source,
			Text:      text,
			IsFinal:   true,
		})
		return
	}

	final := st.text
	if final == "" {
		final = text
	}
	delete(a.interims, source)

	for i := range a.chunks {
		if a.chunks[i].ID == st.id {
			if final == "" {
				// Empty utterance: drop the placeholder instead of keeping a
				// blank final.
				a.chunks = append(a.chunks[:i], a.chunks[i+1:]...)
				return
			}
			a.chunks[i].Text = final
			a.chunks[i].IsFinal = true
			return
		}
	}
}

// Snapshot returns a copy of the ordered transcript.
func (a *Assembler) Snapshot() []internal_type.TranscriptChunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	return internal_type.CloneChunks(a.chunks)
}

// Empty reports whether the transcript holds no chunks at all.
func (a *Assembler) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks) == 0
}
