// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "context"

// Store persists transcript chunks and session metadata. Failures are logged
// by callers and never block the session lifecycle.
type Store interface {
	// LoadChunks returns previously persisted chunks for a session in their
	// original insertion order. An unknown session yields an empty slice.
	LoadChunks(ctx context.Context, sessionID string) ([]TranscriptChunk, error)
	// SaveSession upserts the session and its chunk set. Saving the same
	// chunk set twice is a no-op (idempotent under duplicate delivery).
	SaveSession(ctx context.Context, sessionID string, chunks []TranscriptChunk, audio *AudioFileRef) error
}

// CredentialProvider issues the short-lived credential used to open one
// streaming transcription connection. Called once per connection attempt.
type CredentialProvider interface {
	GetStreamingCredential(ctx context.Context) (string, error)
}

// Recorder is the local audio file sink. Frames from both sources are placed
// on a shared wall-clock timeline; Finalize renders the per-track files.
type Recorder interface {
	Start()
	Record(ctx context.Context, source AudioSource, pcm []byte) error
	Finalize() (*AudioFileRef, error)
}

// Uploader ships finalized recordings to backend storage after stop. Invoked
// asynchronously; failures are logged only and never block finalization.
type Uploader interface {
	Upload(ctx context.Context, sessionID string, audio *AudioFileRef) error
}
