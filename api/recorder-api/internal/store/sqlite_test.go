// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

func newTestStore(t *testing.T) internal_type.Store {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-store"))
	require.NoError(t, err)
	store, err := NewSqliteStore(logger, filepath.Join(t.TempDir(), "recorder.db"))
	require.NoError(t, err)
	return store
}

func testChunks() []internal_type.TranscriptChunk {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return []internal_type.TranscriptChunk{
		{ID: "c1", Timestamp: base, Source: internal_type.SourceMicrophone, Text: "hello", IsFinal: true},
		{ID: "c2", Timestamp: base.Add(time.Second), Source: internal_type.SourceSystem, Text: "hi there", IsFinal: true},
		{ID: "c3", Timestamp: base.Add(2 * time.Second), Source: internal_type.SourceMicrophone, Text: "still talking", IsFinal: false},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, "s1", testChunks(), nil))

	loaded, err := store.LoadChunks(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "c1", loaded[0].ID)
	assert.Equal(t, "c2", loaded[1].ID)
	assert.Equal(t, "c3", loaded[2].ID)
	assert.Equal(t, internal_type.SourceSystem, loaded[1].Source)
	assert.True(t, loaded[0].IsFinal)
	assert.False(t, loaded[2].IsFinal)
}

func TestUnknownSessionYieldsEmptySlice(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.LoadChunks(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestDuplicateSaveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chunks := testChunks()

	require.NoError(t, store.SaveSession(ctx, "s1", chunks, nil))
	require.NoError(t, store.SaveSession(ctx, "s1", chunks, nil))

	loaded, err := store.LoadChunks(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestResaveUpdatesChunkTextAndFinality(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chunks := testChunks()
	require.NoError(t, store.SaveSession(ctx, "s1", chunks, nil))

	// The interim chunk became final with more text.
	chunks[2].Text = "still talking, now done"
	chunks[2].IsFinal = true
	require.NoError(t, store.SaveSession(ctx, "s1", chunks, nil))

	loaded, err := store.LoadChunks(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "still talking, now done", loaded[2].Text)
	assert.True(t, loaded[2].IsFinal)
}

func TestSaveSessionRecordsAudioPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, "s1", testChunks(), nil))
	require.NoError(t, store.SaveSession(ctx, "s1", testChunks(), &internal_type.AudioFileRef{
		MicrophonePath: "/tmp/s1-microphone.wav",
		SystemPath:     "/tmp/s1-system.wav",
	}))

	loaded, err := store.LoadChunks(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, "s1", testChunks(), nil))
	require.NoError(t, store.SaveSession(ctx, "s2", []internal_type.TranscriptChunk{
		{ID: "other", Source: internal_type.SourceMicrophone, Text: "separate", IsFinal: true},
	}, nil))

	loaded, err := store.LoadChunks(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded, 3)

	loaded, err = store.LoadChunks(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "other", loaded[0].ID)
}
