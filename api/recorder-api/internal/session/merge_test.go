// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
)

func TestMergeAppendsUnknownChunks(t *testing.T) {
	held := []internal_type.TranscriptChunk{
		{ID: "a", Text: "one", IsFinal: true},
	}
	incoming := []internal_type.TranscriptChunk{
		{ID: "b", Text: "two", IsFinal: true},
		{ID: "c", Text: "three"},
	}

	merged := mergeChunks(held, incoming)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "b", merged[1].ID)
	assert.Equal(t, "c", merged[2].ID)
}

func TestMergeUpdatesInterimsInPlace(t *testing.T) {
	held := []internal_type.TranscriptChunk{
		{ID: "a", Text: "partial"},
		{ID: "b", Text: "done", IsFinal: true},
	}
	incoming := []internal_type.TranscriptChunk{
		{ID: "a", Text: "partial grew", IsFinal: true},
	}

	merged := mergeChunks(held, incoming)
	require.Len(t, merged, 2)
	assert.Equal(t, "partial grew", merged[0].Text)
	assert.True(t, merged[0].IsFinal)
	assert.Equal(t, "done", merged[1].Text)
}

func TestMergeNeverRewritesHeldFinals(t *testing.T) {
	held := []internal_type.TranscriptChunk{
		{ID: "a", Text: "final text", IsFinal: true},
	}
	incoming := []internal_type.TranscriptChunk{
		{ID: "a", Text: "tampered", IsFinal: false},
	}

	merged := mergeChunks(held, incoming)
	require.Len(t, merged, 1)
	assert.Equal(t, "final text", merged[0].Text)
	assert.True(t, merged[0].IsFinal)
}

func TestMergeIsIdempotent(t *testing.T) {
	held := []internal_type.TranscriptChunk{
		{ID: "a", Text: "one", IsFinal: true},
	}
	incoming := []internal_type.TranscriptChunk{
		{ID: "a", Text: "one", IsFinal: true},
		{ID: "b", Text: "two"},
	}

	once := mergeChunks(held, incoming)
	twice := mergeChunks(once, incoming)
	assert.Equal(t, once, twice)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	held := []internal_type.TranscriptChunk{{ID: "a", Text: "one"}}
	incoming := []internal_type.TranscriptChunk{{ID: "a", Text: "changed"}}

	mergeChunks(held, incoming)
	assert.Equal(t, "one", held[0].Text)
}
