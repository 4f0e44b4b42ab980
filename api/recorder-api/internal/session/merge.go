// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
)

// mergeChunks unions held and incoming by chunk id. Held entries keep their
// position; finals already held are never rewritten; ids only present in
// incoming are appended in their incoming order. Merging the same input twice
// yields the same result.
func mergeChunks(held, incoming []internal_type.TranscriptChunk) []internal_type.TranscriptChunk {
	merged := internal_type.CloneChunks(held)
	index := make(map[string]int, len(merged))
	for i, c := range merged {
		index[c.ID] = i
	}

	for _, c := range incoming {
		i, ok := index[c.ID]
		if !ok {
			index[c.ID] = len(merged)
			merged = append(merged, c)
			continue
		}
		if merged[i].IsFinal {
			continue
		}
		merged[i] = c
	}
	return merged
}
