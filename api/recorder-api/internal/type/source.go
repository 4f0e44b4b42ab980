// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

// AudioSource identifies the provenance of a capture pipeline and of every
// transcript chunk it produces. Assigned once, never changed.
type AudioSource string

const (
	// SourceMicrophone is the local input device.
	SourceMicrophone AudioSource = "mic"
	// SourceSystem is audio rendered by other processes, captured via the
	// process tap.
	SourceSystem AudioSource = "system"
)

// Sources lists every capture source a recording session runs.
func Sources() []AudioSource {
	return []AudioSource{SourceMicrophone, SourceSystem}
}

func (s AudioSource) String() string { return string(s) }

// Valid reports whether s is one of the known sources.
func (s AudioSource) Valid() bool {
	return s == SourceMicrophone || s == SourceSystem
}
