// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "context"

// SourceFormat describes the native format of a capture frame before it is
// converted to the canonical wire format.
type SourceFormat struct {
	SampleRate int
	Channels   int
}

// FrameHandler receives converted canonical PCM frames (mono, 16-bit signed
// little endian) together with their root-mean-square amplitude. It is never
// invoked on the audio-hardware callback goroutine.
type FrameHandler func(source AudioSource, pcm []byte, level float64)

// CaptureSource is one half of the dual capture pipeline. Start is
// synchronous; frames are delivered asynchronously to the handler installed
// at construction until Stop returns.
type CaptureSource interface {
	Source() AudioSource
	Start(ctx context.Context) error
	Stop()
}

// ProcessID is an opaque identifier of an audio-producing process reported
// by the operating system.
type ProcessID string

// ProcessTap is the capability interface over the OS mechanism that
// intercepts audio rendered by other processes. Implementations wrap a
// platform SDK; everything above them is platform independent.
type ProcessTap interface {
	// Activate binds the tap to the given target process set and begins
	// frame delivery. A previously active tap must be invalidated first.
	Activate(ctx context.Context, targets []ProcessID) error
	// Invalidate tears the tap down. Idempotent.
	Invalidate() error
	// OnFrame installs the raw frame callback.
	OnFrame(fn func(samples []int16, format SourceFormat))
	// OnInvalidated installs the callback fired when the tap dies. The
	// argument is true when the teardown was requested through Invalidate.
	OnInvalidated(fn func(requested bool))
}

// ProcessObserver reports changes to the OS list of audio-producing
// processes. The channel delivers the complete current set on every change.
type ProcessObserver interface {
	AudioProcesses() <-chan []ProcessID
}
