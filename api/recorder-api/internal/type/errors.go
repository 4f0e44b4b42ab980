// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "fmt"

// CaptureError is a device or format failure from a capture source. It is
// surfaced only after the source has exhausted its bounded reinitialize
// retries, so receiving one is fatal for the session.
type CaptureError struct {
	Source   AudioSource
	Attempts int
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed for %s after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// TapError is a process-tap activation or permission failure. Remediation
// holds user-facing guidance (for example, granting the audio recording
// permission in system settings).
type TapError struct {
	Remediation string
	Err         error
}

func (e *TapError) Error() string {
	return fmt.Sprintf("system audio tap failed: %v", e.Err)
}

func (e *TapError) Unwrap() error { return e.Err }
