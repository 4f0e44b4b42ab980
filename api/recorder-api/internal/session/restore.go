// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"sync"
	"time"

	"github.com/rapidaai/pkg/commons"
)

const (
	// DefaultRestoreAttempts is how many checkpoints must all observe an
	// empty transcript before emptiness is treated as real loss.
	DefaultRestoreAttempts = 3
	// DefaultRestoreInterval is the spacing between checkpoints.
	DefaultRestoreInterval = 200 * time.Millisecond
)

// restoreVerifier decides whether an empty transcript observed while chunks
// are held is real loss or a transient blip. Emptiness only becomes
// authoritative after all checkpoints observe it in a row while recording;
// the first non-empty observation ends verification with no action. Loss
// triggers restore exactly once per verification round.
type restoreVerifier struct {
	logger   commons.Logger
	attempts int
	interval time.Duration

	// stillEmpty re-checks the transcript at each checkpoint; recording
	// gates the whole verification to an active session.
	stillEmpty func() bool
	recording  func() bool
	// restore is the single terminal action when emptiness persists.
	restore func()

	mu        sync.Mutex
	active    bool
	remaining int
	timer     *time.Timer
}

func newRestoreVerifier(
	logger commons.Logger,
	attempts int,
	interval time.Duration,
	stillEmpty func() bool,
	recording func() bool,
	restore func(),
) *restoreVerifier {
	if attempts <= 0 {
		attempts = DefaultRestoreAttempts
	}
	if interval <= 0 {
		interval = DefaultRestoreInterval
	}
	return &restoreVerifier{
		logger:     logger,
		attempts:   attempts,
		interval:   interval,
		stillEmpty: stillEmpty,
		recording:  recording,
		restore:    restore,
	}
}

// observeEmpty starts a verification round. A round already in flight keeps
// its schedule.
func (v *restoreVerifier) observeEmpty() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active {
		return
	}
	v.active = true
	v.remaining = v.attempts
	v.logger.Warnf("transcript reported empty with held chunks, verifying over %d checkpoints", v.attempts)
	v.schedule()
}

// observeNonEmpty accepts the current transcript: any in-flight round ends
// with no restore write.
func (v *restoreVerifier) observeNonEmpty() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}
	v.cancel()
	v.logger.Info("transcript recovered during verification, restore skipped")
}

// stop abandons any in-flight round, for session teardown.
func (v *restoreVerifier) stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancel()
}

func (v *restoreVerifier) cancel() {
	v.active = false
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *restoreVerifier) schedule() {
	v.timer = time.AfterFunc(v.interval, v.checkpoint)
}

func (v *restoreVerifier) checkpoint() {
	v.mu.Lock()
	if !v.active {
		v.mu.Unlock()
		return
	}
	if !v.recording() {
		v.cancel()
		v.mu.Unlock()
		return
	}
	if !v.stillEmpty() {
		v.cancel()
		v.mu.Unlock()
		v.logger.Info("transcript recovered during verification, restore skipped")
		return
	}
	v.remaining--
	if v.remaining > 0 {
		v.schedule()
		v.mu.Unlock()
		return
	}
	v.cancel()
	v.mu.Unlock()

	v.logger.Warn("transcript emptiness persisted across all checkpoints, restoring held chunks")
	v.restore()
}
