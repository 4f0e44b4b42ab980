// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_tap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

const (
	// DefaultDebounce collapses bursts of process-list changes; apps often
	// open and close audio units several times in quick succession.
	DefaultDebounce = time.Second
	// DefaultRestartDelay is the pause before reviving a tap the OS tore
	// down underneath us.
	DefaultRestartDelay = 100 * time.Millisecond

	// PermissionRemediation is the user-facing guidance attached to tap
	// activation failures.
	PermissionRemediation = "grant the audio recording permission in System Settings > Privacy & Security and restart the recording"
)

// Option configures the controller.
type Option func(*Controller)

// WithDebounce overrides the process-list change debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithRestartDelay overrides the delay before auto-restarting an
// unexpectedly invalidated tap.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Controller) { c.restartDelay = d }
}

// WithFatalHandler installs the callback for unrecoverable tap errors.
func WithFatalHandler(fn func(*internal_type.TapError)) Option {
	return func(c *Controller) { c.onFatal = fn }
}

// Controller keeps the process tap bound to the current set of
// audio-producing processes. Target-set changes recreate the tap without
// touching the recording flag or the streaming connections; tap deaths the
// controller did not cause are revived after a short delay.
type Controller struct {
	logger   commons.Logger
	tap      internal_type.ProcessTap
	observer internal_type.ProcessObserver

	debounce     time.Duration
	restartDelay time.Duration
	onFatal      func(*internal_type.TapError)

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	recording bool
	// restartInProgress gates the auto-restart path: invalidations caused
	// by our own recreate cycle must not spawn another restart.
	restartInProgress bool
	targets           []internal_type.ProcessID
	pending           []internal_type.ProcessID
	debounceTimer     *time.Timer
	restartTimer      *time.Timer
}

// NewController wires the controller to a tap and a process observer.
func NewController(logger commons.Logger, tap internal_type.ProcessTap, observer internal_type.ProcessObserver, opts ...Option) *Controller {
	c := &Controller{
		logger:       logger,
		tap:          tap,
		observer:     observer,
		debounce:     DefaultDebounce,
		restartDelay: DefaultRestartDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	tap.OnInvalidated(c.onInvalidated)
	return c
}

// Start activates the tap against the given initial target set and begins
// watching the process list.
func (c *Controller) Start(ctx context.Context, initial []internal_type.ProcessID) error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return fmt.Errorf("tap controller already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx
	c.cancel = cancel
	c.recording = true
	c.targets = sortedTargets(initial)
	c.mu.Unlock()

	if err := c.tap.Activate(ctx, initial); err != nil {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		cancel()
		return &internal_type.TapError{Remediation: PermissionRemediation, Err: err}
	}

	go c.watch(ctx)
	c.logger.Infof("system audio tap active: %d target processes", len(initial))
	return nil
}

// Stop tears the tap down. The tap is never reused; a later Start gets a
// freshly activated one.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	if err := c.tap.Invalidate(); err != nil {
		c.logger.Warnf("tap invalidate on stop failed: %v", err)
	}
	c.logger.Info("system audio tap stopped")
}

// Targets returns the tap's current target set.
func (c *Controller) Targets() []internal_type.ProcessID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]internal_type.ProcessID, len(c.targets))
	copy(out, c.targets)
	return out
}

func (c *Controller) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case processes, ok := <-c.observer.AudioProcesses():
			if !ok {
				return
			}
			c.scheduleRecompute(processes)
		}
	}
}

// scheduleRecompute debounces process-list churn; only the latest reported
// set matters once the window elapses.
func (c *Controller) scheduleRecompute(processes []internal_type.ProcessID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return
	}
	c.pending = sortedTargets(processes)
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounce, c.recompute)
}

func (c *Controller) recompute() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	next := c.pending
	current := c.targets
	c.mu.Unlock()

	if targetsEqual(current, next) {
		return
	}
	c.logger.Infof("tap target set changed: %d -> %d processes", len(current), len(next))
	c.recreate(next)
}

// recreate invalidates and re-activates the tap against a new target set.
// restartInProgress suppresses the auto-restart the self-inflicted
// invalidation would otherwise trigger.
func (c *Controller) recreate(targets []internal_type.ProcessID) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.restartInProgress = true
	ctx := c.ctx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.restartInProgress = false
		c.mu.Unlock()
	}()

	if err := c.tap.Invalidate(); err != nil {
		c.logger.Warnf("tap invalidate before recreate failed: %v", err)
	}
	if err := c.tap.Activate(ctx, targets); err != nil {
		c.fatal(err)
		return
	}

	c.mu.Lock()
	c.targets = targets
	c.mu.Unlock()
}

// onInvalidated handles the tap dying. Controller-initiated teardown and
// recreate cycles are ignored; everything else is a transient OS fault and
// gets an automatic restart while recording is active.
func (c *Controller) onInvalidated(requested bool) {
	c.mu.Lock()
	if requested || c.restartInProgress || !c.recording {
		c.mu.Unlock()
		return
	}
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	c.logger.Warnf("system audio tap invalidated by OS, restarting in %s", c.restartDelay)
	c.restartTimer = time.AfterFunc(c.restartDelay, func() {
		c.mu.Lock()
		targets := c.targets
		recording := c.recording
		c.mu.Unlock()
		if !recording {
			return
		}
		c.recreate(targets)
	})
	c.mu.Unlock()
}

func (c *Controller) fatal(err error) {
	tapErr := &internal_type.TapError{Remediation: PermissionRemediation, Err: err}
	c.logger.Errorf("tap activation failed: %v", err)
	if c.onFatal != nil {
		c.onFatal(tapErr)
	}
}

func sortedTargets(in []internal_type.ProcessID) []internal_type.ProcessID {
	out := make([]internal_type.ProcessID, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func targetsEqual(a, b []internal_type.ProcessID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
