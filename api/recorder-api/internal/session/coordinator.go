// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	internal_assembler "github.com/rapidaai/api/recorder-api/internal/assembler"
	internal_transcription "github.com/rapidaai/api/recorder-api/internal/transcription"
	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/utils"
)

// Phase is the coordinator lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseRecording Phase = "recording"
	PhaseStopping  Phase = "stopping"
)

const (
	// DefaultPersistDebounce is the quiet period after a transcript change
	// before the chunk set is written out.
	DefaultPersistDebounce = 2 * time.Second
	// DefaultStopGrace holds the final save back so finalization results
	// still in flight when the user stops are included.
	DefaultStopGrace = 600 * time.Millisecond

	updateBuffer = 16
)

// Streamer is the coordinator's view of one streaming transcription client.
type Streamer interface {
	Source() internal_type.AudioSource
	Start(ctx context.Context) error
	Send(pcm []byte) error
	Stop()
}

// TapController owns system-audio tap lifecycle and restarts.
type TapController interface {
	Start(ctx context.Context, initial []internal_type.ProcessID) error
	Stop()
}

// Option configures the coordinator.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	persistDebounce time.Duration
	stopGrace       time.Duration
	restoreAttempts int
	restoreInterval time.Duration
}

// WithPersistDebounce overrides the persistence quiet period.
func WithPersistDebounce(d time.Duration) Option {
	return func(o *coordinatorOptions) { o.persistDebounce = d }
}

// WithStopGrace overrides the deferred final-save window.
func WithStopGrace(d time.Duration) Option {
	return func(o *coordinatorOptions) { o.stopGrace = d }
}

// WithRestorePolicy overrides the emptiness verification checkpoints.
func WithRestorePolicy(attempts int, interval time.Duration) Option {
	return func(o *coordinatorOptions) {
		o.restoreAttempts = attempts
		o.restoreInterval = interval
	}
}

// Config wires the coordinator's collaborators.
type Config struct {
	Store       internal_type.Store
	Assembler   *internal_assembler.Assembler
	Uploader    internal_type.Uploader
	NewRecorder func(sessionID string) (internal_type.Recorder, error)
	Captures    []internal_type.CaptureSource
	Streamers   []Streamer
	Tap         TapController
}

// Coordinator runs the recording session: it seeds the assembler from
// persisted chunks, fans captured audio out to the file sink and the
// streaming clients, merges transcription results into the held chunk set,
// persists on a debounce, and tears everything down on stop with a grace
// window for trailing finals.
type Coordinator struct {
	logger    commons.Logger
	store     internal_type.Store
	asm       *internal_assembler.Assembler
	uploader  internal_type.Uploader
	recorders func(sessionID string) (internal_type.Recorder, error)
	captures  []internal_type.CaptureSource
	streamers map[internal_type.AudioSource]Streamer
	tap       TapController
	opts      coordinatorOptions

	verifier *restoreVerifier
	updates  chan internal_type.SessionSnapshot

	mu           sync.Mutex
	phase        Phase
	sessionID    string
	recorder     internal_type.Recorder
	held         []internal_type.TranscriptChunk
	levels       map[internal_type.AudioSource]float64
	errorKind    string
	errorMessage string
	transient    string
	cancel       context.CancelFunc
	persistTimer *time.Timer
}

// NewCoordinator assembles the session coordinator.
func NewCoordinator(logger commons.Logger, cfg Config, opts ...Option) *Coordinator {
	o := coordinatorOptions{
		persistDebounce: DefaultPersistDebounce,
		stopGrace:       DefaultStopGrace,
		restoreAttempts: DefaultRestoreAttempts,
		restoreInterval: DefaultRestoreInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	streamers := make(map[internal_type.AudioSource]Streamer, len(cfg.Streamers))
	for _, s := range cfg.Streamers {
		streamers[s.Source()] = s
	}

	c := &Coordinator{
		logger:    logger,
		store:     cfg.Store,
		asm:       cfg.Assembler,
		uploader:  cfg.Uploader,
		recorders: cfg.NewRecorder,
		captures:  cfg.Captures,
		streamers: streamers,
		tap:       cfg.Tap,
		opts:      o,
		updates:   make(chan internal_type.SessionSnapshot, updateBuffer),
		phase:     PhaseIdle,
		levels:    make(map[internal_type.AudioSource]float64),
	}
	c.verifier = newRestoreVerifier(logger, o.restoreAttempts, o.restoreInterval,
		func() bool { return c.asm.Empty() },
		func() bool { return c.Phase() == PhaseRecording },
		c.restoreHeld,
	)
	return c
}

// RegisterStreamer attaches a streaming client built against this
// coordinator's handlers. Must happen before Start.
func (c *Coordinator) RegisterStreamer(s Streamer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamers[s.Source()] = s
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Updates streams session snapshots; the newest snapshot wins when the
// consumer falls behind.
func (c *Coordinator) Updates() <-chan internal_type.SessionSnapshot {
	return c.updates
}

// Snapshot returns the current session view.
func (c *Coordinator) Snapshot() internal_type.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start resumes or begins the session: persisted chunks seed the transcript,
// then the recorder sink, capture sources, tap and streaming clients all come
// up together.
func (c *Coordinator) Start(ctx context.Context, sessionID string, tapTargets []internal_type.ProcessID) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return fmt.Errorf("recording session already active")
	}
	c.phase = PhaseStarting
	c.sessionID = sessionID
	c.levels = make(map[internal_type.AudioSource]float64)
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	c.publish()

	chunks, err := c.store.LoadChunks(ctx, sessionID)
	if err != nil {
		c.logger.Warnf("could not load persisted chunks for session %s: %v", sessionID, err)
		chunks = nil
	}
	c.asm.Seed(chunks)
	c.mu.Lock()
	c.held = internal_type.CloneChunks(chunks)
	c.mu.Unlock()
	if len(chunks) > 0 {
		c.logger.Infof("resumed session %s with %d persisted chunks", sessionID, len(chunks))
	}

	recorder, err := c.recorders(sessionID)
	if err != nil {
		c.abortStart(cancel)
		return fmt.Errorf("failed to create audio recorder: %w", err)
	}
	recorder.Start()
	c.mu.Lock()
	c.recorder = recorder
	c.mu.Unlock()

	var g errgroup.Group
	for _, capture := range c.captures {
		capture := capture
		g.Go(func() error { return capture.Start(ctx) })
	}
	if c.tap != nil {
		g.Go(func() error { return c.tap.Start(ctx, tapTargets) })
	}
	for _, s := range c.streamers {
		s := s
		g.Go(func() error { return s.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		c.logger.Errorf("session start failed: %v", err)
		c.stopComponents()
		c.abortStart(cancel)
		return err
	}

	c.mu.Lock()
	c.phase = PhaseRecording
	c.mu.Unlock()
	c.publish()
	c.logger.Infof("recording session %s started", sessionID)
	return nil
}

func (c *Coordinator) abortStart(cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	c.phase = PhaseIdle
	c.recorder = nil
	c.mu.Unlock()
	c.publish()
}

// Stop tears the session down. Streaming clients go first so session.end
// flushes trailing finals; the final save waits out the grace window to
// include them, then the recording uploads in the background.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseRecording {
		c.mu.Unlock()
		return fmt.Errorf("no active recording session")
	}
	c.phase = PhaseStopping
	if c.persistTimer != nil {
		c.persistTimer.Stop()
		c.persistTimer = nil
	}
	recorder := c.recorder
	sessionID := c.sessionID
	cancel := c.cancel
	c.mu.Unlock()
	c.publish()
	c.verifier.stop()

	for _, s := range c.streamers {
		s.Stop()
	}
	for _, capture := range c.captures {
		capture.Stop()
	}
	if c.tap != nil {
		c.tap.Stop()
	}

	var audio *internal_type.AudioFileRef
	if recorder != nil {
		a, err := recorder.Finalize()
		if err != nil {
			c.logger.Warnf("audio finalize failed for session %s: %v", sessionID, err)
		} else {
			audio = a
		}
	}

	// Trailing finalization events merge into held while we wait.
	select {
	case <-time.After(c.opts.stopGrace):
	case <-ctx.Done():
	}

	c.persist(ctx, audio, "stop")

	if c.uploader != nil && audio != nil {
		uploader := c.uploader
		logger := c.logger
		utils.Go(context.Background(), func() {
			if err := uploader.Upload(context.Background(), sessionID, audio); err != nil {
				logger.Warnf("recording upload failed for session %s: %v", sessionID, err)
			}
		})
	}

	if cancel != nil {
		cancel()
	}
	c.mu.Lock()
	c.phase = PhaseIdle
	c.recorder = nil
	c.mu.Unlock()
	c.publish()
	c.logger.Infof("recording session %s stopped", sessionID)
	return nil
}

// HandleFrame routes one canonical PCM frame from a capture source to the
// file sink and that source's streaming client.
func (c *Coordinator) HandleFrame(source internal_type.AudioSource, pcm []byte, level float64) {
	c.mu.Lock()
	if c.phase != PhaseRecording {
		c.mu.Unlock()
		return
	}
	recorder := c.recorder
	streamer := c.streamers[source]
	c.levels[source] = level
	c.mu.Unlock()

	if recorder != nil {
		if err := recorder.Record(context.Background(), source, pcm); err != nil {
			c.logger.Warnf("failed to record %s frame: %v", source, err)
		}
	}
	if streamer != nil {
		streamer.Send(pcm)
	}
	c.publish()
}

// HandleFatal surfaces an unrecoverable capture or tap failure as a
// persistent error without ending the session; the other source keeps going.
func (c *Coordinator) HandleFatal(err error) {
	c.logger.Errorf("capture pipeline failure: %v", err)
	c.setError("capture", err.Error())
}

// TranscriptionHandlers builds the callback set shared by both streaming
// clients.
func (c *Coordinator) TranscriptionHandlers() internal_transcription.Handlers {
	return internal_transcription.Handlers{
		OnTranscriptDelta: func(source internal_type.AudioSource, text, _ string) {
			c.asm.AddDelta(source, text)
			c.transcriptChanged()
		},
		OnUtteranceEnd: func(source internal_type.AudioSource, text string) {
			c.asm.EndUtterance(source, text)
			c.transcriptChanged()
		},
		OnStateChange: func(source internal_type.AudioSource, state internal_transcription.State) {
			c.logger.Debugf("%s transcription state: %s", source, state)
			if state == internal_transcription.StateConnected {
				c.clearError("transcription", "authentication")
			}
		},
		OnTransient: func(_ internal_type.AudioSource, message string) {
			c.setTransient(message)
		},
		OnError: func(source internal_type.AudioSource, err error) {
			c.setError("transcription", fmt.Sprintf("%s transcription failed: %v", source, err))
		},
		OnAuthenticationRequired: func(internal_type.AudioSource) {
			c.setError("authentication", "authentication required: sign in again to continue transcription")
		},
	}
}

// transcriptChanged merges the assembler view into the held chunk set, feeds
// the emptiness verifier and re-arms the persistence debounce.
func (c *Coordinator) transcriptChanged() {
	snap := c.asm.Snapshot()

	c.mu.Lock()
	if len(snap) == 0 && len(c.held) > 0 && c.phase == PhaseRecording {
		c.mu.Unlock()
		c.verifier.observeEmpty()
		return
	}
	c.held = mergeChunks(c.held, snap)
	c.armPersistLocked()
	c.mu.Unlock()

	if len(snap) > 0 {
		c.verifier.observeNonEmpty()
	}
	c.publish()
}

// restoreHeld is the verifier's terminal action: the held chunks re-seed the
// assembler and are written out exactly once.
func (c *Coordinator) restoreHeld() {
	c.mu.Lock()
	held := internal_type.CloneChunks(c.held)
	c.mu.Unlock()

	c.asm.Seed(held)
	c.logger.Warnf("restored %d held chunks into the transcript", len(held))
	c.persist(context.Background(), nil, "restore")
	c.publish()
}

func (c *Coordinator) armPersistLocked() {
	if c.phase != PhaseRecording {
		return
	}
	if c.persistTimer != nil {
		c.persistTimer.Stop()
	}
	c.persistTimer = time.AfterFunc(c.opts.persistDebounce, func() {
		c.persist(context.Background(), nil, "debounce")
	})
}

// persist writes the held chunk set. Failures surface as a persistent error
// and never block the session lifecycle.
func (c *Coordinator) persist(ctx context.Context, audio *internal_type.AudioFileRef, reason string) {
	c.mu.Lock()
	sessionID := c.sessionID
	chunks := internal_type.CloneChunks(c.held)
	c.mu.Unlock()
	if sessionID == "" {
		return
	}

	if err := c.store.SaveSession(ctx, sessionID, chunks, audio); err != nil {
		c.logger.Errorf("persistence failed (%s) for session %s: %v", reason, sessionID, err)
		c.setError("persistence", "failed to save the transcript; it will be retried on the next change")
		return
	}
	c.clearError("persistence")
}

func (c *Coordinator) setError(kind, message string) {
	c.mu.Lock()
	c.errorKind = kind
	c.errorMessage = message
	c.mu.Unlock()
	c.publish()
}

// clearError drops the current error if it belongs to one of the given
// kinds: an error is cleared by the next successful operation of its kind.
func (c *Coordinator) clearError(kinds ...string) {
	c.mu.Lock()
	cleared := false
	for _, kind := range kinds {
		if c.errorKind == kind && c.errorMessage != "" {
			c.errorKind = ""
			c.errorMessage = ""
			cleared = true
			break
		}
	}
	c.mu.Unlock()
	if cleared {
		c.publish()
	}
}

func (c *Coordinator) setTransient(message string) {
	c.mu.Lock()
	c.transient = message
	c.mu.Unlock()
	c.publish()
}

func (c *Coordinator) snapshotLocked() internal_type.SessionSnapshot {
	levels := make(map[internal_type.AudioSource]float64, len(c.levels))
	for k, v := range c.levels {
		levels[k] = v
	}
	snap := internal_type.SessionSnapshot{
		SessionID:   c.sessionID,
		IsRecording: c.phase == PhaseRecording,
		Chunks:      internal_type.CloneChunks(c.held),
		Levels:      levels,
	}
	if c.errorMessage != "" {
		snap.ErrorMessage = c.errorMessage
	} else if c.transient != "" {
		snap.ErrorMessage = c.transient
		snap.Transient = true
	}
	return snap
}

// publish pushes a snapshot without ever blocking; when the buffer is full
// the oldest snapshot is dropped for the newest.
func (c *Coordinator) publish() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	select {
	case c.updates <- snap:
	default:
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- snap:
		default:
		}
	}
}

func (c *Coordinator) stopComponents() {
	for _, s := range c.streamers {
		s.Stop()
	}
	for _, capture := range c.captures {
		capture.Stop()
	}
	if c.tap != nil {
		c.tap.Stop()
	}
}
