// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_assembler "github.com/rapidaai/api/recorder-api/internal/assembler"
	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-session"))
	require.NoError(t, err)
	return logger
}

type savedSession struct {
	sessionID string
	chunks    []internal_type.TranscriptChunk
	audio     *internal_type.AudioFileRef
}

type fakeStore struct {
	mu      sync.Mutex
	loaded  []internal_type.TranscriptChunk
	loadErr error
	saveErr error
	saves   []savedSession
}

func (s *fakeStore) LoadChunks(context.Context, string) ([]internal_type.TranscriptChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return internal_type.CloneChunks(s.loaded), s.loadErr
}

func (s *fakeStore) SaveSession(_ context.Context, sessionID string, chunks []internal_type.TranscriptChunk, audio *internal_type.AudioFileRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, savedSession{
		sessionID: sessionID,
		chunks:    internal_type.CloneChunks(chunks),
		audio:     audio,
	})
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeStore) lastSave() savedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

type fakeStreamer struct {
	source   internal_type.AudioSource
	startErr error

	mu      sync.Mutex
	started int
	stopped int
	sent    [][]byte
}

func (f *fakeStreamer) Source() internal_type.AudioSource { return f.source }

func (f *fakeStreamer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeStreamer) Send(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeStreamer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeStreamer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeCapture struct {
	source internal_type.AudioSource

	mu      sync.Mutex
	started int
	stopped int
}

func (f *fakeCapture) Source() internal_type.AudioSource { return f.source }

func (f *fakeCapture) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

type fakeRecorder struct {
	mu      sync.Mutex
	started bool
	frames  map[internal_type.AudioSource]int
	ref     *internal_type.AudioFileRef
}

func (f *fakeRecorder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeRecorder) Record(_ context.Context, source internal_type.AudioSource, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames == nil {
		f.frames = make(map[internal_type.AudioSource]int)
	}
	f.frames[source]++
	return nil
}

func (f *fakeRecorder) Finalize() (*internal_type.AudioFileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ref == nil {
		return nil, errors.New("nothing recorded")
	}
	return f.ref, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []string
}

func (f *fakeUploader) Upload(_ context.Context, sessionID string, _ *internal_type.AudioFileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, sessionID)
	return nil
}

type harness struct {
	coordinator *Coordinator
	assembler   *internal_assembler.Assembler
	store       *fakeStore
	micStream   *fakeStreamer
	sysStream   *fakeStreamer
	capture     *fakeCapture
	recorder    *fakeRecorder
	uploader    *fakeUploader
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	logger := newTestLogger(t)
	h := &harness{
		assembler: internal_assembler.New(logger),
		store:     &fakeStore{},
		micStream: &fakeStreamer{source: internal_type.SourceMicrophone},
		sysStream: &fakeStreamer{source: internal_type.SourceSystem},
		capture:   &fakeCapture{source: internal_type.SourceMicrophone},
		recorder:  &fakeRecorder{ref: &internal_type.AudioFileRef{MicrophonePath: "/tmp/mic.wav", SystemPath: "/tmp/sys.wav"}},
		uploader:  &fakeUploader{},
	}
	h.coordinator = NewCoordinator(logger, Config{
		Store:       h.store,
		Assembler:   h.assembler,
		Uploader:    h.uploader,
		NewRecorder: func(string) (internal_type.Recorder, error) { return h.recorder, nil },
		Captures:    []internal_type.CaptureSource{h.capture},
		Streamers:   []Streamer{h.micStream, h.sysStream},
	}, opts...)
	return h
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStartSeedsFromPersistedChunks(t *testing.T) {
	h := newHarness(t)
	h.store.loaded = []internal_type.TranscriptChunk{
		{ID: "p1", Source: internal_type.SourceMicrophone, Text: "earlier words", IsFinal: true},
	}

	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	assert.Equal(t, PhaseRecording, h.coordinator.Phase())
	snap := h.coordinator.Snapshot()
	require.Len(t, snap.Chunks, 1)
	assert.Equal(t, "earlier words", snap.Chunks[0].Text)
	assert.True(t, snap.IsRecording)

	restored := h.assembler.Snapshot()
	require.Len(t, restored, 1)
	assert.Equal(t, "p1", restored[0].ID)
}

func TestStartFailureStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.sysStream.startErr = errors.New("dial failed: connection refused")

	err := h.coordinator.Start(context.Background(), "s1", nil)
	require.Error(t, err)
	assert.Equal(t, PhaseIdle, h.coordinator.Phase())

	h.capture.mu.Lock()
	assert.Equal(t, 1, h.capture.stopped)
	h.capture.mu.Unlock()
}

func TestHandleFrameRoutesToSinkAndStreamer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	h.coordinator.HandleFrame(internal_type.SourceMicrophone, []byte{1, 2, 3, 4}, 0.42)

	h.recorder.mu.Lock()
	assert.Equal(t, 1, h.recorder.frames[internal_type.SourceMicrophone])
	h.recorder.mu.Unlock()
	assert.Equal(t, 1, h.micStream.sentCount())
	assert.Zero(t, h.sysStream.sentCount())

	snap := h.coordinator.Snapshot()
	assert.InDelta(t, 0.42, snap.Levels[internal_type.SourceMicrophone], 1e-9)
}

func TestDebouncedPersistence(t *testing.T) {
	h := newHarness(t, WithPersistDebounce(50*time.Millisecond))
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	handlers := h.coordinator.TranscriptionHandlers()
	handlers.OnTranscriptDelta(internal_type.SourceMicrophone, "hello", "")
	handlers.OnTranscriptDelta(internal_type.SourceMicrophone, " world", "")

	// Nothing is written inside the quiet period.
	assert.Zero(t, h.store.saveCount())

	waitFor(t, time.Second, func() bool { return h.store.saveCount() == 1 })
	saved := h.store.lastSave()
	require.Len(t, saved.chunks, 1)
	assert.Equal(t, "hello world", saved.chunks[0].Text)
}

func TestStopIncludesLateFinalWithinGrace(t *testing.T) {
	h := newHarness(t, WithStopGrace(200*time.Millisecond), WithPersistDebounce(10*time.Second))
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))

	handlers := h.coordinator.TranscriptionHandlers()
	handlers.OnTranscriptDelta(internal_type.SourceMicrophone, "closing words", "")

	done := make(chan error, 1)
	go func() { done <- h.coordinator.Stop(context.Background()) }()

	// The finalization event lands inside the grace window.
	time.Sleep(50 * time.Millisecond)
	handlers.OnUtteranceEnd(internal_type.SourceMicrophone, "")

	require.NoError(t, <-done)
	assert.Equal(t, PhaseIdle, h.coordinator.Phase())

	require.NotZero(t, h.store.saveCount())
	saved := h.store.lastSave()
	require.Len(t, saved.chunks, 1)
	assert.Equal(t, "closing words", saved.chunks[0].Text)
	assert.True(t, saved.chunks[0].IsFinal, "late final must be part of the deferred save")
	require.NotNil(t, saved.audio)
	assert.Equal(t, "/tmp/mic.wav", saved.audio.MicrophonePath)

	waitFor(t, time.Second, func() bool {
		h.uploader.mu.Lock()
		defer h.uploader.mu.Unlock()
		return len(h.uploader.uploads) == 1
	})

	h.micStream.mu.Lock()
	assert.Equal(t, 1, h.micStream.stopped)
	h.micStream.mu.Unlock()
	h.capture.mu.Lock()
	assert.Equal(t, 1, h.capture.stopped)
	h.capture.mu.Unlock()
}

func TestTransientEmptyDoesNotRestore(t *testing.T) {
	h := newHarness(t,
		WithRestorePolicy(3, 200*time.Millisecond),
		WithPersistDebounce(10*time.Second))
	h.store.loaded = []internal_type.TranscriptChunk{
		{ID: "p1", Text: "held one", IsFinal: true},
		{ID: "p2", Text: "held two", IsFinal: true},
	}
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	handlers := h.coordinator.TranscriptionHandlers()

	// The transcript blips to empty while chunks are held.
	h.assembler.Seed(nil)
	handlers.OnUtteranceEnd(internal_type.SourceMicrophone, "")

	// Recovery arrives at t=150ms, before the first 200ms checkpoint.
	time.Sleep(150 * time.Millisecond)
	handlers.OnTranscriptDelta(internal_type.SourceMicrophone, "recovered", "")

	// All checkpoints would have fired by now.
	time.Sleep(700 * time.Millisecond)

	// No restore write happened and the assembler was not re-seeded.
	assert.Zero(t, h.store.saveCount())
	snap := h.assembler.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "recovered", snap[0].Text)
}

func TestPersistedEmptyRestoresHeldChunksOnce(t *testing.T) {
	h := newHarness(t,
		WithRestorePolicy(3, 30*time.Millisecond),
		WithPersistDebounce(10*time.Second))
	h.store.loaded = []internal_type.TranscriptChunk{
		{ID: "p1", Text: "held one", IsFinal: true},
		{ID: "p2", Text: "held two", IsFinal: true},
	}
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	handlers := h.coordinator.TranscriptionHandlers()
	h.assembler.Seed(nil)
	handlers.OnUtteranceEnd(internal_type.SourceMicrophone, "")

	// Emptiness persists across every checkpoint: exactly one restore write.
	waitFor(t, time.Second, func() bool { return h.store.saveCount() == 1 })
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.store.saveCount())

	saved := h.store.lastSave()
	require.Len(t, saved.chunks, 2)
	assert.Equal(t, "held one", saved.chunks[0].Text)

	restored := h.assembler.Snapshot()
	require.Len(t, restored, 2)
	assert.Equal(t, "p1", restored[0].ID)
}

func TestTranscriptionErrorClearsOnReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	handlers := h.coordinator.TranscriptionHandlers()
	handlers.OnError(internal_type.SourceMicrophone, errors.New("protocol violation"))

	snap := h.coordinator.Snapshot()
	assert.NotEmpty(t, snap.ErrorMessage)
	assert.False(t, snap.Transient)

	// The next successful connection clears the persistent error.
	handlers.OnStateChange(internal_type.SourceMicrophone, "connected")
	snap = h.coordinator.Snapshot()
	assert.Empty(t, snap.ErrorMessage)
}

func TestTransientMessageSurfacesAndClears(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	handlers := h.coordinator.TranscriptionHandlers()
	handlers.OnTransient(internal_type.SourceSystem, "Transcription reconnecting")

	snap := h.coordinator.Snapshot()
	assert.Equal(t, "Transcription reconnecting", snap.ErrorMessage)
	assert.True(t, snap.Transient)

	handlers.OnTransient(internal_type.SourceSystem, "")
	snap = h.coordinator.Snapshot()
	assert.Empty(t, snap.ErrorMessage)
}

func TestStartWhileRecordingFails(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coordinator.Start(context.Background(), "s1", nil))
	defer h.coordinator.Stop(context.Background())

	assert.Error(t, h.coordinator.Start(context.Background(), "s2", nil))
}

func TestStopWithoutRecordingFails(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.coordinator.Stop(context.Background()))
}
