// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_capture

import (
	"context"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/api/recorder-api/internal/audio"
	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

const (
	// DefaultMaxReinitAttempts bounds how often a source reinitializes
	// after malformed hardware buffers before giving up.
	DefaultMaxReinitAttempts = 3
	// DefaultReinitBackoff is the pause between reinitialize attempts.
	DefaultReinitBackoff = time.Second
	// defaultQueueDepth sizes the hardware hand-off channel. The hardware
	// callback must never block, so overflow drops the oldest frame.
	defaultQueueDepth = 32
)

type rawFrame struct {
	samples []int16
	format  internal_type.SourceFormat
}

// pump moves frames off the audio-hardware callback goroutine. The callback
// only copies into a buffered channel; conversion, level metering and handler
// dispatch all happen on the pump's own goroutine. Malformed buffers trigger
// a bounded reinitialize of the underlying device.
type pump struct {
	logger  commons.Logger
	source  internal_type.AudioSource
	handler internal_type.FrameHandler

	// reinit recreates the hardware stream after a malformed buffer.
	reinit func() error
	// onFatal fires once the reinitialize attempts are exhausted.
	onFatal func(error)

	maxAttempts int
	backoff     time.Duration

	frames chan rawFrame

	mu       sync.Mutex
	attempts int
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func newPump(
	logger commons.Logger,
	source internal_type.AudioSource,
	handler internal_type.FrameHandler,
	reinit func() error,
	onFatal func(error),
	maxAttempts int,
	backoff time.Duration,
) *pump {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReinitAttempts
	}
	if backoff <= 0 {
		backoff = DefaultReinitBackoff
	}
	return &pump{
		logger:      logger,
		source:      source,
		handler:     handler,
		reinit:      reinit,
		onFatal:     onFatal,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		frames:      make(chan rawFrame, defaultQueueDepth),
	}
}

func (p *pump) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.drain(ctx, p.done)
}

func (p *pump) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// push is the only method safe to call from the hardware callback. It copies
// the buffer and never blocks; when the queue is full the oldest frame is
// dropped in favour of the newest.
func (p *pump) push(samples []int16, format internal_type.SourceFormat) {
	buf := make([]int16, len(samples))
	copy(buf, samples)
	frame := rawFrame{samples: buf, format: format}
	select {
	case p.frames <- frame:
	default:
		select {
		case <-p.frames:
		default:
		}
		select {
		case p.frames <- frame:
		default:
		}
	}
}

func (p *pump) drain(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.frames:
			p.process(ctx, frame)
		}
	}
}

func (p *pump) process(ctx context.Context, frame rawFrame) {
	pcm, err := internal_audio.Convert(frame.samples, frame.format.SampleRate, frame.format.Channels)
	if err != nil {
		p.malformed(ctx, err)
		return
	}
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
	p.handler(p.source, pcm, internal_audio.Level(pcm))
}

// malformed reinitializes the device with a fixed backoff, up to the attempt
// ceiling; beyond that the failure is fatal for the session.
func (p *pump) malformed(ctx context.Context, cause error) {
	p.mu.Lock()
	p.attempts++
	attempt := p.attempts
	p.mu.Unlock()

	if attempt > p.maxAttempts {
		p.logger.Errorf("%s capture: giving up after %d reinitialize attempts: %v", p.source, p.maxAttempts, cause)
		if p.onFatal != nil {
			p.onFatal(&internal_type.CaptureError{Source: p.source, Attempts: p.maxAttempts, Err: cause})
		}
		return
	}

	p.logger.Warnf("%s capture: malformed buffer (%v), reinitializing attempt %d/%d", p.source, cause, attempt, p.maxAttempts)
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.backoff):
	}
	if p.reinit == nil {
		return
	}
	if err := p.reinit(); err != nil {
		p.malformed(ctx, err)
	}
}
