// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_capture

import (
	"context"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

// systemSource adapts the process tap into a CaptureSource. The tap
// controller owns tap activation and restarts; this source only routes raw
// tap frames through the same off-callback pump the microphone uses.
type systemSource struct {
	logger commons.Logger
	tap    internal_type.ProcessTap
	pump   *pump
}

// NewSystemSource builds the system-audio half of the capture pipeline on
// top of an already constructed process tap.
func NewSystemSource(logger commons.Logger, tap internal_type.ProcessTap, handler internal_type.FrameHandler, opts ...Option) internal_type.CaptureSource {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &systemSource{logger: logger, tap: tap}
	// The tap has no device to reinitialize from here; tap restarts belong
	// to the tap controller, so reinit is nil.
	s.pump = newPump(logger, internal_type.SourceSystem, handler, nil, o.onFatal, o.maxAttempts, o.backoff)
	tap.OnFrame(func(samples []int16, format internal_type.SourceFormat) {
		s.pump.push(samples, format)
	})
	return s
}

func (s *systemSource) Source() internal_type.AudioSource {
	return internal_type.SourceSystem
}

func (s *systemSource) Start(ctx context.Context) error {
	s.pump.start(ctx)
	s.logger.Info("system audio capture started")
	return nil
}

func (s *systemSource) Stop() {
	s.pump.stop()
	s.logger.Info("system audio capture stopped")
}
