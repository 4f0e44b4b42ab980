// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

const micFramesPerBuffer = 1024

// Option configures a capture source.
type Option func(*options)

type options struct {
	deviceID    int
	maxAttempts int
	backoff     time.Duration
	onFatal     func(error)
}

// WithDevice selects an explicit input device; 0 means the system default.
func WithDevice(id int) Option {
	return func(o *options) { o.deviceID = id }
}

// WithReinitPolicy overrides the malformed-buffer retry ceiling and backoff.
func WithReinitPolicy(maxAttempts int, backoff time.Duration) Option {
	return func(o *options) {
		o.maxAttempts = maxAttempts
		o.backoff = backoff
	}
}

// WithFatalHandler installs the callback receiving the terminal CaptureError
// once the reinitialize attempts are exhausted.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) { o.onFatal = fn }
}

// microphoneSource captures the local input device through portaudio. The
// hardware callback only hands buffers to the pump; conversion and dispatch
// run off the callback goroutine.
type microphoneSource struct {
	logger commons.Logger
	opts   options
	pump   *pump

	mu     sync.Mutex
	stream *portaudio.Stream
	format internal_type.SourceFormat
}

// NewMicrophoneSource builds the mic half of the capture pipeline.
func NewMicrophoneSource(logger commons.Logger, handler internal_type.FrameHandler, opts ...Option) internal_type.CaptureSource {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	m := &microphoneSource{logger: logger, opts: o}
	m.pump = newPump(logger, internal_type.SourceMicrophone, handler, m.reinitialize, o.onFatal, o.maxAttempts, o.backoff)
	return m
}

func (m *microphoneSource) Source() internal_type.AudioSource {
	return internal_type.SourceMicrophone
}

func (m *microphoneSource) Start(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	if err := m.open(); err != nil {
		portaudio.Terminate()
		return err
	}
	m.pump.start(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	m.logger.Infof("microphone capture started: rate=%d channels=%d", m.format.SampleRate, m.format.Channels)
	return nil
}

func (m *microphoneSource) open() error {
	device, err := m.selectDevice()
	if err != nil {
		return err
	}

	channels := 1
	if device.MaxInputChannels < 1 {
		return fmt.Errorf("device %q has no input channels", device.Name)
	}
	format := internal_type.SourceFormat{
		SampleRate: int(device.DefaultSampleRate),
		Channels:   channels,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: micFramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		m.pump.push(in, format)
	})
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	m.mu.Lock()
	m.stream = stream
	m.format = format
	m.mu.Unlock()
	return nil
}

func (m *microphoneSource) selectDevice() (*portaudio.DeviceInfo, error) {
	if m.opts.deviceID <= 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	if m.opts.deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device id %d", m.opts.deviceID)
	}
	device := devices[m.opts.deviceID]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %q is not an input device", device.Name)
	}
	return device, nil
}

// reinitialize tears the hardware stream down and recreates it fresh; stale
// handles are never reused.
func (m *microphoneSource) reinitialize() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			m.logger.Warnf("microphone reinit: stop failed: %v", err)
		}
		if err := stream.Close(); err != nil {
			m.logger.Warnf("microphone reinit: close failed: %v", err)
		}
	}
	if err := m.open(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream.Start()
}

func (m *microphoneSource) Stop() {
	m.pump.stop()

	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			m.logger.Warnf("failed to stop audio stream: %v", err)
		}
		if err := stream.Close(); err != nil {
			m.logger.Warnf("failed to close audio stream: %v", err)
		}
	}
	portaudio.Terminate()
	m.logger.Info("microphone capture stopped")
}

// ListInputDevices enumerates available input devices for the device picker.
func ListInputDevices() ([]portaudio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	inputs := make([]portaudio.DeviceInfo, 0)
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			inputs = append(inputs, *device)
		}
	}
	return inputs, nil
}
