// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_tap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

const tapFramesPerBuffer = 1024

// loopbackTap implements the process tap over a loopback input device
// (BlackHole, a virtual audio cable, or an OS-provided monitor source). The
// loopback carries whatever mix the OS routes into it, so the target process
// set is accepted for lifecycle purposes and the routing itself stays with
// the OS.
type loopbackTap struct {
	logger     commons.Logger
	deviceName string

	mu            sync.Mutex
	stream        *portaudio.Stream
	active        bool
	onFrame       func([]int16, internal_type.SourceFormat)
	onInvalidated func(requested bool)
}

// NewLoopbackTap builds a tap bound to the named loopback device. An empty
// name picks the first input device with "loopback" or "blackhole" in its
// name.
func NewLoopbackTap(logger commons.Logger, deviceName string) internal_type.ProcessTap {
	return &loopbackTap{logger: logger, deviceName: deviceName}
}

func (l *loopbackTap) Activate(ctx context.Context, targets []internal_type.ProcessID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return fmt.Errorf("tap already active")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	device, err := l.selectDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	format := internal_type.SourceFormat{
		SampleRate: int(device.DefaultSampleRate),
		Channels:   1,
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: tapFramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, func(in []int16) {
		l.mu.Lock()
		fn := l.onFrame
		l.mu.Unlock()
		if fn != nil {
			fn(in, format)
		}
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open loopback stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start loopback stream: %w", err)
	}

	l.stream = stream
	l.active = true
	l.logger.Infof("loopback tap active on %q for %d targets", device.Name, len(targets))
	return nil
}

func (l *loopbackTap) selectDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		name := strings.ToLower(device.Name)
		if l.deviceName != "" {
			if strings.EqualFold(device.Name, l.deviceName) {
				return device, nil
			}
			continue
		}
		if strings.Contains(name, "loopback") || strings.Contains(name, "blackhole") || strings.Contains(name, "monitor") {
			return device, nil
		}
	}
	if l.deviceName != "" {
		return nil, fmt.Errorf("loopback device %q not found", l.deviceName)
	}
	return nil, fmt.Errorf("no loopback input device found; install a loopback driver or set the device name")
}

func (l *loopbackTap) Invalidate() error {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = false
	stream := l.stream
	l.stream = nil
	fn := l.onInvalidated
	l.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			l.logger.Warnf("loopback tap stop failed: %v", err)
		}
		if err := stream.Close(); err != nil {
			l.logger.Warnf("loopback tap close failed: %v", err)
		}
		portaudio.Terminate()
	}
	if fn != nil {
		fn(true)
	}
	return nil
}

func (l *loopbackTap) OnFrame(fn func([]int16, internal_type.SourceFormat)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = fn
}

func (l *loopbackTap) OnInvalidated(fn func(requested bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onInvalidated = fn
}

// staticObserver reports a fixed process set once. It serves platforms with
// no per-process audio enumeration, where the loopback mix is the whole
// story.
type staticObserver struct {
	ch chan []internal_type.ProcessID
}

// NewStaticObserver builds an observer that emits targets a single time.
func NewStaticObserver(targets []internal_type.ProcessID) internal_type.ProcessObserver {
	o := &staticObserver{ch: make(chan []internal_type.ProcessID, 1)}
	o.ch <- targets
	return o
}

func (o *staticObserver) AudioProcesses() <-chan []internal_type.ProcessID {
	return o.ch
}
