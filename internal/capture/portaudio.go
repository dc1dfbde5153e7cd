// SPDX-License-Identifier: MIT
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultDeviceID selects the system default input device.
const DefaultDeviceID = -1

// ErrInputOverflow is reported when PortAudio dropped input frames because
// the callback did not keep up.
var ErrInputOverflow = errors.New("capture: input overflow")

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice retrieves the audio input device for the given device ID.
// DefaultDeviceID returns the system default input device.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == DefaultDeviceID {
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if devices[deviceID].MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) has no input channels", deviceID, devices[deviceID].Name)
	}
	return devices[deviceID], nil
}

// InputOptions configure a PortAudio input.
type InputOptions struct {
	DeviceID        int
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	LowLatency      bool
}

// PortAudioInput is an Input backed by a PortAudio input stream.
type PortAudioInput struct {
	opts    InputOptions
	device  *portaudio.DeviceInfo
	latency time.Duration

	mu     sync.Mutex
	stream *portaudio.Stream

	overflowing atomic.Bool
}

// OpenInput resolves the input device. The stream itself is opened by Start.
func OpenInput(opts InputOptions) (*PortAudioInput, error) {
	device, err := InputDevice(opts.DeviceID)
	if err != nil {
		return nil, err
	}
	if opts.Channels > device.MaxInputChannels {
		return nil, fmt.Errorf("device %s supports %d input channels, %d requested",
			device.Name, device.MaxInputChannels, opts.Channels)
	}

	in := &PortAudioInput{opts: opts, device: device}
	if opts.LowLatency {
		in.latency = device.DefaultLowInputLatency
	} else {
		in.latency = device.DefaultHighInputLatency
	}
	return in, nil
}

func (in *PortAudioInput) Format() Format {
	return Format{SampleRate: in.opts.SampleRate, Channels: in.opts.Channels}
}

func (in *PortAudioInput) Label() string {
	return in.device.Name
}

func (in *PortAudioInput) Start(onSamples func([]int16), onError func(error)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream != nil {
		return errors.New("capture: input already started")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: in.opts.Channels,
			Device:   in.device,
			Latency:  in.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: in.opts.FramesPerBuffer,
		SampleRate:      float64(in.opts.SampleRate),
	}

	callback := func(samples []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		// Report the first overflow of a run, not every callback.
		if flags&portaudio.InputOverflow != 0 {
			if !in.overflowing.Swap(true) {
				onError(ErrInputOverflow)
			}
		} else {
			in.overflowing.Store(false)
		}
		onSamples(samples)
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	in.stream = stream
	return nil
}

func (in *PortAudioInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream == nil {
		return nil
	}

	stream := in.stream
	in.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}
