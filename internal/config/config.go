// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and limits for every configurable value. A config file only
// needs the keys it changes.
const (
	DefaultLogLevel = "info"

	// Capture
	DefaultInputDevice     = MinDeviceID // System default device
	DefaultSampleRate      = 48000
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 512 // Balanced latency/performance
	DefaultLowLatency      = false

	// Recorder
	DefaultTimeslice   = 10 * time.Millisecond
	DefaultMaxDuration = 0 // Unlimited
	DefaultCodecs      = "pcm"
	DefaultOutputDir   = "./recordings"
	DefaultAutoExport  = true

	// Analyser
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
	DefaultWindow      = "blackman"
	DefaultGate        = 0.0 // Always open

	// Waveform
	DefaultWaveformEnabled  = true
	DefaultWaveformInterval = time.Second / 30

	// Transport
	DefaultWebSocketEnabled = true
	DefaultWebSocketAddress = "127.0.0.1:8080"
	DefaultUDPEnabled       = false
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxChannels     = 32
	MaxBufferFrames = 8192 // Maximum frames per buffer (power of 2)
	MinFFTSize      = 32
	MaxFFTSize      = 32768
)

// Config is the application configuration, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Shorthand for log_level: debug.
	LogLevel  string          `yaml:"log_level"` // debug, info, warn or error.
	Capture   CaptureConfig   `yaml:"capture"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Analyser  AnalyserConfig  `yaml:"analyser"`
	Waveform  WaveformConfig  `yaml:"waveform"`
	Transport TransportConfig `yaml:"transport"`
}

// CaptureConfig selects and configures the PortAudio input.
type CaptureConfig struct {
	InputDevice     int  `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      int  `yaml:"sample_rate"`       // Hz.
	Channels        int  `yaml:"channels"`          // Interleaved input channels.
	FramesPerBuffer int  `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool `yaml:"low_latency"`       // Use the device's low input latency.
}

// RecorderConfig holds the recording controller parameters.
type RecorderConfig struct {
	Timeslice   time.Duration `yaml:"timeslice"`    // Data-available granularity.
	MaxDuration time.Duration `yaml:"max_duration"` // 0 records until stopped.
	PreferMPEG  bool          `yaml:"prefer_mpeg"`  // Record video/mpeg.
	Codecs      string        `yaml:"codecs"`       // Codecs parameter of the mime type.
	OutputDir   string        `yaml:"output_dir"`   // Where finalized recordings are written.
	AutoExport  bool          `yaml:"auto_export"`  // Write every finalized recording to output_dir.
}

// AnalyserConfig configures the spectrum analyser.
type AnalyserConfig struct {
	FFTSize     int     `yaml:"fft_size"`
	Smoothing   float64 `yaml:"smoothing"`
	MinDecibels float64 `yaml:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels"`
	Window      string  `yaml:"window"`         // e.g. "blackman", "hann".
	Gate        float64 `yaml:"gate_threshold"` // Peak below which buffers skip the analyser, 0-1.
}

// WaveformConfig configures the live waveform feed.
type WaveformConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// TransportConfig configures where events and analysis data go.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"`
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send the spectrum over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Capture: CaptureConfig{
			InputDevice:     DefaultInputDevice,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
		},
		Recorder: RecorderConfig{
			Timeslice:   DefaultTimeslice,
			MaxDuration: DefaultMaxDuration,
			Codecs:      DefaultCodecs,
			OutputDir:   DefaultOutputDir,
			AutoExport:  DefaultAutoExport,
		},
		Analyser: AnalyserConfig{
			FFTSize:     DefaultFFTSize,
			Smoothing:   DefaultSmoothing,
			MinDecibels: DefaultMinDecibels,
			MaxDecibels: DefaultMaxDecibels,
			Window:      DefaultWindow,
			Gate:        DefaultGate,
		},
		Waveform: WaveformConfig{
			Enabled:  DefaultWaveformEnabled,
			Interval: DefaultWaveformInterval,
		},
		Transport: TransportConfig{
			WebSocketEnabled: DefaultWebSocketEnabled,
			WebSocketAddress: DefaultWebSocketAddress,
			UDPEnabled:       DefaultUDPEnabled,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
	}
}
