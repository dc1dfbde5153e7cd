// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediarec/internal/analysis"
	applog "mediarec/internal/log"
	"mediarec/pkg/bitint"
)

var log = applog.New("configuration")

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"mediarec.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	log.Debugf("loaded %s", path)

	// Environment wins over the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Level returns the effective log level. Debug forces LevelDebug.
func (c *Config) Level() applog.LogLevel {
	if c.Debug {
		return applog.LevelDebug
	}
	level, _ := applog.ParseLevel(c.LogLevel)
	return level
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		add("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	// Capture
	if c.Capture.InputDevice < MinDeviceID {
		add("capture.input_device must be >= %d, got %d", MinDeviceID, c.Capture.InputDevice)
	}
	if c.Capture.SampleRate < MinSampleRate || c.Capture.SampleRate > MaxSampleRate {
		add("capture.sample_rate must be in [%d, %d], got %d", MinSampleRate, MaxSampleRate, c.Capture.SampleRate)
	}
	if c.Capture.Channels < 1 || c.Capture.Channels > MaxChannels {
		add("capture.channels must be in [1, %d], got %d", MaxChannels, c.Capture.Channels)
	}
	if c.Capture.FramesPerBuffer < 1 || c.Capture.FramesPerBuffer > MaxBufferFrames {
		add("capture.frames_per_buffer must be in [1, %d], got %d", MaxBufferFrames, c.Capture.FramesPerBuffer)
	}

	// Recorder
	if c.Recorder.Timeslice <= 0 {
		add("recorder.timeslice must be positive, got %s", c.Recorder.Timeslice)
	}
	if c.Recorder.MaxDuration < 0 {
		add("recorder.max_duration must not be negative, got %s", c.Recorder.MaxDuration)
	}
	if c.Recorder.AutoExport && c.Recorder.OutputDir == "" {
		add("recorder.output_dir must be set when auto_export is enabled")
	}

	// Analyser
	if n := c.Analyser.FFTSize; !bitint.IsPowerOfTwo(n) || n < MinFFTSize || n > MaxFFTSize {
		if n > 0 && n < MaxFFTSize {
			add("analyser.fft_size must be a power of two in [%d, %d], got %d (try %d)",
				MinFFTSize, MaxFFTSize, n, max(MinFFTSize, bitint.NextPowerOfTwo(n)))
		} else {
			add("analyser.fft_size must be a power of two in [%d, %d], got %d", MinFFTSize, MaxFFTSize, n)
		}
	}
	if c.Analyser.Smoothing < 0 || c.Analyser.Smoothing > 1 {
		add("analyser.smoothing must be in [0, 1], got %g", c.Analyser.Smoothing)
	}
	if c.Analyser.MinDecibels >= c.Analyser.MaxDecibels {
		add("analyser.min_decibels (%g) must be below max_decibels (%g)", c.Analyser.MinDecibels, c.Analyser.MaxDecibels)
	}
	if c.Analyser.Gate < 0 || c.Analyser.Gate > 1 {
		add("analyser.gate_threshold must be in [0, 1], got %g", c.Analyser.Gate)
	}
	if _, err := analysis.ParseWindowFunc(c.Analyser.Window); err != nil {
		add("analyser.window: %w", err)
	}

	// Waveform
	if c.Waveform.Enabled && c.Waveform.Interval <= 0 {
		add("waveform.interval must be positive when the waveform is enabled")
	}

	// Transport
	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddress == "" {
		add("transport.websocket_address must be set when the websocket is enabled")
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			add("transport.udp_target_address must be set when UDP is enabled")
		} else if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			add("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			add("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides replaces settings with ENV_* variables when they are set
// and parse. Unparsable values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.
	envBool("ENV_DEBUG", "debug", &c.Debug)
	envString("ENV_LOG_LEVEL", "log_level", &c.LogLevel)

	// ENV_INPUT_DEVICE
	if val, ok := os.LookupEnv("ENV_INPUT_DEVICE"); ok {
		if id, err := strconv.Atoi(val); err == nil {
			c.Capture.InputDevice = id
			log.Infof("overriding capture.input_device from env: %d", id)
		} else {
			log.Warnf("ignoring ENV_INPUT_DEVICE=%q: %v", val, err)
		}
	}

	// ENV_{TIMESLICE,MAX_DURATION,OUTPUT_DIR}
	// These are specific to the recorder.
	envDuration("ENV_TIMESLICE", "recorder.timeslice", &c.Recorder.Timeslice)
	envDuration("ENV_MAX_DURATION", "recorder.max_duration", &c.Recorder.MaxDuration)
	envString("ENV_OUTPUT_DIR", "recorder.output_dir", &c.Recorder.OutputDir)

	// ENV_WEBSOCKET_ADDRESS, ENV_UDP_{...}
	// These are specific to the transport layer.
	envString("ENV_WEBSOCKET_ADDRESS", "transport.websocket_address", &c.Transport.WebSocketAddress)
	envBool("ENV_UDP_ENABLED", "transport.udp_enabled", &c.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", "transport.udp_target_address", &c.Transport.UDPTargetAddress)
	envDuration("ENV_UDP_SEND_INTERVAL", "transport.udp_send_interval", &c.Transport.UDPSendInterval)
}

func envString(name, key string, dst *string) {
	if val, ok := os.LookupEnv(name); ok {
		*dst = val
		log.Infof("overriding %s from env: %s", key, val)
	}
}

func envBool(name, key string, dst *bool) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Warnf("ignoring %s=%q: %v", name, val, err)
		return
	}
	*dst = b
	log.Infof("overriding %s from env: %v", key, b)
}

func envDuration(name, key string, dst *time.Duration) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warnf("ignoring %s=%q: %v", name, val, err)
		return
	}
	*dst = d
	log.Infof("overriding %s from env: %s", key, d)
}
