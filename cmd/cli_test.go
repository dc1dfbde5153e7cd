// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediarec/internal/config"
)

func TestMimeCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"mime"}, "audio/webm;codecs=pcm\tsupported: true"},
		{[]string{"mime", "--codecs", ""}, "audio/webm\tsupported: false"},
		{[]string{"mime", "--video", "--codecs", "vp8"}, "video/webm;codecs=vp8\tsupported: false"},
		{[]string{"mime", "--mpeg"}, "video/mpeg;codecs=pcm\tsupported: false"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var out bytes.Buffer
			opts, err := ParseArgs(tt.args, &out)
			if err != nil {
				t.Fatalf("ParseArgs: %v", err)
			}
			if opts.Run {
				t.Error("mime should not start the recorder")
			}
			if got := strings.TrimSpace(out.String()); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "recorder:\n  timeslice: 50ms\n  max_duration: 1m\n  codecs: opus\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	opts, err := ParseArgs([]string{
		"--config", path,
		"--duration", "5s",
		"--codecs", "pcm",
		"-o", out,
		"-d", "2",
		"--headless",
		"-v",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !opts.Run || !opts.Headless {
		t.Errorf("run %v, headless %v", opts.Run, opts.Headless)
	}

	cfg := opts.Config
	if cfg.Recorder.Timeslice != 50*time.Millisecond {
		t.Errorf("timeslice = %s, want the file's 50ms", cfg.Recorder.Timeslice)
	}
	if cfg.Recorder.MaxDuration != 5*time.Second || cfg.Recorder.Codecs != "pcm" {
		t.Errorf("flags not applied: %s, %q", cfg.Recorder.MaxDuration, cfg.Recorder.Codecs)
	}
	if cfg.Recorder.OutputDir != out || cfg.Capture.InputDevice != 2 || !cfg.Debug {
		t.Errorf("output %q, device %d, debug %v", cfg.Recorder.OutputDir, cfg.Capture.InputDevice, cfg.Debug)
	}
}

func TestDefaultsWithoutFlags(t *testing.T) {
	opts, err := ParseArgs(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !opts.Run || opts.Headless {
		t.Errorf("run %v, headless %v", opts.Run, opts.Headless)
	}
	if opts.Config.Recorder.Codecs != config.DefaultCodecs {
		t.Errorf("codecs = %q", opts.Config.Recorder.Codecs)
	}
}

func TestInvalidFlags(t *testing.T) {
	_, err := ParseArgs([]string{"--timeslice", "0s"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "recorder.timeslice") {
		t.Errorf("expected a timeslice error, got %v", err)
	}
	if _, err := ParseArgs([]string{"--no-such-flag"}, &bytes.Buffer{}); err == nil {
		t.Error("expected an unknown flag error")
	}
}

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	opts, err := ParseArgs([]string{"--help"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Run {
		t.Error("--help should not start the recorder")
	}
	if !strings.Contains(out.String(), "--timeslice") {
		t.Errorf("help output missing flags:\n%s", out.String())
	}
}
