// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mediarec/cmd"
	"mediarec/internal/app"
	"mediarec/internal/capture"
	applog "mediarec/internal/log"
	"mediarec/internal/tui"
	"mediarec/pkg/build"
)

// shutdownTimeout bounds how long a running recording may take to flush.
const shutdownTimeout = 5 * time.Second

// main is the entry point for the recorder.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase:
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Execute one-off commands if requested
//   - Initialize PortAudio and open the input stream
//
// 2. Recording Phase:
//   - Drive the controller loop
//   - Record from the console UI, or immediately when headless
//
// 3. Shutdown Phase:
//   - Handle termination signals
//   - Stop and finalize a running recording
//   - Clean up resources
func main() {
	// ==================== STARTUP PHASE ====================

	// Development builds have no ldflags; the defaults are good enough.
	if err := build.Initialize(); err != nil {
		applog.Debugf("build flags: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", build.GetBuildFlags().Name, err)
		os.Exit(1)
	}

	// Handle one-off commands that don't require the recorder
	if !opts.Run {
		return
	}
	applog.SetLevel(opts.Config.Level())

	if err := run(opts); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run(opts *cmd.Options) error {
	// Initialize PortAudio subsystem
	if err := capture.Initialize(); err != nil {
		return err
	}
	defer capture.Terminate()

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The console owns the terminal, so logs go to a file.
	if !opts.Headless {
		f, err := os.OpenFile("mediarec.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		applog.SetOutput(f)
		defer applog.SetOutput(os.Stderr)
	}

	a, err := app.New(opts.Config, app.Deps{})
	if err != nil {
		return err
	}
	if err := a.Listen(); err != nil {
		a.Close()
		return err
	}

	// ==================== RECORDING PHASE ====================

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.Run(context.Background()) }()
	defer func() {
		if err := a.Close(); err != nil {
			applog.Warnf("close: %v", err)
		}
		<-loopDone
	}()

	if err := a.OpenCapture(ctx); err != nil {
		return err
	}

	if opts.Headless {
		err = record(ctx, a)
	} else {
		err = tui.Run(ctx, a, opts.Config.Recorder.MaxDuration)
	}

	// ==================== SHUTDOWN PHASE ====================

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.Shutdown(shutdownCtx); serr != nil {
		applog.Errorf("stopping recording: %v", serr)
	}
	if path := a.Status().LastPath; path != "" {
		fmt.Printf("Recording saved to: %s\n", path)
	}
	return err
}

// record starts recording and waits for a signal or for the recording to
// end on its own.
func record(ctx context.Context, a *app.App) error {
	finished := make(chan struct{})
	var once sync.Once
	cancel := a.OnStatus(func(st app.Status) {
		if !st.Recording && st.Last != nil {
			once.Do(func() { close(finished) })
		}
	})
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	applog.Infof("recording, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case <-finished:
	}
	return nil
}
