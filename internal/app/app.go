// SPDX-License-Identifier: MIT
/*
Package app wires the recorder together:
- An event loop that owns the recording controller
- The capture platform, or any other media.Platform
- An analyser graph feeding the waveform sampler and the UDP publisher
- A WebSocket hub for events plus a /recording download endpoint
- An exporter writing every finalized recording to disk

Every method is safe for concurrent use. Calls into the controller are
posted to the loop, which Run drives.
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mediarec/internal/analysis"
	"mediarec/internal/capture"
	"mediarec/internal/config"
	"mediarec/internal/eventloop"
	"mediarec/internal/export"
	applog "mediarec/internal/log"
	"mediarec/internal/media"
	"mediarec/internal/recorder"
	"mediarec/internal/transport"
	"mediarec/internal/transport/udp"
	"mediarec/internal/waveform"
)

// RecordingPath serves the last finalized recording.
const RecordingPath = "/recording"

var log = applog.New("app")

// ErrNoStream is returned by commands issued before a stream is attached.
var ErrNoStream = errors.New("app: no stream attached")

// Deps replaces the components New would otherwise build from the
// configuration. Every field is optional.
type Deps struct {
	Platform     media.Platform      // Default: capture.NewPlatform on the app loop.
	Transport    transport.Transport // Default: the WebSocket hub, if enabled.
	PacketSender udp.PacketSender    // Default: a UDP sender, if enabled.
}

// Status is a snapshot of the recorder and the last export.
type Status struct {
	recorder.Status
	Level    float64
	LastPath string
}

// App is a running recorder.
type App struct {
	cfg  *config.Config
	loop *eventloop.Loop

	// Owned by the loop goroutine.
	ctrl        *recorder.Controller
	exporter    *export.Exporter
	lastElapsed time.Duration

	analyser  *analysis.Analyser
	graph     *analysis.Graph
	sampler   *waveform.Sampler
	hub       *transport.WebSocketTransport
	events    transport.Transport
	publisher *udp.Publisher
	closers   []func() error

	mu          sync.Mutex
	stream      media.SampleSource
	closeStream func() error
	format      export.Format
	status      recorder.Status
	lastPath    string
	updates     media.Listeners[Status]
	closed      bool
}

// New builds an app from cfg. Nothing runs until Run.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	window, err := analysis.ParseWindowFunc(cfg.Analyser.Window)
	if err != nil {
		return nil, err
	}
	analyser, err := analysis.NewAnalyser(analysis.Options{
		FFTSize:     cfg.Analyser.FFTSize,
		SampleRate:  float64(cfg.Capture.SampleRate),
		Channels:    cfg.Capture.Channels,
		Smoothing:   cfg.Analyser.Smoothing,
		MinDecibels: cfg.Analyser.MinDecibels,
		MaxDecibels: cfg.Analyser.MaxDecibels,
		Window:      window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analyser: %w", err)
	}

	a := &App{
		cfg:      cfg,
		loop:     eventloop.New(),
		analyser: analyser,
		graph:    analysis.NewGraph(analyser),
		format:   export.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels},
	}
	a.graph.Gate().SetThreshold(cfg.Analyser.Gate)
	a.exporter = export.New(cfg.Recorder.OutputDir, a.format)

	// Events go to the log and, when enabled, to WebSocket clients.
	events := transport.Multi{transport.NewLoggingTransport()}
	switch {
	case deps.Transport != nil:
		events = append(events, deps.Transport)
	case cfg.Transport.WebSocketEnabled:
		a.hub = transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		a.hub.Handle(RecordingPath, a.RecordingHandler())
		events = append(events, a.hub)
	}
	a.events = events

	if cfg.Waveform.Enabled {
		a.sampler = waveform.NewSampler(a.events, cfg.Waveform.Interval)
		a.sampler.SetSource(analyser)
	}

	if cfg.Transport.UDPEnabled || deps.PacketSender != nil {
		sender := deps.PacketSender
		if sender == nil {
			s, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
			if err != nil {
				a.events.Close()
				return nil, fmt.Errorf("failed to create UDP sender: %w", err)
			}
			sender = s
			a.closers = append(a.closers, s.Close)
		}
		p, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, analyser)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = p
	}

	platform := deps.Platform
	if platform == nil {
		platform = capture.NewPlatform(a.loop)
	}
	a.ctrl = recorder.New(platform, recorder.Config{
		Timeslice:   cfg.Recorder.Timeslice,
		MaxDuration: cfg.Recorder.MaxDuration,
		PreferMPEG:  cfg.Recorder.PreferMPEG,
		Codecs:      cfg.Recorder.Codecs,
	}, recorder.Hooks{
		OnChunk:     a.onChunk,
		OnArtifact:  a.onArtifact,
		OnElapsed:   a.onElapsed,
		OnRecording: a.onRecording,
		OnError:     a.onError,
	})
	a.status = a.ctrl.Status()
	return a, nil
}

// Loop returns the loop that owns the controller.
func (a *App) Loop() *eventloop.Loop { return a.loop }

// Analyser returns the live analyser.
func (a *App) Analyser() *analysis.Analyser { return a.analyser }

// Hub returns the WebSocket hub, or nil when events go elsewhere.
func (a *App) Hub() *transport.WebSocketTransport { return a.hub }

// RecordingHandler serves the last finalized recording. The hub mounts it
// at RecordingPath.
func (a *App) RecordingHandler() http.Handler {
	return http.HandlerFunc(a.serveRecording)
}

// Listen starts the WebSocket server and the UDP publisher.
func (a *App) Listen() error {
	if a.hub != nil {
		if err := a.hub.Start(); err != nil {
			return fmt.Errorf("failed to start websocket server: %w", err)
		}
	}
	if a.publisher != nil {
		a.publisher.Start()
	}
	return nil
}

// Run drives the loop until ctx is done or Close is called.
func (a *App) Run(ctx context.Context) error {
	err := a.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OpenCapture opens the configured PortAudio input and attaches it. The
// stream is closed with the app.
func (a *App) OpenCapture(ctx context.Context) error {
	c := a.cfg.Capture
	input, err := capture.OpenInput(capture.InputOptions{
		DeviceID:        c.InputDevice,
		SampleRate:      c.SampleRate,
		Channels:        c.Channels,
		FramesPerBuffer: c.FramesPerBuffer,
		LowLatency:      c.LowLatency,
	})
	if err != nil {
		return fmt.Errorf("failed to open input device %d: %w", c.InputDevice, err)
	}
	stream, err := capture.Open(input)
	if err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	stream.OnEnded(func() { a.loop.Post(a.publish) })

	if err := a.Attach(ctx, stream); err != nil {
		stream.Close()
		return err
	}
	a.mu.Lock()
	a.closeStream = stream.Close
	a.mu.Unlock()
	return nil
}

// Attach replaces the input stream. The controller derives a recorder for
// it and the analyser listens to it. Capture streams also set the export
// format.
func (a *App) Attach(ctx context.Context, stream media.SampleSource) error {
	a.mu.Lock()
	prev := a.closeStream
	a.closeStream = nil
	a.stream = stream
	if cs, ok := stream.(*capture.Stream); ok {
		f := cs.Format()
		a.format = export.Format{SampleRate: f.SampleRate, Channels: f.Channels}
		if f.Channels != a.cfg.Capture.Channels {
			log.Warnf("stream has %d channels, analyser expects %d", f.Channels, a.cfg.Capture.Channels)
		}
	}
	format := a.format
	a.mu.Unlock()

	if prev != nil {
		if err := prev(); err != nil {
			log.Warnf("closing previous stream: %v", err)
		}
	}

	// The graph follows the loop's order so it always analyses the stream
	// the controller records.
	return a.do(ctx, func() error {
		a.graph.SetSource(stream)
		a.exporter = export.New(a.cfg.Recorder.OutputDir, format)
		return a.ctrl.SetStream(stream)
	})
}

// Start begins a recording session.
func (a *App) Start(ctx context.Context) error {
	return a.do(ctx, a.ctrl.Start)
}

// Stop ends the current session. The artifact is finalized once the
// recorder delivers its stop notification.
func (a *App) Stop(ctx context.Context) error {
	return a.do(ctx, a.ctrl.Stop)
}

// SetRecording starts or stops recording to match recording.
func (a *App) SetRecording(ctx context.Context, recording bool) error {
	return a.do(ctx, func() error { return a.ctrl.SetRecording(recording) })
}

// Toggle flips the recording flag.
func (a *App) Toggle(ctx context.Context) error {
	return a.do(ctx, func() error { return a.ctrl.SetRecording(!a.ctrl.Recording()) })
}

// TogglePause pauses a running recording or resumes a paused one.
func (a *App) TogglePause(ctx context.Context) error {
	return a.do(ctx, func() error {
		switch a.ctrl.State() {
		case media.StateRecording:
			return a.ctrl.Pause()
		case media.StatePaused:
			return a.ctrl.Resume()
		default:
			return fmt.Errorf("%w: nothing to pause", media.ErrInvalidState)
		}
	})
}

// Status returns the latest snapshot published by the loop.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{Status: a.status, Level: a.analyser.Level(), LastPath: a.lastPath}
}

// Level returns the analyser's RMS level in [0, 1].
func (a *App) Level() float64 {
	return a.analyser.Level()
}

// OnStatus registers fn for every published snapshot. fn runs on the loop
// goroutine and must not block.
func (a *App) OnStatus(fn func(Status)) (cancel func()) {
	return a.updates.Add(fn)
}

// Shutdown stops a running recording and waits until its artifact is
// finalized. The loop must still be running.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.do(ctx, func() error { return a.ctrl.SetRecording(false) }); err != nil && !errors.Is(err, ErrNoStream) {
		return err
	}
	// Recorders post their trailing chunk and stop notification from Stop,
	// so one more round trip runs after them.
	return a.loop.Do(ctx, func() error { return nil })
}

// Close releases the stream and every output, then stops the loop.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	closeStream := a.closeStream
	a.closeStream = nil
	a.mu.Unlock()

	var errs []error
	if a.sampler != nil {
		errs = append(errs, a.sampler.Close())
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	a.graph.Close()
	if closeStream != nil {
		errs = append(errs, closeStream())
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	errs = append(errs, a.events.Close())
	a.loop.Close()
	return errors.Join(errs...)
}

// do runs fn on the loop, then publishes the resulting status.
func (a *App) do(ctx context.Context, fn func() error) error {
	return a.loop.Do(ctx, func() error {
		err := fn()
		a.publish()
		if recorder.IsNotReady(err) {
			return fmt.Errorf("%w: %w", ErrNoStream, err)
		}
		return err
	})
}

// publish snapshots the controller. Loop goroutine only.
func (a *App) publish() {
	st := a.ctrl.Status()
	a.mu.Lock()
	a.status = st
	snap := Status{Status: st, Level: a.analyser.Level(), LastPath: a.lastPath}
	a.mu.Unlock()
	a.updates.Emit(snap)
}

func (a *App) send(v any) {
	if err := a.events.Send(v); err != nil {
		log.Debugf("send %T: %v", v, err)
	}
}

func (a *App) onChunk(chunk media.Blob) {
	a.send(ChunkEvent{Size: chunk.Size(), Type: chunk.Type})
}

func (a *App) onArtifact(art recorder.Artifact) {
	var path string
	if a.cfg.Recorder.AutoExport {
		p, err := a.exporter.Export(art)
		if err != nil {
			log.Errorf("export %s: %v", art.SessionID, err)
			a.send(ErrorEvent{Error: err.Error()})
		} else {
			path = p
		}
	}

	a.mu.Lock()
	a.lastPath = path
	a.mu.Unlock()

	log.Infof("recording %s finalized: %d bytes in %d chunks, %s",
		art.SessionID, art.Blob.Size(), art.Chunks, art.Duration.Round(time.Millisecond))
	a.send(newArtifactEvent(art, path))
	a.publish()
}

func (a *App) onElapsed(elapsed time.Duration) {
	step := elapsed.Truncate(elapsedStep)
	if step != a.lastElapsed {
		a.lastElapsed = step
		a.send(newStateEvent(a.ctrl.Status()))
	}
	a.publish()
}

func (a *App) onRecording(recording bool) {
	if a.sampler != nil {
		a.sampler.SetActive(recording)
	}
	a.lastElapsed = 0
	a.send(newStateEvent(a.ctrl.Status()))
	a.publish()
}

func (a *App) onError(err error) {
	log.Errorf("recorder: %v", err)
	a.send(ErrorEvent{Error: err.Error()})
	a.publish()
}

// serveRecording writes the last finalized recording, wrapped the same way
// the exporter writes it.
func (a *App) serveRecording(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	last := a.status.Last
	format := a.format
	a.mu.Unlock()

	if last == nil {
		http.Error(w, "no recording yet", http.StatusNotFound)
		return
	}
	enc, err := export.Encode(*last, format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	name := export.New("", format).Filename(*last)
	w.Header().Set("Content-Type", enc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(enc.Data)
}
