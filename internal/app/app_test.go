// SPDX-License-Identifier: MIT
package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mediarec/internal/config"
	"mediarec/internal/media"
	"mediarec/internal/media/mediatest"
	"mediarec/internal/transport"
	"mediarec/internal/transport/udp"
	"mediarec/pkg/utils"
)

type harness struct {
	app      *App
	platform *mediatest.Platform
	events   *utils.MockTransport
	ctx      context.Context
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Transport.WebSocketEnabled = false
	cfg.Waveform.Enabled = false
	cfg.Recorder.Codecs = ""
	cfg.Recorder.OutputDir = t.TempDir()
	cfg.Analyser.FFTSize = 256
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, deps Deps) *harness {
	t.Helper()
	h := &harness{
		platform: &mediatest.Platform{SyncStop: true},
		events:   &utils.MockTransport{},
	}
	if deps.Platform == nil {
		deps.Platform = h.platform
	}
	deps.Transport = h.events

	a, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.app = a
	if err := a.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.ctx = ctx
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	t.Cleanup(func() {
		a.Close()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
		cancel()
	})
	return h
}

// onLoop runs fn on the app loop, where recorder notifications belong.
func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	if err := h.app.Loop().Do(h.ctx, func() error { fn(); return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func (h *harness) attach(t *testing.T) *mediatest.Stream {
	t.Helper()
	stream := mediatest.NewStream(1, 0)
	if err := h.app.Attach(h.ctx, stream); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return stream
}

func eventsOf[T any](m *utils.MockTransport) []T {
	var out []T
	for _, v := range m.Sent() {
		if e, ok := v.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestCommandsWithoutStream(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})

	if err := h.app.Start(h.ctx); !errors.Is(err, ErrNoStream) {
		t.Errorf("Start without stream = %v, want ErrNoStream", err)
	}
	if err := h.app.Stop(h.ctx); err != nil {
		t.Errorf("Stop without stream = %v, want nil", err)
	}
	if h.app.Status().Ready {
		t.Error("app should not be ready without a stream")
	}
}

func TestRecordingIsExported(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, Deps{})
	h.attach(t)

	if st := h.app.Status(); !st.Ready || st.MimeType != "audio/webm" {
		t.Fatalf("status after attach = %+v", st.Status)
	}
	if err := h.app.Start(h.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := h.app.Status(); !st.Recording || st.State != media.StateRecording {
		t.Fatalf("status after start = %+v", st.Status)
	}

	rec := h.platform.Last()
	h.onLoop(t, func() {
		rec.Emit([]byte("abc"))
		rec.Emit([]byte("def"))
	})
	if err := h.app.Stop(h.ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st := h.app.Status()
	if st.Recording || st.Last == nil {
		t.Fatalf("status after stop = %+v", st.Status)
	}
	if st.LastPath == "" || filepath.Dir(st.LastPath) != cfg.Recorder.OutputDir {
		t.Fatalf("LastPath = %q, want a file in %s", st.LastPath, cfg.Recorder.OutputDir)
	}
	data, err := os.ReadFile(st.LastPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != "abcdef" {
		t.Errorf("exported %q, want %q", data, "abcdef")
	}
	if filepath.Ext(st.LastPath) != ".webm" {
		t.Errorf("extension of %s, want .webm", st.LastPath)
	}

	if chunks := eventsOf[ChunkEvent](h.events); len(chunks) != 2 || chunks[0].Size != 3 {
		t.Errorf("chunk events = %+v", chunks)
	}
	artifacts := eventsOf[ArtifactEvent](h.events)
	if len(artifacts) != 1 || artifacts[0].Size != 6 || artifacts[0].Chunks != 2 || artifacts[0].Path != st.LastPath {
		t.Errorf("artifact events = %+v", artifacts)
	}
	states := eventsOf[StateEvent](h.events)
	if len(states) < 2 || !states[0].Recording || states[len(states)-1].Recording {
		t.Errorf("state events = %+v", states)
	}
}

func TestAutoExportDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.AutoExport = false
	h := newHarness(t, cfg, Deps{})
	h.attach(t)

	h.app.Start(h.ctx)
	h.app.Stop(h.ctx)

	st := h.app.Status()
	if st.Last == nil || st.LastPath != "" {
		t.Errorf("status = %+v, path %q", st.Status, st.LastPath)
	}
	entries, _ := os.ReadDir(cfg.Recorder.OutputDir)
	if len(entries) != 0 {
		t.Errorf("output dir has %d entries, want none", len(entries))
	}
}

func TestToggleAndTogglePause(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})
	h.attach(t)

	if err := h.app.TogglePause(h.ctx); !errors.Is(err, media.ErrInvalidState) {
		t.Errorf("TogglePause while idle = %v, want ErrInvalidState", err)
	}

	steps := []struct {
		name string
		do   func(context.Context) error
		want media.RecordingState
	}{
		{"toggle on", h.app.Toggle, media.StateRecording},
		{"pause", h.app.TogglePause, media.StatePaused},
		{"resume", h.app.TogglePause, media.StateRecording},
		{"toggle off", h.app.Toggle, media.StateInactive},
	}
	for _, step := range steps {
		if err := step.do(h.ctx); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got := h.app.Status().State; got != step.want {
			t.Fatalf("%s: state %s, want %s", step.name, got, step.want)
		}
	}

	rec := h.platform.Last()
	if rec.Starts != 1 || rec.Pauses != 1 || rec.Resumes != 1 || rec.Stops != 1 {
		t.Errorf("recorder calls: %d starts, %d pauses, %d resumes, %d stops",
			rec.Starts, rec.Pauses, rec.Resumes, rec.Stops)
	}
}

func TestSetRecordingBeforeAttach(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})

	if err := h.app.SetRecording(h.ctx, true); err != nil {
		t.Fatalf("SetRecording: %v", err)
	}
	if st := h.app.Status(); !st.Recording || st.State != media.StateInactive {
		t.Fatalf("status before attach = %+v", st.Status)
	}

	h.attach(t)
	if st := h.app.Status(); st.State != media.StateRecording {
		t.Errorf("attaching should start the pending recording, state %s", st.State)
	}
}

func TestOnStatus(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})
	h.attach(t)

	var mu sync.Mutex
	var seen []bool
	cancel := h.app.OnStatus(func(st Status) {
		mu.Lock()
		seen = append(seen, st.Recording)
		mu.Unlock()
	})
	defer cancel()

	h.app.Start(h.ctx)
	h.app.Stop(h.ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || !seen[0] || seen[len(seen)-1] {
		t.Errorf("recording flags seen = %v", seen)
	}
}

func TestRecordingHandler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.Codecs = "pcm"
	h := newHarness(t, cfg, Deps{})
	h.attach(t)

	w := httptest.NewRecorder()
	h.app.RecordingHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, RecordingPath, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("before any recording: status %d, want 404", w.Code)
	}

	h.app.Start(h.ctx)
	rec := h.platform.Last()
	h.onLoop(t, func() { rec.Emit([]byte{1, 0, 2, 0}) })
	h.app.Stop(h.ctx)

	w = httptest.NewRecorder()
	h.app.RecordingHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, RecordingPath, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	body := w.Body.Bytes()
	if len(body) != 44+4 || string(body[:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Errorf("body is not a 4 byte WAV file: %d bytes", len(body))
	}
}

func TestShutdownFinalizesRecording(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})
	h.attach(t)
	h.app.Start(h.ctx)

	if err := h.app.Shutdown(h.ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if st := h.app.Status(); st.Recording || st.Last == nil {
		t.Errorf("status after shutdown = %+v", st.Status)
	}
}

func TestRecorderErrorsAreForwarded(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})
	h.attach(t)
	h.app.Start(h.ctx)

	rec := h.platform.Last()
	h.onLoop(t, func() { rec.Fail(errors.New("device unplugged")) })

	errs := eventsOf[ErrorEvent](h.events)
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "device unplugged") {
		t.Errorf("error events = %+v", errs)
	}
}

type packetRecorder struct {
	mu      sync.Mutex
	packets [][]byte
}

func (p *packetRecorder) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = append(p.packets, append([]byte(nil), data...))
	return nil
}

func TestSpectrumPublisher(t *testing.T) {
	sender := &packetRecorder{}
	h := newHarness(t, testConfig(t), Deps{PacketSender: sender})
	if h.app.publisher == nil {
		t.Fatal("a packet sender should enable the publisher")
	}

	h.app.publisher.Stop()
	if err := h.app.publisher.Publish(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.packets) == 0 {
		t.Fatal("no packets sent")
	}
	pkt, err := udp.ParsePacket(sender.packets[len(sender.packets)-1])
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if len(pkt.Bins) != h.app.Analyser().FrequencyBinCount() {
		t.Errorf("packet carries %d bins, want %d", len(pkt.Bins), h.app.Analyser().FrequencyBinCount())
	}
}

func TestWaveformFollowsRecording(t *testing.T) {
	cfg := testConfig(t)
	cfg.Waveform.Enabled = true
	cfg.Waveform.Interval = time.Hour
	h := newHarness(t, cfg, Deps{})
	h.attach(t)

	h.app.Start(h.ctx)
	if !h.app.sampler.Active() {
		t.Error("waveform sampler should run while recording")
	}
	h.app.Stop(h.ctx)
	if h.app.sampler.Active() {
		t.Error("waveform sampler should stop with the recording")
	}
}

func TestAnalyserFollowsStream(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})
	stream := h.attach(t)

	stream.Push(utils.GenerateSineWave(256, 48000, 1000))
	if h.app.Level() == 0 {
		t.Error("attached stream should feed the analyser")
	}

	next := mediatest.NewStream(1, 0)
	if err := h.app.Attach(h.ctx, next); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if stream.Sinks() != 0 || next.Sinks() != 1 {
		t.Errorf("sinks = %d, %d; want 0, 1", stream.Sinks(), next.Sinks())
	}
}

func TestConcurrentAttach(t *testing.T) {
	h := newHarness(t, testConfig(t), Deps{})

	streams := make([]*mediatest.Stream, 4)
	for i := range streams {
		streams[i] = mediatest.NewStream(1, 0)
	}
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.app.Attach(h.ctx, s); err != nil {
				t.Errorf("Attach: %v", err)
			}
		}()
	}
	wg.Wait()

	connected := 0
	for _, s := range streams {
		connected += s.Sinks()
	}
	if connected != 1 {
		t.Fatalf("connected sinks = %d, want 1", connected)
	}
	if err := h.app.Start(h.ctx); err != nil {
		t.Fatalf("Start after concurrent Attach: %v", err)
	}

	h.app.Close()
	for i, s := range streams {
		if s.Sinks() != 0 {
			t.Errorf("stream %d still connected after Close", i)
		}
	}
}

func TestNewRejectsBadAnalyserConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analyser.Window = "square"
	if _, err := New(cfg, Deps{Platform: &mediatest.Platform{}}); err == nil {
		t.Error("expected an error for an unknown window")
	}
	cfg = testConfig(t)
	cfg.Analyser.FFTSize = 100
	if _, err := New(cfg, Deps{Platform: &mediatest.Platform{}}); err == nil {
		t.Error("expected an error for a bad fft size")
	}
}

func TestWebSocketHub(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.WebSocketEnabled = true
	cfg.Transport.WebSocketAddress = "127.0.0.1:0"
	platform := &mediatest.Platform{SyncStop: true}

	a, err := New(cfg, Deps{Platform: platform})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	defer func() {
		a.Close()
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "http://" + a.Hub().Addr()
	resp, err := http.Get(base + RecordingPath)
	if err != nil {
		t.Fatalf("GET %s: %v", RecordingPath, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET %s before recording = %d, want 404", RecordingPath, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+a.Hub().Addr()+transport.DefaultPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	for a.Hub().Clients() == 0 {
		if ctx.Err() != nil {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Attach(ctx, mediatest.NewStream(1, 0)); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type    string     `json:"type"`
		Payload StateEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "state" || !msg.Payload.Recording || msg.Payload.MimeType != "audio/webm" {
		t.Errorf("first message = %+v", msg)
	}
}
