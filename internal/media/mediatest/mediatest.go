// SPDX-License-Identifier: MIT

// Package mediatest provides in-memory streams, recorders and platforms for
// tests. Recorder notifications are delivered only when a test asks for
// them, which makes every interleaving reproducible.
package mediatest

import (
	"fmt"
	"sync"
	"time"

	"mediarec/internal/media"
)

// Track is a fake stream track.
type Track struct {
	id      string
	kind    media.TrackKind
	Stopped bool
}

func (t *Track) ID() string            { return t.id }
func (t *Track) Kind() media.TrackKind { return t.kind }
func (t *Track) Label() string         { return "Fake Device (" + string(t.kind) + ")" }
func (t *Track) Stop()                 { t.Stopped = true }

// Stream is a fake media.SampleSource. Push delivers samples to every
// connected sink synchronously.
type Stream struct {
	audio []media.Track
	video []media.Track
	sinks media.Listeners[[]int16]
}

// NewStream returns a stream with the given number of audio and video tracks.
func NewStream(audioTracks, videoTracks int) *Stream {
	s := &Stream{}
	for i := range audioTracks {
		s.audio = append(s.audio, &Track{id: fmt.Sprintf("audio-%d", i), kind: media.TrackAudio})
	}
	for i := range videoTracks {
		s.video = append(s.video, &Track{id: fmt.Sprintf("video-%d", i), kind: media.TrackVideo})
	}
	return s
}

func (s *Stream) AudioTracks() []media.Track { return s.audio }
func (s *Stream) VideoTracks() []media.Track { return s.video }

func (s *Stream) Connect(sink media.Sink) func() {
	return s.sinks.Add(sink.Write)
}

// Sinks returns the number of connected sinks.
func (s *Stream) Sinks() int { return s.sinks.Len() }

// Push writes samples to every connected sink.
func (s *Stream) Push(samples []int16) { s.sinks.Emit(samples) }

// Recorder is a fake media.Recorder.
//
// Stop queues the stop notification; Flush delivers it. Set SyncStop to
// deliver it from inside Stop instead.
type Recorder struct {
	mu         sync.Mutex
	state      media.RecordingState
	mimeType   string
	pending    []func()
	timeslices []time.Duration

	SyncStop bool
	StartErr error
	StopErr  error
	PauseErr error
	Closed   bool

	Starts, Stops, Pauses, Resumes int

	data  media.Listeners[media.Blob]
	stop  media.Listeners[struct{}]
	fault media.Listeners[error]
}

// NewRecorder returns an inactive recorder for mimeType.
func NewRecorder(mimeType string) *Recorder {
	return &Recorder{state: media.StateInactive, mimeType: mimeType}
}

func (r *Recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.StateInactive {
		return media.ErrInvalidState
	}
	if r.StartErr != nil {
		return r.StartErr
	}
	r.Starts++
	r.timeslices = append(r.timeslices, timeslice)
	r.state = media.StateRecording
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state == media.StateInactive {
		r.mu.Unlock()
		return media.ErrInvalidState
	}
	if r.StopErr != nil {
		r.mu.Unlock()
		return r.StopErr
	}
	r.Stops++
	r.state = media.StateInactive
	if !r.SyncStop {
		r.pending = append(r.pending, func() { r.stop.Emit(struct{}{}) })
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.stop.Emit(struct{}{})
	return nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == media.StateInactive {
		return media.ErrInvalidState
	}
	if r.PauseErr != nil {
		return r.PauseErr
	}
	r.Pauses++
	r.state = media.StatePaused
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == media.StateInactive {
		return media.ErrInvalidState
	}
	r.Resumes++
	r.state = media.StateRecording
	return nil
}

func (r *Recorder) State() media.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) MimeType() string { return r.mimeType }

func (r *Recorder) OnDataAvailable(fn func(media.Blob)) func() { return r.data.Add(fn) }

func (r *Recorder) OnStop(fn func()) func() {
	return r.stop.Add(func(struct{}) { fn() })
}

func (r *Recorder) OnError(fn func(error)) func() { return r.fault.Add(fn) }

// Close marks the recorder as released.
func (r *Recorder) Close() error {
	r.Closed = true
	return nil
}

// Emit delivers a data-available notification immediately.
func (r *Recorder) Emit(data []byte) {
	r.data.Emit(media.Blob{Data: data, Type: r.mimeType})
}

// Fail delivers an error notification immediately.
func (r *Recorder) Fail(err error) {
	r.fault.Emit(err)
}

// Flush delivers every queued notification in order.
func (r *Recorder) Flush() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Timeslices returns the timeslice passed to each Start call.
func (r *Recorder) Timeslices() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timeslices...)
}

// Listeners returns how many data, stop and error listeners are registered.
func (r *Recorder) Listeners() (data, stop, fault int) {
	return r.data.Len(), r.stop.Len(), r.fault.Len()
}

// Platform is a fake media.Platform that remembers every recorder it built.
type Platform struct {
	// Supported lists the accepted mime types. Nil accepts everything.
	Supported map[string]bool
	// SyncStop is copied onto every new recorder.
	SyncStop bool

	Recorders []*Recorder
}

func (p *Platform) IsTypeSupported(mimeType string) bool {
	return p.Supported == nil || p.Supported[mimeType]
}

func (p *Platform) NewRecorder(stream media.Stream, mimeType string) (media.Recorder, error) {
	if !p.IsTypeSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, mimeType)
	}
	r := NewRecorder(mimeType)
	r.SyncStop = p.SyncStop
	p.Recorders = append(p.Recorders, r)
	return r, nil
}

// Last returns the most recently built recorder, or nil.
func (p *Platform) Last() *Recorder {
	if len(p.Recorders) == 0 {
		return nil
	}
	return p.Recorders[len(p.Recorders)-1]
}
