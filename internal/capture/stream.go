// SPDX-License-Identifier: MIT
/*
Package capture implements the media capabilities on top of a live audio
input: a Stream of interleaved 16-bit PCM, a Recorder that chunks that PCM
on a timeslice, and the Platform that builds recorders for the controller.

The audio callback runs on a PortAudio thread. Sinks are called from it
and must not block or retain the sample slice.
*/
package capture

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	applog "mediarec/internal/log"
	"mediarec/internal/media"
)

var log = applog.New("capture")

// ErrStreamClosed is returned when connecting to a stream that has ended.
var ErrStreamClosed = errors.New("capture: stream closed")

// Format describes the interleaved PCM delivered by an Input.
type Format struct {
	SampleRate int
	Channels   int
}

// BitDepth is the sample size of every Input.
const BitDepth = 16

// Input is a running source of interleaved int16 frames.
type Input interface {
	Format() Format
	Label() string
	// Start begins delivering samples. onSamples may be called on any
	// goroutine and must not retain its argument.
	Start(onSamples func([]int16), onError func(error)) error
	Close() error
}

type sinkEntry struct {
	id   uint64
	sink media.Sink
}

// Stream is an audio-only media.SampleSource over an Input.
type Stream struct {
	input  Input
	format Format
	track  *audioTrack

	mu     sync.Mutex
	nextID uint64
	closed bool

	// sinks is replaced on every change so the audio callback reads it
	// without locking.
	sinks atomic.Pointer[[]sinkEntry]

	ended  media.Listeners[struct{}]
	faults media.Listeners[error]
}

// Open starts input and returns a stream over it.
func Open(input Input) (*Stream, error) {
	s := &Stream{
		input:  input,
		format: input.Format(),
	}
	s.track = &audioTrack{id: uuid.NewString(), label: input.Label(), stream: s}
	s.sinks.Store(&[]sinkEntry{})

	if err := input.Start(s.dispatch, s.fail); err != nil {
		return nil, err
	}
	log.Infof("stream opened: %s (%d Hz, %d channels)", s.track.label, s.format.SampleRate, s.format.Channels)
	return s, nil
}

// Format returns the PCM format of the stream.
func (s *Stream) Format() Format { return s.format }

func (s *Stream) AudioTracks() []media.Track {
	if s.Closed() {
		return nil
	}
	return []media.Track{s.track}
}

func (s *Stream) VideoTracks() []media.Track { return nil }

// Connect adds sink to the fan-out. The returned func disconnects it.
func (s *Stream) Connect(sink media.Sink) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	old := *s.sinks.Load()
	next := make([]sinkEntry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, sinkEntry{id: id, sink: sink})
	s.sinks.Store(&next)

	var once sync.Once
	return func() { once.Do(func() { s.disconnect(id) }) }
}

func (s *Stream) disconnect(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := *s.sinks.Load()
	next := make([]sinkEntry, 0, len(old))
	for _, e := range old {
		if e.id != id {
			next = append(next, e)
		}
	}
	s.sinks.Store(&next)
}

// OnEnded registers fn to run once the stream is closed.
func (s *Stream) OnEnded(fn func()) func() {
	return s.ended.Add(func(struct{}) { fn() })
}

// OnError registers fn for input errors.
func (s *Stream) OnError(fn func(error)) func() {
	return s.faults.Add(fn)
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the input and ends the stream. It is safe to call more than
// once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sinks.Store(&[]sinkEntry{})
	s.mu.Unlock()

	err := s.input.Close()
	s.ended.Emit(struct{}{})
	log.Debugf("stream closed: %s", s.track.label)
	return err
}

func (s *Stream) dispatch(samples []int16) {
	for _, e := range *s.sinks.Load() {
		e.sink.Write(samples)
	}
}

func (s *Stream) fail(err error) {
	log.Warnf("input error on %s: %v", s.track.label, err)
	s.faults.Emit(err)
}

type audioTrack struct {
	id     string
	label  string
	stream *Stream
}

func (t *audioTrack) ID() string            { return t.id }
func (t *audioTrack) Kind() media.TrackKind { return media.TrackAudio }
func (t *audioTrack) Label() string         { return t.label }

// Stop ends the track, which closes its stream.
func (t *audioTrack) Stop() {
	if err := t.stream.Close(); err != nil {
		log.Warnf("stopping track %s: %v", t.id, err)
	}
}
