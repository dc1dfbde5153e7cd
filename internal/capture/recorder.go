// SPDX-License-Identifier: MIT
package capture

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"mediarec/internal/media"
)

// Recorder records a Stream as headerless little-endian 16-bit PCM. Every
// timeslice the buffered bytes are delivered as one data-available
// notification. All notifications are posted to the scheduler.
type Recorder struct {
	stream   *Stream
	sched    media.Scheduler
	mimeType string

	mu         sync.Mutex
	state      media.RecordingState
	buf        []byte
	disconnect func()
	unwatch    []func()
	quit       chan struct{}
	ticking    sync.WaitGroup

	data  media.Listeners[media.Blob]
	stop  media.Listeners[struct{}]
	fault media.Listeners[error]
}

func newRecorder(stream *Stream, sched media.Scheduler, mimeType string) *Recorder {
	return &Recorder{
		stream:   stream,
		sched:    sched,
		mimeType: mimeType,
		state:    media.StateInactive,
	}
}

func (r *Recorder) Start(timeslice time.Duration) error {
	if timeslice <= 0 {
		return media.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.StateInactive {
		return media.ErrInvalidState
	}
	if r.stream.Closed() {
		return ErrStreamClosed
	}

	r.state = media.StateRecording
	r.buf = nil
	r.disconnect = r.stream.Connect(r)
	r.unwatch = []func(){
		r.stream.OnEnded(r.streamEnded),
		r.stream.OnError(r.streamFailed),
	}

	r.quit = make(chan struct{})
	r.ticking.Add(1)
	go r.tick(timeslice, r.quit)

	log.Debugf("recorder started: %s every %s", r.mimeType, timeslice)
	return nil
}

func (r *Recorder) tick(timeslice time.Duration, quit <-chan struct{}) {
	defer r.ticking.Done()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-quit:
			return
		}
	}
}

// flush posts the buffered bytes, if any.
func (r *Recorder) flush() {
	r.mu.Lock()
	chunk := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(chunk) > 0 {
		r.post(func() { r.data.Emit(media.Blob{Data: chunk, Type: r.mimeType}) })
	}
}

// Write appends samples while recording. Paused recorders drop them.
func (r *Recorder) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.StateRecording {
		return
	}
	for _, v := range samples {
		r.buf = binary.LittleEndian.AppendUint16(r.buf, uint16(v))
	}
}

// Stop ends recording. The trailing chunk is posted before the stop
// notification.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state == media.StateInactive {
		r.mu.Unlock()
		return media.ErrInvalidState
	}
	r.state = media.StateInactive
	disconnect, unwatch, quit := r.disconnect, r.unwatch, r.quit
	r.disconnect, r.unwatch, r.quit = nil, nil, nil
	r.mu.Unlock()

	disconnect()
	for _, fn := range unwatch {
		fn()
	}
	close(quit)
	// A tick that already took the buffer posts before we do.
	r.ticking.Wait()

	r.flush()
	r.post(func() { r.stop.Emit(struct{}{}) })
	log.Debugf("recorder stopped: %s", r.mimeType)
	return nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == media.StateInactive {
		return media.ErrInvalidState
	}
	r.state = media.StatePaused
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == media.StateInactive {
		return media.ErrInvalidState
	}
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

// Close stops a running recorder. Its notifications are still posted.
func (r *Recorder) Close() error {
	if r.State() == media.StateInactive {
		return nil
	}
	return r.Stop()
}

func (r *Recorder) streamEnded() {
	if err := r.Stop(); err != nil && !errors.Is(err, media.ErrInvalidState) {
		log.Warnf("stopping recorder after stream end: %v", err)
	}
}

func (r *Recorder) streamFailed(err error) {
	r.post(func() { r.fault.Emit(err) })
}

func (r *Recorder) post(fn func()) {
	if !r.sched.Post(fn) {
		log.Debugf("scheduler closed, dropping %s notification", r.mimeType)
	}
}
