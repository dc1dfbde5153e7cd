// SPDX-License-Identifier: MIT
/*
Package recorder implements the recording controller: a reusable state
machine that drives a media.Recorder through start/stop/pause/resume,
collects its chunks and turns every session into exactly one finalized
artifact.

The controller is single-threaded. Every method, and every recorder
notification, must run on the same goroutine (see internal/eventloop).
*/
package recorder

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	applog "mediarec/internal/log"
	"mediarec/internal/media"
)

const (
	DefaultTimeslice   = 10 * time.Millisecond
	DefaultMaxDuration = 0 // unbounded
)

// Config holds the recording parameters.
type Config struct {
	Timeslice   time.Duration // granularity of data-available notifications
	MaxDuration time.Duration // 0 records until stopped
	PreferMPEG  bool          // record video/mpeg
	Codecs      string        // optional codecs parameter of the mime type
}

// DefaultConfig returns the default recording parameters.
func DefaultConfig() Config {
	return Config{
		Timeslice:   DefaultTimeslice,
		MaxDuration: DefaultMaxDuration,
	}
}

// Artifact is a finalized recording.
type Artifact struct {
	SessionID string
	Blob      media.Blob
	Chunks    int
	StartedAt time.Time
	Duration  time.Duration
}

// Hooks are called on the controller goroutine whenever a published output
// changes. Any of them may be nil.
type Hooks struct {
	OnChunk     func(chunk media.Blob)
	OnArtifact  func(a Artifact)
	OnElapsed   func(elapsed time.Duration)
	OnRecording func(recording bool)
	OnError     func(err error)
}

// session is one start/stop cycle.
type session struct {
	id        string
	chunks    [][]byte
	startTime time.Time
	finished  bool // max duration cutoff fired
	finalized bool
	cancels   []func()
}

func (s *session) unsubscribe() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

// Controller coordinates one recorder slot and its recording sessions.
type Controller struct {
	platform media.Platform
	cfg      Config
	hooks    Hooks
	clock    func() time.Time
	log      *applog.Logger

	stream   media.Stream
	mimeType string
	rec      media.Recorder

	recording bool
	elapsed   time.Duration
	artifact  *Artifact

	// session is the active session. draining holds earlier sessions whose
	// recorder was told to stop by a restart but whose stop notification has
	// not arrived yet, oldest first. Notifications go to draining[0] until
	// its stop notification is delivered.
	session  *session
	draining []*session
}

// New returns an idle controller. It has no recorder until a stream is set.
func New(platform media.Platform, cfg Config, hooks Hooks) *Controller {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = DefaultTimeslice
	}
	return &Controller{
		platform: platform,
		cfg:      cfg,
		hooks:    hooks,
		clock:    time.Now,
		log:      applog.New("recorder"),
	}
}

// SetStream replaces the input stream and derives a new recorder for it.
// A nil stream leaves the controller without a recorder.
func (c *Controller) SetStream(stream media.Stream) error {
	c.stream = stream
	return c.derive(true)
}

// Configure replaces the recording parameters. The recorder is only
// rebuilt when the mime type changes.
func (c *Controller) Configure(cfg Config) error {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = DefaultTimeslice
	}
	c.cfg = cfg
	return c.derive(false)
}

// derive recomputes the mime type and, if it or the stream changed, the
// recorder. Construction errors leave the slot empty and are returned.
func (c *Controller) derive(streamChanged bool) error {
	mimeType := media.DeriveMimeType(c.stream, c.cfg.PreferMPEG, c.cfg.Codecs, c.platform)
	if !streamChanged && mimeType == c.mimeType {
		return nil
	}
	c.mimeType = mimeType

	rec, err := media.DeriveRecorder(c.platform, c.stream, mimeType)
	c.replaceRecorder(rec)
	if err != nil {
		return err
	}
	return c.reconcile()
}

// replaceRecorder swaps the recorder slot. A session still running on the
// old recorder is abandoned: its chunks are dropped and no artifact is
// produced. Callers should stop before changing the stream or format.
func (c *Controller) replaceRecorder(rec media.Recorder) {
	old := c.rec
	if old == rec {
		return
	}

	for _, s := range append(c.draining, c.session) {
		if s == nil {
			continue
		}
		c.log.Warnf("recorder replaced mid-session %s, discarding %d chunks", s.id, len(s.chunks))
		s.unsubscribe()
		s.finalized = true
	}
	c.session = nil
	c.draining = nil
	c.setElapsed(0)

	if closer, ok := old.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.log.Warnf("closing replaced recorder: %v", err)
		}
	}
	c.rec = rec
}

// Start begins a new recording session. Any running session is stopped
// first and its subscriptions are removed.
func (c *Controller) Start() error {
	if c.rec == nil {
		return media.ErrNotReady
	}

	prev := c.session
	if err := c.Stop(); err != nil {
		return err
	}
	if prev != nil && !prev.finalized {
		// Its stop notification is still in flight.
		prev.unsubscribe()
		c.draining = append(c.draining, prev)
	}
	c.session = nil

	s := &session{
		id:        uuid.NewString(),
		startTime: c.clock(),
	}
	rec := c.rec
	s.cancels = []func(){
		rec.OnDataAvailable(func(b media.Blob) { c.handleData(s, b) }),
		rec.OnStop(func() { c.handleStop(s) }),
		rec.OnError(func(err error) { c.handleError(s, err) }),
	}
	c.session = s

	if err := rec.Start(c.cfg.Timeslice); err != nil {
		s.unsubscribe()
		c.session = nil
		return &media.CapabilityFault{Op: "start", Err: err}
	}

	c.log.Debugf("session %s started (%s, timeslice %s)", s.id, c.mimeType, c.cfg.Timeslice)
	c.setRecording(true)
	return nil
}

// Stop ends the active recording. The artifact is published when the
// recorder delivers its stop notification. Stopping an idle recorder does
// nothing.
func (c *Controller) Stop() error {
	c.setElapsed(0)
	if c.rec == nil || c.rec.State() == media.StateInactive {
		return nil
	}

	if err := c.rec.Stop(); err != nil {
		return &media.CapabilityFault{Op: "stop", Err: err}
	}
	c.setRecording(false)
	return nil
}

// Pause pauses the recorder. Errors from the recorder are returned as is.
func (c *Controller) Pause() error {
	if c.rec == nil {
		return media.ErrNotReady
	}
	if err := c.rec.Pause(); err != nil {
		return &media.CapabilityFault{Op: "pause", Err: err}
	}
	return nil
}

// Resume resumes a paused recorder and does nothing otherwise.
func (c *Controller) Resume() error {
	if c.rec == nil || c.rec.State() != media.StatePaused {
		return nil
	}
	if err := c.rec.Resume(); err != nil {
		return &media.CapabilityFault{Op: "resume", Err: err}
	}
	return nil
}

// SetRecording sets the recording flag and reconciles the recorder with it.
func (c *Controller) SetRecording(recording bool) error {
	c.setRecording(recording)
	return c.reconcile()
}

// reconcile starts or stops the recorder so its native state matches the
// recording flag. It is safe to call when they already agree.
func (c *Controller) reconcile() error {
	if c.rec == nil {
		return nil
	}

	state := c.rec.State()
	switch {
	case c.recording && state == media.StateInactive:
		return c.Start()
	case !c.recording && state != media.StateInactive:
		return c.Stop()
	}
	return nil
}

func (c *Controller) handleData(s *session, b media.Blob) {
	if len(c.draining) > 0 {
		// Delivered before the previous recording's stop notification, so
		// it belongs to that recording.
		d := c.draining[0]
		if b.Size() > 0 {
			d.chunks = append(d.chunks, b.Data)
			c.emitChunk(b)
		}
		return
	}
	if s != c.session || s.finalized {
		return
	}

	if b.Size() > 0 {
		s.chunks = append(s.chunks, b.Data)
		c.emitChunk(b)
	}
	if s.finished {
		// Late data after the cutoff; elapsed stays at the limit.
		return
	}

	elapsed := c.clock().Sub(s.startTime)
	if limit := c.cfg.MaxDuration; limit > 0 && elapsed >= limit {
		elapsed = limit
		s.finished = true
		c.log.Debugf("session %s reached max duration %s", s.id, limit)
		// Published before Stop, which may finalize synchronously.
		c.setElapsed(elapsed)
		if err := c.Stop(); err != nil {
			c.reportError(err)
		}
		if s.finalized {
			return
		}
	}

	c.setElapsed(elapsed)
}

func (c *Controller) handleStop(s *session) {
	if len(c.draining) > 0 {
		d := c.draining[0]
		c.draining = c.draining[1:]
		c.finalize(d)
		return
	}
	if s != c.session || s.finalized {
		return
	}

	c.finalize(s)
	c.session = nil
	c.setElapsed(0)

	// The recorder may have stopped on its own.
	if c.recording && c.rec != nil && c.rec.State() == media.StateInactive {
		c.setRecording(false)
	}
}

func (c *Controller) handleError(s *session, err error) {
	if s != c.session {
		return
	}
	c.reportError(&media.CapabilityFault{Op: "record", Err: err})
}

// finalize concatenates the session chunks into the published artifact.
func (c *Controller) finalize(s *session) {
	if s.finalized {
		return
	}
	s.finalized = true
	s.unsubscribe()

	size := 0
	for _, chunk := range s.chunks {
		size += len(chunk)
	}
	data := bytes.NewBuffer(make([]byte, 0, size))
	for _, chunk := range s.chunks {
		data.Write(chunk)
	}

	a := Artifact{
		SessionID: s.id,
		Blob:      media.Blob{Data: data.Bytes(), Type: c.mimeType},
		Chunks:    len(s.chunks),
		StartedAt: s.startTime,
		Duration:  c.clock().Sub(s.startTime),
	}
	s.chunks = nil
	c.artifact = &a

	c.log.Infof("session %s finalized: %d bytes in %d chunks (%s)", a.SessionID, a.Blob.Size(), a.Chunks, a.Blob.Type)
	if c.hooks.OnArtifact != nil {
		c.hooks.OnArtifact(a)
	}
}

func (c *Controller) emitChunk(b media.Blob) {
	if c.hooks.OnChunk != nil {
		c.hooks.OnChunk(b)
	}
}

func (c *Controller) setElapsed(d time.Duration) {
	if c.elapsed == d {
		return
	}
	c.elapsed = d
	if c.hooks.OnElapsed != nil {
		c.hooks.OnElapsed(d)
	}
}

func (c *Controller) setRecording(v bool) {
	if c.recording == v {
		return
	}
	c.recording = v
	if c.hooks.OnRecording != nil {
		c.hooks.OnRecording(v)
	}
}

func (c *Controller) reportError(err error) {
	c.log.Errorf("%v", err)
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

// MimeType returns the derived mime type, or "" when not ready.
func (c *Controller) MimeType() string { return c.mimeType }

// Recorder returns the current recorder, or nil.
func (c *Controller) Recorder() media.Recorder { return c.rec }

// Elapsed returns the published elapsed time of the active session.
func (c *Controller) Elapsed() time.Duration { return c.elapsed }

// Recording returns the recording flag.
func (c *Controller) Recording() bool { return c.recording }

// Config returns the recording parameters.
func (c *Controller) Config() Config { return c.cfg }

// Artifact returns the most recent finalized recording.
func (c *Controller) Artifact() (Artifact, bool) {
	if c.artifact == nil {
		return Artifact{}, false
	}
	return *c.artifact, true
}

// State returns the native recorder state; no recorder counts as inactive.
func (c *Controller) State() media.RecordingState {
	if c.rec == nil {
		return media.StateInactive
	}
	return c.rec.State()
}

// Status is a snapshot of the published outputs.
type Status struct {
	State     media.RecordingState
	Recording bool
	Ready     bool
	MimeType  string
	Elapsed   time.Duration
	SessionID string
	Chunks    int
	Last      *Artifact
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	st := Status{
		State:     c.State(),
		Recording: c.recording,
		Ready:     c.rec != nil,
		MimeType:  c.mimeType,
		Elapsed:   c.elapsed,
	}
	if c.session != nil {
		st.SessionID = c.session.id
		st.Chunks = len(c.session.chunks)
	}
	if c.artifact != nil {
		a := *c.artifact
		st.Last = &a
	}
	return st
}

// IsNotReady reports whether err means no recorder could be derived.
func IsNotReady(err error) bool {
	return errors.Is(err, media.ErrNotReady)
}
