// SPDX-License-Identifier: MIT
/*
Package media defines the capture capabilities the recording controller is
written against: live streams made of tracks, media recorders that turn a
stream into binary chunks, and the platform that decides which formats a
recorder can produce.

The interfaces mirror the MediaStream Recording model. Implementations live
elsewhere (internal/capture for PortAudio input, fakes in tests).
*/
package media

import "time"

// TrackKind is the kind of a stream track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is a single source of media inside a Stream.
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	Stop()
}

// Stream is a live source of audio and video tracks.
type Stream interface {
	AudioTracks() []Track
	VideoTracks() []Track
}

// RecordingState is the native state of a Recorder.
// See https://www.w3.org/TR/mediastream-recording/#enumdef-recordingstate
type RecordingState string

const (
	StateInactive  RecordingState = "inactive"
	StateRecording RecordingState = "recording"
	StatePaused    RecordingState = "paused"
)

// Blob is an immutable run of bytes tagged with a mime type. Recorders emit
// chunks as Blobs and finalized recordings are Blobs as well.
type Blob struct {
	Data []byte
	Type string
}

// Size returns the number of bytes in the blob.
func (b Blob) Size() int {
	return len(b.Data)
}

// Recorder incrementally captures a Stream into chunks.
//
// Notifications are delivered in emission order. The returned func removes
// the listener and is safe to call more than once.
type Recorder interface {
	// Start begins recording. timeslice controls how often data-available
	// notifications are delivered.
	Start(timeslice time.Duration) error
	Stop() error
	Pause() error
	Resume() error
	State() RecordingState
	MimeType() string

	OnDataAvailable(fn func(Blob)) (cancel func())
	OnStop(fn func()) (cancel func())
	OnError(fn func(error)) (cancel func())
}

// Platform constructs recorders and reports which mime types they support.
type Platform interface {
	IsTypeSupported(mimeType string) bool
	NewRecorder(stream Stream, mimeType string) (Recorder, error)
}

// Scheduler runs functions on a single goroutine in the order they were
// posted. Post must not block; it reports false once the scheduler is closed.
type Scheduler interface {
	Post(fn func()) bool
}

// Sink consumes interleaved 16-bit PCM frames.
type Sink interface {
	Write(samples []int16)
}

// SampleSource is a Stream that can fan its raw samples out to sinks.
type SampleSource interface {
	Stream
	Connect(sink Sink) (disconnect func())
}

// HasVideo reports whether s carries at least one video track.
func HasVideo(s Stream) bool {
	return s != nil && len(s.VideoTracks()) > 0
}
