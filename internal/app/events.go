// SPDX-License-Identifier: MIT
package app

import (
	"time"

	"mediarec/internal/media"
	"mediarec/internal/recorder"
)

// StateEvent is sent whenever the recording flag changes and, while
// recording, every elapsedStep of elapsed time.
type StateEvent struct {
	State     media.RecordingState `json:"state"`
	Recording bool                 `json:"recording"`
	MimeType  string               `json:"mimeType"`
	ElapsedMs int64                `json:"elapsedMs"`
}

func (StateEvent) MessageType() string { return "state" }

// ChunkEvent announces one recorded chunk. The bytes stay in the process.
type ChunkEvent struct {
	Size int    `json:"size"`
	Type string `json:"type"`
}

func (ChunkEvent) MessageType() string { return "chunk" }

// ArtifactEvent announces a finalized recording.
type ArtifactEvent struct {
	SessionID  string `json:"sessionId"`
	Type       string `json:"type"`
	Size       int    `json:"size"`
	Chunks     int    `json:"chunks"`
	DurationMs int64  `json:"durationMs"`
	Path       string `json:"path,omitempty"`
	URL        string `json:"url"`
}

func (ArtifactEvent) MessageType() string { return "artifact" }

// ErrorEvent carries a recorder fault.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (ErrorEvent) MessageType() string { return "error" }

func newStateEvent(st recorder.Status) StateEvent {
	return StateEvent{
		State:     st.State,
		Recording: st.Recording,
		MimeType:  st.MimeType,
		ElapsedMs: st.Elapsed.Milliseconds(),
	}
}

func newArtifactEvent(a recorder.Artifact, path string) ArtifactEvent {
	return ArtifactEvent{
		SessionID:  a.SessionID,
		Type:       a.Blob.Type,
		Size:       a.Blob.Size(),
		Chunks:     a.Chunks,
		DurationMs: a.Duration.Milliseconds(),
		Path:       path,
		URL:        RecordingPath,
	}
}

// elapsedStep throttles elapsed-time state events.
const elapsedStep = 100 * time.Millisecond
