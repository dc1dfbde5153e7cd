// SPDX-License-Identifier: MIT

// Package export turns finalized recordings into files. Raw PCM payloads are
// wrapped in a WAV container; every other type is written as recorded.
package export

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "mediarec/internal/log"
	"mediarec/internal/media"
	"mediarec/internal/recorder"
)

const (
	wavPCMFormat  = 1 // WAVE_FORMAT_PCM
	wavBitDepth   = 16
	wavMimeType   = "audio/wav"
	timestampForm = "20060102-150405"
)

var log = applog.New("export")

// ErrOddLength is returned for 16-bit PCM payloads with a dangling byte.
var ErrOddLength = errors.New("export: pcm payload has an odd number of bytes")

// Format describes raw PCM payloads.
type Format struct {
	SampleRate int
	Channels   int
}

// Encoded is an artifact ready to be written or served.
type Encoded struct {
	Data        []byte
	ContentType string
	Extension   string
}

// IsPCM reports whether mimeType carries headerless PCM.
func IsPCM(mimeType string) bool {
	_, params, err := mime.ParseMediaType(mimeType)
	return err == nil && params["codecs"] == "pcm"
}

// Extension returns the file extension, with dot, for a recorded mime type.
func Extension(mimeType string) string {
	if IsPCM(mimeType) {
		return ".wav"
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ".bin"
	}
	switch mediaType {
	case media.TypeAudioWebM, media.TypeVideoWebM:
		return ".webm"
	case media.TypeVideoMPEG:
		return ".mpeg"
	default:
		return ".bin"
	}
}

// Encode prepares an artifact for storage.
func Encode(a recorder.Artifact, f Format) (Encoded, error) {
	if !IsPCM(a.Blob.Type) {
		return Encoded{Data: a.Blob.Data, ContentType: a.Blob.Type, Extension: Extension(a.Blob.Type)}, nil
	}

	var buf seekBuffer
	if err := WriteWAV(&buf, a.Blob.Data, f); err != nil {
		return Encoded{}, err
	}
	return Encoded{Data: buf.Bytes(), ContentType: wavMimeType, Extension: ".wav"}, nil
}

// WriteWAV writes little-endian 16-bit interleaved PCM as a WAV file.
func WriteWAV(w io.WriteSeeker, pcm []byte, f Format) error {
	if len(pcm)%2 != 0 {
		return ErrOddLength
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("export: invalid pcm format %d Hz, %d channels", f.SampleRate, f.Channels)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}

	enc := wav.NewEncoder(w, f.SampleRate, wavBitDepth, f.Channels, wavPCMFormat)
	// Write also emits the header, so it runs even for empty recordings.
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("export: write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("export: finalize wav: %w", err)
	}
	return nil
}

// Exporter writes artifacts into a directory.
type Exporter struct {
	dir    string
	format Format
}

func New(dir string, format Format) *Exporter {
	return &Exporter{dir: dir, format: format}
}

// Dir returns the output directory.
func (e *Exporter) Dir() string { return e.dir }

// Filename returns recording-<start time>-<session prefix><ext>.
func (e *Exporter) Filename(a recorder.Artifact) string {
	id := a.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	started := a.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return fmt.Sprintf("recording-%s-%s%s", started.Format(timestampForm), id, Extension(a.Blob.Type))
}

// Export writes a to the output directory and returns the file path.
func (e *Exporter) Export(a recorder.Artifact) (string, error) {
	enc, err := Encode(a, e.format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create %s: %w", e.dir, err)
	}

	path := filepath.Join(e.dir, e.Filename(a))
	if err := os.WriteFile(path, enc.Data, 0o644); err != nil {
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	log.Infof("wrote %s (%d bytes, %s)", path, len(enc.Data), enc.ContentType)
	return path, nil
}
