// SPDX-License-Identifier: MIT
package export

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"mediarec/internal/media"
	"mediarec/internal/recorder"
)

var testFormat = Format{SampleRate: 48000, Channels: 2}

func pcmBytes(samples ...int16) []byte {
	var b []byte
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint16(b, uint16(s))
	}
	return b
}

func artifact(mimeType string, data []byte) recorder.Artifact {
	return recorder.Artifact{
		SessionID: "0123456789abcdef",
		Blob:      media.Blob{Data: data, Type: mimeType},
		StartedAt: time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC),
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		mimeType string
		want     string
	}{
		{"audio/webm", ".webm"},
		{"audio/webm;codecs=opus", ".webm"},
		{"video/webm;codecs=vp8", ".webm"},
		{"video/mpeg", ".mpeg"},
		{"audio/webm;codecs=pcm", ".wav"},
		{"application/octet-stream", ".bin"},
		{"", ".bin"},
	}
	for _, tt := range tests {
		if got := Extension(tt.mimeType); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.mimeType, got, tt.want)
		}
	}
}

func TestFilename(t *testing.T) {
	e := New(t.TempDir(), testFormat)
	got := e.Filename(artifact("video/mpeg", nil))
	if got != "recording-20240309-140506-01234567.mpeg" {
		t.Errorf("Filename = %q", got)
	}

	short := artifact("audio/webm", nil)
	short.SessionID = "abc"
	if got := e.Filename(short); !strings.HasSuffix(got, "-abc.webm") {
		t.Errorf("Filename with short id = %q", got)
	}
}

func TestEncodePassesThroughContainerFormats(t *testing.T) {
	data := []byte("webm bytes")
	enc, err := Encode(artifact("audio/webm;codecs=opus", data), testFormat)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(enc.Data, data) || enc.ContentType != "audio/webm;codecs=opus" || enc.Extension != ".webm" {
		t.Errorf("Encode = %+v", enc)
	}
}

func TestEncodeWrapsPCMInWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 5}
	enc, err := Encode(artifact("audio/webm;codecs=pcm", pcmBytes(samples...)), testFormat)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc.ContentType != "audio/wav" || enc.Extension != ".wav" {
		t.Errorf("content type %q, extension %q", enc.ContentType, enc.Extension)
	}

	d := wav.NewDecoder(bytes.NewReader(enc.Data))
	if !d.IsValidFile() {
		t.Fatal("output is not a valid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int(d.SampleRate) != 48000 || int(d.NumChans) != 2 || int(d.BitDepth) != 16 {
		t.Errorf("header = %d Hz, %d channels, %d bits", d.SampleRate, d.NumChans, d.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, want := range samples {
		if buf.Data[i] != int(want) {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want)
		}
	}
}

func TestEncodeEmptyPCM(t *testing.T) {
	enc, err := Encode(artifact("audio/webm;codecs=pcm", nil), testFormat)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(enc.Data, []byte("RIFF")) {
		t.Errorf("empty recording should still get a WAV header, got % x", enc.Data)
	}
}

func TestEncodeRejectsBadPCM(t *testing.T) {
	if _, err := Encode(artifact("audio/webm;codecs=pcm", []byte{1, 2, 3}), testFormat); !errors.Is(err, ErrOddLength) {
		t.Errorf("odd payload: %v", err)
	}
	if _, err := Encode(artifact("audio/webm;codecs=pcm", []byte{1, 2}), Format{}); err == nil {
		t.Error("zero format accepted")
	}
}

func TestExportWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	e := New(dir, testFormat)

	path, err := e.Export(artifact("video/webm", []byte("frames")))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Ext(path) != ".webm" {
		t.Errorf("path = %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "frames" {
		t.Errorf("file contents = %q", got)
	}
}

func TestSeekBuffer(t *testing.T) {
	var b seekBuffer
	b.Write([]byte("hello world"))
	b.Seek(0, 0)
	b.Write([]byte("J"))
	b.Seek(0, 2)
	b.Write([]byte("!"))
	if string(b.Bytes()) != "Jello world!" {
		t.Errorf("buffer = %q", b.Bytes())
	}
	if _, err := b.Seek(-1, 0); err == nil {
		t.Error("negative seek accepted")
	}
}
