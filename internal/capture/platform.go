// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"mime"

	"mediarec/internal/media"
)

// Codecs is the codecs parameter of the only format the capture platform
// records.
const Codecs = "pcm"

// MimeType is the full mime type recorded by the capture platform.
var MimeType = media.MimeType(false, false, Codecs)

// Platform builds PCM recorders for capture Streams. Recorder notifications
// are posted to the scheduler.
type Platform struct {
	sched media.Scheduler
}

func NewPlatform(sched media.Scheduler) *Platform {
	return &Platform{sched: sched}
}

// IsTypeSupported accepts audio/webm with codecs=pcm, in any spelling
// mime.ParseMediaType understands.
func (p *Platform) IsTypeSupported(mimeType string) bool {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return mediaType == media.TypeAudioWebM && params["codecs"] == Codecs
}

func (p *Platform) NewRecorder(stream media.Stream, mimeType string) (media.Recorder, error) {
	if !p.IsTypeSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s (capture records %s)", media.ErrUnsupportedFormat, mimeType, MimeType)
	}
	s, ok := stream.(*Stream)
	if !ok {
		return nil, fmt.Errorf("%w: %T", media.ErrUnsupportedStream, stream)
	}
	return newRecorder(s, p.sched, mimeType), nil
}
