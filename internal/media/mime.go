// SPDX-License-Identifier: MIT
package media

import (
	"fmt"

	applog "mediarec/internal/log"
)

// Base mime types, in order of precedence.
const (
	TypeVideoMPEG = "video/mpeg"
	TypeVideoWebM = "video/webm"
	TypeAudioWebM = "audio/webm"
)

var log = applog.New("media")

// MimeType selects the recording mime type. MPEG wins over video, video
// wins over audio. A non-empty codecs value is appended as a codecs
// parameter, e.g. "video/webm;codecs=vp8".
// Format reference: https://tools.ietf.org/html/rfc2046
func MimeType(hasVideo, preferMPEG bool, codecs string) string {
	var base string
	switch {
	case preferMPEG:
		base = TypeVideoMPEG
	case hasVideo:
		base = TypeVideoWebM
	default:
		base = TypeAudioWebM
	}

	if codecs != "" {
		return base + ";codecs=" + codecs
	}
	return base
}

// DeriveMimeType computes the mime type for recording stream. It returns
// the empty string when there is no stream, which means "not ready".
//
// An unsupported result is only a warning here; NewRecorder is where it
// becomes fatal.
func DeriveMimeType(stream Stream, preferMPEG bool, codecs string, platform Platform) string {
	if stream == nil {
		return ""
	}

	mimeType := MimeType(HasVideo(stream), preferMPEG, codecs)
	if platform != nil && !platform.IsTypeSupported(mimeType) {
		log.Warnf("platform does not support mime-type %s", mimeType)
	}
	return mimeType
}

// DeriveRecorder builds a recorder bound to stream and mimeType. It returns
// a nil recorder and a nil error when either input is unset.
func DeriveRecorder(platform Platform, stream Stream, mimeType string) (Recorder, error) {
	if stream == nil || mimeType == "" {
		return nil, nil
	}
	if platform == nil {
		return nil, fmt.Errorf("media: no platform to create a %s recorder: %w", mimeType, ErrNotReady)
	}

	rec, err := platform.NewRecorder(stream, mimeType)
	if err != nil {
		return nil, fmt.Errorf("media: create %s recorder: %w", mimeType, err)
	}
	return rec, nil
}
