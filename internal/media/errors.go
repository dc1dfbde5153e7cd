// SPDX-License-Identifier: MIT
package media

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when an operation needs a recorder that could
	// not be derived yet (missing stream or mime type).
	ErrNotReady = errors.New("media: recorder not ready")

	// ErrUnsupportedFormat is returned when the platform cannot record the
	// requested mime type.
	ErrUnsupportedFormat = errors.New("media: unsupported mime type")

	// ErrUnsupportedStream is returned when the platform cannot record from
	// the given stream.
	ErrUnsupportedStream = errors.New("media: unsupported stream")

	// ErrInvalidState is returned by a recorder asked to do something its
	// current state does not allow, such as pausing while inactive.
	ErrInvalidState = errors.New("media: invalid recorder state")
)

// CapabilityFault wraps an error reported by a recorder. It is passed on
// verbatim; nothing retries it.
type CapabilityFault struct {
	Op  string
	Err error
}

func (e *CapabilityFault) Error() string {
	return fmt.Sprintf("media: recorder %s: %v", e.Op, e.Err)
}

func (e *CapabilityFault) Unwrap() error {
	return e.Err
}
