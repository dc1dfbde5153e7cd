// SPDX-License-Identifier: MIT

// Package transport carries recorder events and analysis frames to
// listeners outside the process.
package transport

import "errors"

// ErrClosed is returned by Send once a transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport sends values to whoever is listening. Implementations must be
// safe for concurrent use and must not block the caller for long.
type Transport interface {
	Send(data any) error
	Close() error
}

// Typed values choose the type tag of their Message.
type Typed interface {
	MessageType() string
}

// Message is the JSON envelope written to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Wrap returns data as a Message. Messages are returned unchanged, Typed
// values use their own tag and anything else is tagged "data".
func Wrap(data any) Message {
	switch v := data.(type) {
	case Message:
		return v
	case *Message:
		return *v
	case Typed:
		return Message{Type: v.MessageType(), Payload: v}
	default:
		return Message{Type: "data", Payload: v}
	}
}

// Multi sends to every transport and returns the joined errors.
type Multi []Transport

func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
