// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"sync"

	applog "mediarec/internal/log"
)

// LoggingTransport writes every message to the debug log.
type LoggingTransport struct {
	log    *applog.Logger
	mu     sync.Mutex
	closed bool
}

func NewLoggingTransport() *LoggingTransport {
	return &LoggingTransport{log: applog.New("transport")}
}

// Send logs the message type and its JSON size. Values that do not marshal
// are logged with their Go type instead.
func (lt *LoggingTransport) Send(data any) error {
	lt.mu.Lock()
	closed := lt.closed
	lt.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := Wrap(data)
	encoded, err := json.Marshal(msg)
	if err != nil {
		lt.log.Debugf("%s (%T, not JSON: %v)", msg.Type, msg.Payload, err)
		return nil
	}
	lt.log.Debugf("%s (%d bytes)", msg.Type, len(encoded))
	return nil
}

func (lt *LoggingTransport) Close() error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.closed = true
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
