// SPDX-License-Identifier: MIT

// Package eventloop runs functions one at a time on a single goroutine.
//
// The recording controller is not safe for concurrent use. Every call into
// it, whether from a recorder notification, a timer or the user interface,
// is posted to one Loop so that state transitions never interleave.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do once the loop has been closed.
var ErrClosed = errors.New("eventloop: closed")

// Loop is an unbounded FIFO of functions. Post never blocks, so handlers
// running on the loop can post follow-up work without deadlocking.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// New returns a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. It reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for its result. It must not be called
// from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The function may have run just before the loop exited.
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Run executes queued functions until ctx is cancelled or Close is called.
// Work still queued at Close is drained before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.finish()
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Drain runs every queued function on the calling goroutine and returns
// how many ran. Tests use it in place of Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Close stops accepting work and lets Run return once the queue is empty.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
