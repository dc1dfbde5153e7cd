// SPDX-License-Identifier: MIT

// Package waveform samples the analyser's time-domain data into frames for
// live waveform displays.
package waveform

import (
	"sync"
	"time"

	applog "mediarec/internal/log"
	"mediarec/internal/transport"
)

// DefaultInterval is one frame per display refresh at 60 Hz.
const DefaultInterval = time.Second / 60

var log = applog.New("waveform")

// Source is the part of analysis.Analyser the sampler reads.
type Source interface {
	FrequencyBinCount() int
	ByteTimeDomainData(dst []byte) int
	Level() float64
}

// Frame is one waveform snapshot. Samples hold FrequencyBinCount bytes with
// silence at 128.
type Frame struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Samples   []byte    `json:"samples"`
	Level     float64   `json:"level"`
}

func (Frame) MessageType() string { return "waveform" }

// Sampler publishes a Frame every interval while active.
type Sampler struct {
	transport transport.Transport
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	source Source
	seq    uint64
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSampler returns an inactive sampler. A non-positive interval uses
// DefaultInterval.
func NewSampler(tr transport.Transport, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{transport: tr, interval: interval, now: time.Now}
}

// SetSource replaces the sampled analyser. With no source, ticks are
// skipped.
func (s *Sampler) SetSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// Active reports whether the sampling loop is running.
func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// SetActive starts or stops the sampling loop. Repeating the current state
// does nothing.
func (s *Sampler) SetActive(active bool) {
	s.mu.Lock()
	if active == (s.stop != nil) {
		s.mu.Unlock()
		return
	}

	if active {
		stop := make(chan struct{})
		s.stop = stop
		s.wg.Add(1)
		s.mu.Unlock()
		go s.loop(stop)
		log.Debugf("sampling every %s", s.interval)
		return
	}

	close(s.stop)
	s.stop = nil
	s.mu.Unlock()
	s.wg.Wait()
	log.Debugf("sampling stopped")
}

func (s *Sampler) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			frame, ok := s.Sample()
			if !ok {
				continue
			}
			if err := s.transport.Send(frame); err != nil {
				log.Debugf("send frame %d: %v", frame.Seq, err)
			}
		case <-stop:
			return
		}
	}
}

// Sample takes one frame from the source. It reports false when there is
// no source.
func (s *Sampler) Sample() (Frame, bool) {
	s.mu.Lock()
	src := s.source
	if src == nil {
		s.mu.Unlock()
		return Frame{}, false
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	// Each frame owns its buffer; transports may hold it after Send.
	samples := make([]byte, src.FrequencyBinCount())
	n := src.ByteTimeDomainData(samples)
	return Frame{
		Seq:       seq,
		Timestamp: s.now(),
		Samples:   samples[:n],
		Level:     src.Level(),
	}, true
}

// Close stops the sampling loop.
func (s *Sampler) Close() error {
	s.SetActive(false)
	return nil
}
