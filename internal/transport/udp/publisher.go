// SPDX-License-Identifier: MIT

// Package udp publishes the analyser spectrum as fixed-layout datagrams for
// external visualizers.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "mediarec/internal/log"
)

// DefaultInterval is about 60 packets per second.
const DefaultInterval = 16 * time.Millisecond

const headerSize = 4 + 8 + 2

var log = applog.New("udp")

// ErrShortPacket is returned by ParsePacket for truncated datagrams.
var ErrShortPacket = errors.New("udp: short packet")

// SpectrumSource provides byte frequency data, such as an analysis.Analyser.
type SpectrumSource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte) int
}

// PacketSender sends one datagram. *Sender implements it.
type PacketSender interface {
	Send(data []byte) error
}

/*
Packet layout (big endian):

	|<- 4 bytes ->|<-- 8 bytes -->|<- 2 bytes ->|<--- N bytes --->|
	+-------------+---------------+-------------+-----------------+
	|  sequence   |   timestamp   |    count    |      bins       |
	|  (uint32)   | (int64, ns)   |  (uint16)   | (N x uint8)     |
	+-------------+---------------+-------------+-----------------+

Bins are the analyser's byte frequency data: 0 is MinDecibels and 255 is
MaxDecibels.
*/

// Packet is a decoded datagram.
type Packet struct {
	Seq       uint32
	Timestamp time.Time
	Bins      []byte
}

// AppendPacket appends the encoding of seq, ts and bins to dst.
func AppendPacket(dst []byte, seq uint32, ts time.Time, bins []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(ts.UnixNano()))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(bins)))
	return append(dst, bins...)
}

// ParsePacket decodes a datagram produced by AppendPacket.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < headerSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	n := int(binary.BigEndian.Uint16(b[12:14]))
	if len(b) < headerSize+n {
		return Packet{}, fmt.Errorf("%w: header says %d bins, have %d", ErrShortPacket, n, len(b)-headerSize)
	}
	return Packet{
		Seq:       binary.BigEndian.Uint32(b[0:4]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[4:12]))),
		Bins:      b[headerSize : headerSize+n],
	}, nil
}

// Publisher periodically sends the spectrum of a SpectrumSource.
type Publisher struct {
	sender   PacketSender
	source   SpectrumSource
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex // Guards the run state
	doneCh chan struct{}
	wg     sync.WaitGroup

	// Touched only by Publish, which the loop calls from one goroutine.
	seq    uint32
	bins   []byte
	packet []byte
}

// NewPublisher returns a stopped publisher. A non-positive interval uses
// DefaultInterval.
func NewPublisher(interval time.Duration, sender PacketSender, source SpectrumSource) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("udp: publisher needs a sender")
	}
	if source == nil {
		return nil, errors.New("udp: publisher needs a spectrum source")
	}

	if interval <= 0 {
		log.Warnf("invalid interval %s, defaulting to %s", interval, DefaultInterval)
		interval = DefaultInterval
	}

	n := min(source.FrequencyBinCount(), math.MaxUint16)
	log.Infof("publisher: every %s, %d bins", interval, n)
	return &Publisher{
		sender:   sender,
		source:   source,
		interval: interval,
		now:      time.Now,
		bins:     make([]byte, n),
		packet:   make([]byte, 0, headerSize+n),
	}, nil
}

// Start launches the publishing goroutine. Calling it while running is a
// no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doneCh != nil {
		log.Warnf("publisher already running")
		return
	}

	done := make(chan struct{})
	p.doneCh = done
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.Publish(); err != nil {
					log.Debugf("publish: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// Stop ends the publishing goroutine and waits for it.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	done := p.doneCh
	p.doneCh = nil
	p.mu.Unlock()
	if done == nil {
		return nil
	}

	close(done)
	p.wg.Wait()
	log.Debugf("publisher stopped after %d packets", p.seq)
	return nil
}

// Publish builds and sends one packet. It must not run concurrently with
// itself; the running loop is its only caller besides tests.
func (p *Publisher) Publish() error {
	n := p.source.ByteFrequencyData(p.bins)
	p.seq++
	p.packet = AppendPacket(p.packet[:0], p.seq, p.now(), p.bins[:n])
	return p.sender.Send(p.packet)
}

func (p *Publisher) Close() error {
	return p.Stop()
}
