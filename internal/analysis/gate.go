// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"sync/atomic"

	"mediarec/internal/media"
)

// Gate forwards a buffer to its sink only when the buffer's peak amplitude
// exceeds the threshold. A closed gate leaves the analyser holding the last
// loud frame instead of decaying into noise.
type Gate struct {
	next      media.Sink
	threshold atomic.Int32 // absolute amplitude, 0 keeps the gate open
}

// NewGate returns an open gate in front of next.
func NewGate(next media.Sink) *Gate {
	return &Gate{next: next}
}

// SetThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	threshold = min(max(threshold, 0), 1)
	g.threshold.Store(int32(threshold * math.MaxInt16))
}

// Threshold returns the current noise gate threshold in [0, 1].
func (g *Gate) Threshold() float64 {
	return float64(g.threshold.Load()) / math.MaxInt16
}

// Write runs on the audio thread.
func (g *Gate) Write(samples []int16) {
	threshold := g.threshold.Load()
	if threshold == 0 || peak(samples) > threshold {
		g.next.Write(samples)
	}
}

// peak returns the largest absolute sample value without branching on the
// sample sign.
func peak(samples []int16) int32 {
	var maxAmplitude int32
	for _, s := range samples {
		sample := int32(s)
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += diff &^ (diff >> 31)
	}
	return maxAmplitude
}
