// SPDX-License-Identifier: MIT
package analysis

import (
	"sync"

	"mediarec/internal/media"
)

// Graph connects at most one source stream to an analyser through a noise
// gate. It is safe for concurrent use.
type Graph struct {
	analyser *Analyser
	gate     *Gate

	mu         sync.Mutex // Guards source and disconnect
	source     media.SampleSource
	disconnect func()
}

func NewGraph(analyser *Analyser) *Graph {
	g := &Graph{analyser: analyser}
	if analyser != nil {
		g.gate = NewGate(analyser)
	}
	return g
}

// Analyser returns the analyser fed by the graph.
func (g *Graph) Analyser() *Analyser { return g.analyser }

// Gate returns the gate in front of the analyser, or nil without one.
func (g *Graph) Gate() *Gate { return g.gate }

// Source returns the connected stream, or nil.
func (g *Graph) Source() media.SampleSource {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source
}

// SetSource disconnects the current source and connects s. A nil s leaves
// the analyser unconnected.
func (g *Graph) SetSource(s media.SampleSource) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disconnect != nil {
		g.disconnect()
		g.disconnect = nil
	}
	g.source = s
	if s == nil || g.analyser == nil {
		return
	}

	if len(s.AudioTracks()) == 0 {
		log.Warnf("media stream does not have any audio tracks")
	}
	g.analyser.Reset()
	g.disconnect = s.Connect(g.gate)
}

// Close disconnects the source.
func (g *Graph) Close() {
	g.SetSource(nil)
}
