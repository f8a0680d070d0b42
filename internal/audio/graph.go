package audio

import (
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog/log"
)

// Graph is the scoped handle to a player's processing context. The context
// is created on first use and released by Close; a closed graph creates a
// fresh context the next time one is needed.
type Graph struct {
	newSink    func() Sink
	sampleRate beep.SampleRate

	mu      sync.Mutex
	ctx     *Context
	created int
}

func NewGraph(newSink func() Sink, sampleRate beep.SampleRate) *Graph {
	if newSink == nil {
		newSink = NewSpeakerSink
	}
	return &Graph{newSink: newSink, sampleRate: sampleRate}
}

// Context returns the live context, creating it if needed.
func (g *Graph) Context() (*Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx != nil && !g.ctx.closed() {
		return g.ctx, nil
	}

	ctx, err := NewContext(g.newSink(), g.sampleRate)
	if err != nil {
		return nil, err
	}
	g.ctx = ctx
	g.created++
	return ctx, nil
}

// Current returns the live context without creating one.
func (g *Graph) Current() *Context {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil || g.ctx.closed() {
		return nil
	}
	return g.ctx
}

// Analyser returns the live context's analyser, or nil.
func (g *Graph) Analyser() *Analyser {
	if ctx := g.Current(); ctx != nil {
		return ctx.Analyser()
	}
	return nil
}

// Created returns how many contexts this graph has created.
func (g *Graph) Created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

// Close releases the live context. Closing an idle or closed graph is a no-op.
func (g *Graph) Close() {
	g.mu.Lock()
	ctx := g.ctx
	g.ctx = nil
	g.mu.Unlock()

	if ctx == nil {
		return
	}
	ctx.Close()
	log.Debug().Msg("Audio graph released")
}
