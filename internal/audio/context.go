// Package audio implements the playback graph shared by both engines: one
// processing context per player, an analyser bus feeding the visualizer, and
// single-use buffer sources.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed        = errors.New("audio: context closed")
	ErrSourceUsed    = errors.New("audio: source already started")
	ErrAlreadyTapped = errors.New("audio: element already routed through the graph")
	ErrNotAttached   = errors.New("audio: element not attached")
)

type State int

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tappable is a streaming media element that can be routed into a Context.
type Tappable interface {
	beep.Streamer
	CORSSafe() bool
}

type route struct {
	ctrl   *beep.Ctrl
	tapped bool
}

// Context owns the output sink and two buses: the analysed bus, whose mix is
// captured by the Analyser, and the direct bus, which goes straight out.
type Context struct {
	sink       Sink
	sampleRate beep.SampleRate
	analyser   *Analyser

	// Guarded by the sink lock.
	analysed beep.Mixer
	direct   beep.Mixer
	scratch  [][2]float64

	rendered atomic.Int64
	active   atomic.Int32

	mu     sync.Mutex
	state  State
	routes map[Tappable]*route
}

// NewContext initializes sink and starts rendering into it. The context
// starts suspended, so its clock does not move until Resume.
func NewContext(sink Sink, sampleRate beep.SampleRate) (*Context, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	c := &Context{
		sink:       sink,
		sampleRate: sampleRate,
		analyser:   NewAnalyser(),
		state:      StateSuspended,
		routes:     make(map[Tappable]*route),
	}

	if err := sink.Init(sampleRate, sampleRate.N(SpeakerBufferSize)); err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}
	sink.Play(beep.StreamerFunc(c.render))
	if err := sink.Suspend(); err != nil {
		log.Debug().Err(err).Msg("Sink suspend on create failed")
	}

	log.Debug().Int("sample_rate", int(sampleRate)).Msg("Audio context created")
	return c, nil
}

func (c *Context) render(samples [][2]float64) (int, bool) {
	n := len(samples)

	c.analysed.Stream(samples)
	c.analyser.capture(samples)

	if cap(c.scratch) < n {
		c.scratch = make([][2]float64, n)
	}
	tmp := c.scratch[:n]
	clear(tmp)
	c.direct.Stream(tmp)
	for i := range samples {
		samples[i][0] += tmp[i][0]
		samples[i][1] += tmp[i][1]
	}

	c.rendered.Add(int64(n))
	return n, true
}

func (c *Context) SampleRate() beep.SampleRate { return c.sampleRate }

func (c *Context) Analyser() *Analyser { return c.analyser }

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTime is the amount of audio the context has rendered so far.
func (c *Context) CurrentTime() time.Duration {
	return c.sampleRate.D(int(c.rendered.Load()))
}

// ActiveSources returns the number of buffer sources currently producing samples.
func (c *Context) ActiveSources() int {
	return int(c.active.Load())
}

func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		return nil
	}
	if err := c.sink.Resume(); err != nil {
		return fmt.Errorf("resume audio context: %w", err)
	}
	c.state = StateRunning
	log.Debug().Msg("Audio context resumed")
	return nil
}

func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateSuspended:
		return nil
	}
	if err := c.sink.Suspend(); err != nil {
		return fmt.Errorf("suspend audio context: %w", err)
	}
	c.state = StateSuspended
	return nil
}

// Close stops all output and releases the sink. Closing twice is a no-op.
func (c *Context) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	routes := c.routes
	c.routes = make(map[Tappable]*route)
	c.mu.Unlock()

	c.sink.Lock()
	for _, r := range routes {
		r.ctrl.Streamer = nil
	}
	c.analysed.Clear()
	c.direct.Clear()
	c.sink.Unlock()

	c.sink.Close()
	log.Debug().Msg("Audio context closed")
}

func (c *Context) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed
}

// AttachElement plays el straight to the output, bypassing the analyser.
func (c *Context) AttachElement(el Tappable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClosed
	}
	if _, ok := c.routes[el]; ok {
		return nil
	}

	r := &route{ctrl: &beep.Ctrl{Streamer: el}}
	c.routes[el] = r

	c.sink.Lock()
	c.direct.Add(r.ctrl)
	c.sink.Unlock()
	return nil
}

// MediaElementSource is the tap point of an element routed through the analyser.
type MediaElementSource struct {
	ctx *Context
	el  Tappable
}

func (m *MediaElementSource) Element() Tappable { return m.el }

// Disconnect removes the element from the graph entirely.
func (m *MediaElementSource) Disconnect() {
	m.ctx.DetachElement(m.el)
}

// CreateMediaElementSource moves el onto the analysed bus. An element can be
// tapped once; later calls return ErrAlreadyTapped. Once tapped, an element
// that is not CORS-safe contributes silence to the output.
func (c *Context) CreateMediaElementSource(el Tappable) (*MediaElementSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil, ErrClosed
	}

	r, ok := c.routes[el]
	if ok && r.tapped {
		return nil, ErrAlreadyTapped
	}

	next := &route{ctrl: &beep.Ctrl{Streamer: corsGuard{el}}, tapped: true}
	c.routes[el] = next

	c.sink.Lock()
	if ok {
		r.ctrl.Streamer = nil
	}
	c.analysed.Add(next.ctrl)
	c.sink.Unlock()

	log.Debug().Bool("cors_safe", el.CORSSafe()).Msg("Media element routed through analyser")
	return &MediaElementSource{ctx: c, el: el}, nil
}

// Tapped reports whether el has been routed through the analyser.
func (c *Context) Tapped(el Tappable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[el]
	return ok && r.tapped
}

// DetachElement stops pulling from el. Detaching an unknown element is a no-op.
func (c *Context) DetachElement(el Tappable) {
	c.mu.Lock()
	r, ok := c.routes[el]
	delete(c.routes, el)
	closed := c.state == StateClosed
	c.mu.Unlock()

	if !ok || closed {
		return
	}
	c.sink.Lock()
	r.ctrl.Streamer = nil
	c.sink.Unlock()
}

type corsGuard struct {
	el Tappable
}

func (g corsGuard) Stream(samples [][2]float64) (int, bool) {
	n, ok := g.el.Stream(samples)
	if !g.el.CORSSafe() {
		clear(samples[:n])
	}
	return n, ok
}

func (g corsGuard) Err() error { return g.el.Err() }
