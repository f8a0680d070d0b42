package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

const ResampleQuality = 4

// BufferSource plays a PCM clip through the analysed bus. A source can be
// started once; after Stop or natural end a new source must be created.
type BufferSource struct {
	ctx *Context
	pcm *PCM

	mu      sync.Mutex
	rate    float64
	gain    float64
	muted   bool
	started bool

	// Live once started; mutated under the sink lock.
	resampler *beep.Resampler
	volume    *effects.Volume
	ctrl      *beep.Ctrl

	finished atomic.Bool
	onEnded  atomic.Pointer[func()]
}

// NewBufferSource creates an unstarted source for pcm.
func (c *Context) NewBufferSource(pcm *PCM) (*BufferSource, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	return &BufferSource{ctx: c, pcm: pcm, rate: 1, gain: 1}, nil
}

// OnEnded registers fn to run once when the clip plays to its end. It does
// not run when the source is stopped.
func (s *BufferSource) OnEnded(fn func()) {
	s.onEnded.Store(&fn)
}

func (s *BufferSource) ratio() float64 {
	return float64(s.pcm.SampleRate()) / float64(s.ctx.sampleRate) * s.rate
}

// SetRate changes the playback speed multiplier.
func (s *BufferSource) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rate = rate
	if s.resampler != nil {
		s.ctx.sink.Lock()
		s.resampler.SetRatio(s.ratio())
		s.ctx.sink.Unlock()
	}
}

// SetGain sets the linear volume in [0, 1] and the mute flag.
func (s *BufferSource) SetGain(v float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gain, s.muted = v, muted
	if s.volume != nil {
		s.ctx.sink.Lock()
		ApplyGain(s.volume, v, muted)
		s.ctx.sink.Unlock()
	}
}

// Start begins playback at offset into the clip.
func (s *BufferSource) Start(offset time.Duration) error {
	if s.ctx.closed() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSourceUsed
	}
	s.started = true

	from := s.pcm.SampleRate().N(offset)
	from = max(0, min(from, s.pcm.Len()))

	s.resampler = beep.ResampleRatio(ResampleQuality, s.ratio(), s.pcm.Streamer(from, s.pcm.Len()))
	s.volume = &effects.Volume{Streamer: s.resampler}
	ApplyGain(s.volume, s.gain, s.muted)
	s.ctrl = &beep.Ctrl{Streamer: &endNotifier{Streamer: s.volume, src: s}}

	s.ctx.active.Add(1)
	s.ctx.sink.Lock()
	s.ctx.analysed.Add(s.ctrl)
	s.ctx.sink.Unlock()
	return nil
}

// Stop silences the source. Stopping an unstarted or finished source is a no-op.
func (s *BufferSource) Stop() {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()

	if ctrl == nil || !s.finish() {
		return
	}
	s.ctx.sink.Lock()
	ctrl.Streamer = nil
	s.ctx.sink.Unlock()
}

// Active reports whether the source has started and not yet stopped or ended.
func (s *BufferSource) Active() bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return started && !s.finished.Load()
}

func (s *BufferSource) finish() bool {
	if !s.finished.CompareAndSwap(false, true) {
		return false
	}
	s.ctx.active.Add(-1)
	return true
}

// endNotifier runs under the sink lock, so the callback is dispatched on
// its own goroutine.
type endNotifier struct {
	beep.Streamer
	src *BufferSource
}

func (e *endNotifier) Stream(samples [][2]float64) (int, bool) {
	n, ok := e.Streamer.Stream(samples)
	if (!ok || n < len(samples)) && e.src.finish() {
		if fn := e.src.onEnded.Load(); fn != nil && *fn != nil {
			go (*fn)()
		}
	}
	return n, ok
}
