package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/rs/zerolog/log"
)

// StreamFetcher retrieves a complete payload, sending token as a bearer
// credential when it is set.
type StreamFetcher interface {
	FetchStreamBytes(ctx context.Context, url, token string) ([]byte, error)
}

// DecodeFunc decodes a complete payload into memory. contentType may be
// empty, in which case the format is sniffed.
type DecodeFunc func(data []byte, contentType string) (*audio.PCM, error)

type BufferConfig struct {
	Graph   *audio.Graph
	Fetcher StreamFetcher
	Decode  DecodeFunc
	// OnChange is called, without locks held, when playback stops on its own.
	OnChange func()
}

// BufferEngine fetches a whole payload, decodes it into memory and plays it
// through a fresh single-use source each time playback starts.
type BufferEngine struct {
	cfg BufferConfig

	mu       sync.Mutex
	gen      uint64
	url      string
	pcm      *audio.PCM
	ctx      *audio.Context
	source   *audio.BufferSource
	offset   time.Duration
	startRef time.Duration
	playing  bool
	closed   bool
	rate     float64
	volume   float64
	muted    bool
	err      error
}

func NewBufferEngine(cfg BufferConfig) *BufferEngine {
	if cfg.Decode == nil {
		cfg.Decode = audio.Decode
	}
	return &BufferEngine{cfg: cfg, rate: DefaultRate, volume: 1}
}

func (e *BufferEngine) Mode() Mode { return ModeBuffer }

// Load fetches and decodes url, replacing whatever was loaded. A load that
// is overtaken by a newer Load or by Cleanup returns ErrSuperseded and
// leaves the engine untouched. A cleaned-up engine refuses to load.
func (e *BufferEngine) Load(ctx context.Context, url, token string) (time.Duration, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrSuperseded
	}
	e.gen++
	gen := e.gen
	e.stopSourceLocked()
	e.url = url
	e.pcm = nil
	e.offset = 0
	e.playing = false
	e.err = nil
	// Acquired under the lock so Cleanup either sees this context and
	// closes it, or runs first and the load never creates one.
	actx, err := e.cfg.Graph.Context()
	e.mu.Unlock()
	if err != nil {
		return 0, e.failLoad(gen, url, err)
	}
	if err := actx.Resume(); err != nil {
		log.Debug().Err(err).Msg("Audio context resume failed")
	}

	data, err := e.fetch(ctx, url, token)
	if err != nil {
		return 0, e.failLoad(gen, url, err)
	}

	pcm, err := e.cfg.Decode(data, "")
	if err != nil {
		return 0, e.failLoad(gen, url, fmt.Errorf("decode: %w", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return 0, ErrSuperseded
	}
	e.pcm = pcm
	e.ctx = actx

	log.Debug().Str("url", url).Dur("duration", pcm.Duration()).Msg("Buffer decoded")
	return pcm.Duration(), nil
}

func (e *BufferEngine) fetch(ctx context.Context, url, token string) ([]byte, error) {
	if e.cfg.Fetcher == nil {
		return nil, errors.New("no stream fetcher configured")
	}
	return e.cfg.Fetcher.FetchStreamBytes(ctx, url, token)
}

func (e *BufferEngine) failLoad(gen uint64, url string, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return ErrSuperseded
	}
	e.err = &LoadError{URL: url, Err: err}
	log.Error().Err(err).Str("url", url).Msg("Buffer load failed")
	return e.err
}

// stopSourceLocked stops the active source. Stopping nothing is not an error.
func (e *BufferEngine) stopSourceLocked() {
	if e.source != nil {
		e.source.Stop()
		e.source = nil
	}
}

// Play starts from the paused offset, or from the top when the offset is at the end.
func (e *BufferEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pcm == nil {
		return ErrNotLoaded
	}
	offset := e.offset
	if offset >= e.pcm.Duration() {
		offset = 0
	}
	return e.startLocked(offset)
}

// PlayAt starts a new source at offset.
func (e *BufferEngine) PlayAt(offset time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pcm == nil {
		return ErrNotLoaded
	}
	offset = clamp(offset, e.pcm.Duration())
	if offset >= e.pcm.Duration() {
		offset = 0
	}
	return e.startLocked(offset)
}

// startLocked replaces any active source with a new one starting at offset.
func (e *BufferEngine) startLocked(offset time.Duration) error {
	if e.ctx == nil || e.ctx.State() == audio.StateClosed {
		actx, err := e.cfg.Graph.Context()
		if err != nil {
			return &PlaybackError{Src: e.url, Err: err}
		}
		e.ctx = actx
	}
	if err := e.ctx.Resume(); err != nil {
		log.Debug().Err(err).Msg("Audio context resume failed")
	}

	e.stopSourceLocked()

	src, err := e.ctx.NewBufferSource(e.pcm)
	if err != nil {
		return &PlaybackError{Src: e.url, Err: err}
	}
	src.SetRate(e.rate)
	src.SetGain(e.volume, e.muted)
	src.OnEnded(func() { e.handleEnded(src) })
	if err := src.Start(offset); err != nil {
		return &PlaybackError{Src: e.url, Err: err}
	}

	e.source = src
	e.offset = offset
	e.startRef = e.ctx.CurrentTime()
	e.playing = true
	log.Debug().Dur("offset", offset).Msg("Buffer source started")
	return nil
}

func (e *BufferEngine) handleEnded(src *audio.BufferSource) {
	e.mu.Lock()
	if e.source != src {
		e.mu.Unlock()
		return
	}
	e.source = nil
	e.playing = false
	if e.pcm != nil {
		e.offset = e.pcm.Duration()
	}
	onChange := e.cfg.OnChange
	e.mu.Unlock()

	log.Debug().Msg("Buffer playback ended")
	if onChange != nil {
		onChange()
	}
}

func (e *BufferEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return
	}
	e.offset = e.positionLocked()
	e.stopSourceLocked()
	e.playing = false
}

func (e *BufferEngine) TogglePlay() error {
	e.mu.Lock()
	playing := e.playing
	e.mu.Unlock()

	if playing {
		e.Pause()
		return nil
	}
	return e.Play()
}

// Seek moves to t, clamped to the clip. A playing source is replaced by a
// new one at the target; seeking to the very end stops playback there.
func (e *BufferEngine) Seek(t time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pcm == nil {
		return ErrNotLoaded
	}

	duration := e.pcm.Duration()
	t = clamp(t, duration)
	if !e.playing {
		e.offset = t
		return nil
	}
	if t >= duration {
		e.stopSourceLocked()
		e.playing = false
		e.offset = duration
		return nil
	}
	return e.startLocked(t)
}

func (e *BufferEngine) Skip(delta time.Duration) error {
	return e.Seek(e.CurrentTime() + delta)
}

// positionLocked derives the live position from the graph clock.
func (e *BufferEngine) positionLocked() time.Duration {
	if e.pcm == nil {
		return 0
	}
	if !e.playing || e.ctx == nil {
		return clamp(e.offset, e.pcm.Duration())
	}
	elapsed := e.ctx.CurrentTime() - e.startRef
	pos := e.offset + time.Duration(float64(elapsed)*e.rate)
	return clamp(pos, e.pcm.Duration())
}

func (e *BufferEngine) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *BufferEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pcm == nil {
		return 0
	}
	return e.pcm.Duration()
}

func (e *BufferEngine) SetRate(rate float64) error {
	if !ValidRate(rate) {
		return ErrUnsupportedRate
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playing && e.ctx != nil {
		e.offset = e.positionLocked()
		e.startRef = e.ctx.CurrentTime()
	}
	e.rate = rate
	if e.source != nil {
		e.source.SetRate(rate)
	}
	return nil
}

func (e *BufferEngine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *BufferEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = max(0, min(v, 1))
	if e.source != nil {
		e.source.SetGain(e.volume, e.muted)
	}
}

func (e *BufferEngine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	if e.source != nil {
		e.source.SetGain(e.volume, e.muted)
	}
}

func (e *BufferEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *BufferEngine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pcm != nil
}

func (e *BufferEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *BufferEngine) Analyser() *audio.Analyser {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.ctx.State() == audio.StateClosed {
		return nil
	}
	return e.ctx.Analyser()
}

// Cleanup stops playback, closes the graph and drops the decoded buffer.
// Loads in flight are superseded and later loads are refused. It is safe
// to call any number of times.
func (e *BufferEngine) Cleanup() {
	e.mu.Lock()
	e.gen++
	e.closed = true
	e.stopSourceLocked()
	e.pcm = nil
	e.ctx = nil
	e.playing = false
	e.offset = 0
	e.mu.Unlock()

	e.cfg.Graph.Close()
}

// Release is Cleanup. The buffer engine never owns a blob URI.
func (e *BufferEngine) Release() string {
	e.Cleanup()
	return ""
}
