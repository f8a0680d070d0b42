package player

import (
	"context"
	"sync"
	"time"

	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/glebovdev/podvault-cli/internal/media"
	"github.com/rs/zerolog/log"
)

// MediaElement is the streaming element an ElementEngine drives.
type MediaElement interface {
	audio.Tappable
	SetSrc(src string)
	RemoveSrc()
	Play() error
	Pause()
	Paused() bool
	Seek(t time.Duration) error
	CurrentTime() time.Duration
	Duration() time.Duration
	Loaded() bool
	SetPlaybackRate(rate float64)
	SetVolume(v float64)
	SetMuted(muted bool)
	Err() error
	Close()
}

var _ MediaElement = (*media.Element)(nil)

// ElementFactory creates an element rendering at the rate of out.
type ElementFactory func(out *audio.Context, events media.Events) MediaElement

// SourceResolver maps a network locator to the locator to play, typically
// a blob URI for saved episodes.
type SourceResolver interface {
	ResolveSource(ctx context.Context, episodeID, locator string) string
}

type ElementConfig struct {
	Graph    *audio.Graph
	Resolver SourceResolver
	Origin   *Origin
	Blobs    *blob.Registry
	// Factory defaults to a media.Element.
	Factory ElementFactory
	// OnChange is called, without locks held, on metadata, ended and error events.
	OnChange func()
	// OnProgress receives element time updates while no scrub is in progress.
	OnProgress func(position time.Duration)
}

// ElementEngine plays a streaming element. Sources are resolved through the
// vault first; network sources are proxied onto the app origin, and only
// same-origin or blob sources are ever tapped into the analyser.
type ElementEngine struct {
	cfg ElementConfig

	mu       sync.Mutex
	gen      uint64
	el       MediaElement
	actx     *audio.Context
	tap      *audio.MediaElementSource
	src      string
	blobURI  string
	loaded   bool
	duration time.Duration
	err      error
	closed   bool
	released chan struct{}

	rate   float64
	volume float64
	muted  bool

	scrubbing bool
	scrubPos  time.Duration
}

func NewElementEngine(cfg ElementConfig) *ElementEngine {
	e := &ElementEngine{cfg: cfg, rate: DefaultRate, volume: 1}
	if e.cfg.Factory == nil {
		e.cfg.Factory = e.newMediaElement
	}
	return e
}

func (e *ElementEngine) newMediaElement(out *audio.Context, events media.Events) MediaElement {
	opts := media.Options{OutputRate: out.SampleRate()}
	if e.cfg.Blobs != nil {
		opts.Blobs = e.cfg.Blobs
	}
	if e.cfg.Origin != nil {
		opts.AppOrigin = e.cfg.Origin.String()
	}
	return media.NewElement(opts, events)
}

func (e *ElementEngine) Mode() Mode { return ModeElement }

// Open tears down the current element, resolves audioURL and loads it into
// a new element. It returns once metadata has loaded, the element reported
// an error, ctx is done, or another Open or Release superseded it.
func (e *ElementEngine) Open(ctx context.Context, episodeID, audioURL string) error {
	e.revoke(e.reset())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrSuperseded
	}
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	resolved := audioURL
	if e.cfg.Resolver != nil {
		resolved = e.cfg.Resolver.ResolveSource(ctx, episodeID, audioURL)
	}

	src := resolved
	blobURI := ""
	if blob.IsBlobURL(resolved) {
		blobURI = resolved
	} else if e.cfg.Origin != nil {
		src = e.cfg.Origin.Proxied(resolved)
	}

	ready := make(chan error, 1)
	released := make(chan struct{})

	// The context is acquired under the lock so a Release that wins the
	// race leaves no context behind.
	e.mu.Lock()
	if gen != e.gen || e.closed {
		e.mu.Unlock()
		e.revoke(blobURI)
		return ErrSuperseded
	}
	actx, err := e.cfg.Graph.Context()
	if err != nil {
		e.err = &PlaybackError{Src: src, Err: err}
		e.mu.Unlock()
		e.revoke(blobURI)
		return e.err
	}
	el := e.cfg.Factory(actx, e.events(gen, ready))
	if err := actx.AttachElement(el); err != nil {
		e.err = &PlaybackError{Src: src, Err: err}
		e.mu.Unlock()
		el.Close()
		e.revoke(blobURI)
		return e.err
	}
	el.SetPlaybackRate(e.rate)
	el.SetVolume(e.volume)
	el.SetMuted(e.muted)

	e.el = el
	e.actx = actx
	e.src = src
	e.blobURI = blobURI
	e.released = released
	if err := actx.Resume(); err != nil {
		log.Debug().Err(err).Msg("Audio context resume failed")
	}
	el.SetSrc(src)
	e.mu.Unlock()

	log.Debug().Str("episode", episodeID).Str("src", src).Msg("Element source set")

	select {
	case err := <-ready:
		return err
	case <-released:
		return ErrSuperseded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *ElementEngine) revoke(uri string) {
	if uri != "" && e.cfg.Blobs != nil {
		e.cfg.Blobs.Revoke(uri)
	}
}

func (e *ElementEngine) events(gen uint64, ready chan<- error) media.Events {
	signal := func(err error) {
		select {
		case ready <- err:
		default:
		}
	}

	return media.Events{
		OnLoadedMetadata: func(duration time.Duration) {
			if !e.handleMetadata(gen, duration) {
				return
			}
			e.changed()
			signal(nil)
		},
		OnTimeUpdate: func(position time.Duration) {
			e.mu.Lock()
			suppressed := gen != e.gen || e.scrubbing
			e.mu.Unlock()
			if suppressed || e.cfg.OnProgress == nil {
				return
			}
			e.cfg.OnProgress(position)
		},
		OnEnded: func() {
			e.mu.Lock()
			current := gen == e.gen
			e.mu.Unlock()
			if current {
				e.changed()
			}
		},
		OnError: func(err error) {
			e.mu.Lock()
			if gen != e.gen {
				e.mu.Unlock()
				return
			}
			perr := &PlaybackError{Src: e.src, Err: err}
			e.err = perr
			e.mu.Unlock()

			e.changed()
			signal(perr)
		},
	}
}

// handleMetadata records the loaded source and taps the element into the
// analyser when the source is safe to tap.
func (e *ElementEngine) handleMetadata(gen uint64, duration time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.el == nil {
		return false
	}
	e.loaded = true
	e.duration = duration

	if e.tap != nil || e.actx == nil {
		return true
	}
	if e.cfg.Origin == nil || !e.cfg.Origin.TapSafe(e.src) {
		log.Debug().Str("src", e.src).Msg("Skipping analyser tap for cross-origin source")
		return true
	}
	tap, err := e.actx.CreateMediaElementSource(e.el)
	if err != nil {
		log.Debug().Err(err).Msg("Analyser tap failed")
		return true
	}
	e.tap = tap
	return true
}

func (e *ElementEngine) changed() {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange()
	}
}

// TogglePlay is a no-op when no source has been set.
func (e *ElementEngine) TogglePlay() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.el == nil {
		return nil
	}
	if !e.loaded {
		return ErrNotLoaded
	}
	if e.actx != nil {
		if err := e.actx.Resume(); err != nil {
			log.Debug().Err(err).Msg("Audio context resume failed")
		}
	}
	if e.el.Paused() {
		return e.el.Play()
	}
	e.el.Pause()
	return nil
}

func (e *ElementEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.el != nil {
		e.el.Pause()
	}
}

func (e *ElementEngine) Skip(delta time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.el == nil || !e.loaded {
		return ErrNotLoaded
	}
	return e.el.Seek(clamp(e.el.CurrentTime()+delta, e.duration))
}

func (e *ElementEngine) Seek(t time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekLocked(t)
}

func (e *ElementEngine) seekLocked(t time.Duration) error {
	if e.el == nil || !e.loaded {
		return ErrNotLoaded
	}
	return e.el.Seek(clamp(t, e.duration))
}

// BeginScrub starts a seek-bar drag. Time updates are suppressed and
// CurrentTime reports the drag position until the drag ends.
func (e *ElementEngine) BeginScrub() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.el == nil {
		return
	}
	e.scrubbing = true
	e.scrubPos = e.el.CurrentTime()
}

func (e *ElementEngine) Scrub(t time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.scrubbing {
		return
	}
	e.scrubPos = clamp(t, e.duration)
}

// EndScrub finishes the drag with a single seek to the drag position.
func (e *ElementEngine) EndScrub() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.scrubbing {
		return nil
	}
	e.scrubbing = false
	return e.seekLocked(e.scrubPos)
}

func (e *ElementEngine) CancelScrub() {
	e.mu.Lock()
	e.scrubbing = false
	e.mu.Unlock()
}

func (e *ElementEngine) Scrubbing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scrubbing
}

func (e *ElementEngine) SetRate(rate float64) error {
	if !ValidRate(rate) {
		return ErrUnsupportedRate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
	if e.el != nil {
		e.el.SetPlaybackRate(rate)
	}
	return nil
}

func (e *ElementEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = max(0, min(v, 1))
	if e.el != nil {
		e.el.SetVolume(e.volume)
	}
}

func (e *ElementEngine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	if e.el != nil {
		e.el.SetMuted(muted)
	}
}

func (e *ElementEngine) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scrubbing {
		return e.scrubPos
	}
	if e.el == nil || !e.loaded {
		return 0
	}
	return clamp(e.el.CurrentTime(), e.duration)
}

func (e *ElementEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return 0
	}
	return e.duration
}

func (e *ElementEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.el != nil && e.loaded && !e.el.Paused()
}

func (e *ElementEngine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *ElementEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Tapped reports whether the current element is routed through the analyser.
func (e *ElementEngine) Tapped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tap != nil
}

// Source returns the locator loaded into the current element.
func (e *ElementEngine) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// Analyser is nil unless the element is tapped; an untapped element never
// reaches the analyser.
func (e *ElementEngine) Analyser() *audio.Analyser {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tap == nil || e.actx == nil || e.actx.State() == audio.StateClosed {
		return nil
	}
	return e.actx.Analyser()
}

// Release pauses the element, clears its source and closes it. Opens in
// flight are superseded and later opens are refused. The blob URI it
// played, if any, is returned unrevoked.
func (e *ElementEngine) Release() string {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.reset()
}

// reset drops the current element and supersedes any open in flight.
func (e *ElementEngine) reset() string {
	e.mu.Lock()
	e.gen++
	el, actx, tap, uri, released := e.el, e.actx, e.tap, e.blobURI, e.released
	e.el = nil
	e.actx = nil
	e.tap = nil
	e.src = ""
	e.blobURI = ""
	e.released = nil
	e.loaded = false
	e.duration = 0
	e.err = nil
	e.scrubbing = false
	e.mu.Unlock()

	if released != nil {
		close(released)
	}
	if el == nil {
		return uri
	}

	el.Pause()
	el.RemoveSrc()
	if tap != nil {
		tap.Disconnect()
	} else if actx != nil {
		actx.DetachElement(el)
	}
	el.Close()
	log.Debug().Msg("Element released")
	return uri
}

// Close is Release followed by revoking the blob URI.
func (e *ElementEngine) Close() {
	e.revoke(e.Release())
}
