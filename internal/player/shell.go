package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/glebovdev/podvault-cli/internal/episode"
	"github.com/glebovdev/podvault-cli/internal/vault"
	"github.com/glebovdev/podvault-cli/internal/visualizer"
	"github.com/rs/zerolog/log"
)

// Vault is the offline cache as the shell sees it.
type Vault interface {
	ResolveSource(ctx context.Context, episodeID, locator string) string
	Status(ctx context.Context, locator string) vault.Status
	Progress(locator string) vault.Progress
	SaveWithInfo(ctx context.Context, locator string, info vault.Info) error
	Remove(ctx context.Context, locator string) error
}

// StreamLocator resolves the authenticated URL and token of a secure stream.
type StreamLocator interface {
	StreamURL(ctx context.Context, ep *episode.Episode) (url, token string, err error)
}

type Visualizer interface {
	Start(src visualizer.Source)
	Stop()
}

type Options struct {
	Graph  *audio.Graph
	Vault  Vault
	Blobs  *blob.Registry
	Origin *Origin

	// Fetcher and Streams serve buffer mode. Streams is consulted only when
	// no AuthToken is configured.
	Fetcher   StreamFetcher
	Streams   StreamLocator
	AuthToken string

	Factory    ElementFactory
	Decode     DecodeFunc
	Visualizer Visualizer

	Volume      float64
	Rate        float64
	SkipSilence bool

	// OnProgress receives element time updates.
	OnProgress func(position time.Duration)
}

// Snapshot is the shell state the UI renders.
type Snapshot struct {
	EpisodeID   string
	Title       string
	Podcast     string
	Mode        Mode
	Loading     bool
	Loaded      bool
	Playing     bool
	Position    time.Duration
	Duration    time.Duration
	Rate        float64
	Volume      float64
	Muted       bool
	SkipSilence bool
	Scrubbing   bool
	Err         error
	Offline     vault.Status
	Progress    vault.Progress
}

// Shell is the single transport surface over whichever engine the current
// episode selected. Only one engine is live at a time; the previous one is
// torn down completely before the next is built.
type Shell struct {
	opts Options

	mu          sync.Mutex
	gen         uint64
	ep          *episode.Episode
	engine      Engine
	cancel      context.CancelFunc
	loading     bool
	err         error
	volume      float64
	rate        float64
	muted       bool
	skipSilence bool
	scrubbing   bool
	scrubPos    time.Duration
	observers   []func()

	vizMu sync.Mutex
}

func NewShell(opts Options) *Shell {
	if opts.Graph == nil {
		opts.Graph = audio.NewGraph(nil, audio.DefaultSampleRate)
	}
	rate := opts.Rate
	if !ValidRate(rate) {
		rate = DefaultRate
	}
	return &Shell{
		opts:        opts,
		volume:      max(0, min(opts.Volume, 1)),
		rate:        rate,
		skipSilence: opts.SkipSilence,
	}
}

// OnChange registers fn to be called after any state change. It may be
// called from any goroutine.
func (s *Shell) OnChange(fn func()) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Shell) notify() {
	s.mu.Lock()
	observers := append([]func(){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

func (s *Shell) current() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Open switches to ep. Opening the episode that is already open is a
// no-op unless it failed to load or failed during playback. Work started
// for ep is cancelled when a later Open or Close supersedes it.
func (s *Shell) Open(ctx context.Context, ep *episode.Episode) error {
	if ep == nil {
		return ErrNoEpisode
	}

	s.mu.Lock()
	if s.ep != nil && s.ep.ID == ep.ID && s.engine != nil && s.err == nil && s.engine.Err() == nil {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	prev, prevCancel := s.engine, s.cancel
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.engine = nil
	s.ep = ep
	s.loading = true
	s.err = nil
	s.scrubbing = false
	volume, rate, muted := s.volume, s.rate, s.muted
	s.mu.Unlock()

	s.teardown(prev, prevCancel)
	s.notify()

	mode := ModeFor(ep)
	log.Debug().Str("episode", ep.ID).Str("mode", mode.String()).Msg("Opening episode")

	onChange := func() { s.engineChanged(gen) }

	var eng Engine
	var load func() error
	switch mode {
	case ModeBuffer:
		be := NewBufferEngine(BufferConfig{
			Graph:    s.opts.Graph,
			Fetcher:  s.opts.Fetcher,
			Decode:   s.opts.Decode,
			OnChange: onChange,
		})
		eng = be
		load = func() error {
			url, token, err := s.streamURL(ctx, ep)
			if err != nil {
				return &LoadError{URL: ep.StreamEndpoint, Err: err}
			}
			_, err = be.Load(ctx, url, token)
			return err
		}
	default:
		ee := NewElementEngine(ElementConfig{
			Graph:      s.opts.Graph,
			Resolver:   s.resolver(),
			Origin:     s.opts.Origin,
			Blobs:      s.opts.Blobs,
			Factory:    s.opts.Factory,
			OnChange:   onChange,
			OnProgress: s.opts.OnProgress,
		})
		eng = ee
		load = func() error {
			return ee.Open(ctx, ep.ID, ep.AudioURL)
		}
	}

	eng.SetVolume(volume)
	eng.SetMuted(muted)
	_ = eng.SetRate(rate)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.revoke(eng.Release())
		return ErrSuperseded
	}
	s.engine = eng
	s.mu.Unlock()

	err := load()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.loading = false
	s.err = err
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("episode", ep.ID).Msg("Episode failed to load")
	}
	s.notify()
	return err
}

func (s *Shell) resolver() SourceResolver {
	if s.opts.Vault == nil {
		return nil
	}
	return s.opts.Vault
}

func (s *Shell) streamURL(ctx context.Context, ep *episode.Episode) (string, string, error) {
	if !ep.HasStreamEndpoint() {
		return "", "", ErrNoStreamEndpoint
	}
	if s.opts.AuthToken == "" && s.opts.Streams != nil {
		return s.opts.Streams.StreamURL(ctx, ep)
	}
	url := ep.StreamEndpoint
	if s.opts.Origin != nil {
		url = s.opts.Origin.Resolve(url)
	}
	return url, s.opts.AuthToken, nil
}

func (s *Shell) engineChanged(gen uint64) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}
	s.syncVisualizer()
	s.notify()
}

// syncVisualizer runs the render loop against the live engine's analyser
// while it plays and stops it otherwise.
func (s *Shell) syncVisualizer() {
	if s.opts.Visualizer == nil {
		return
	}
	s.vizMu.Lock()
	defer s.vizMu.Unlock()

	if eng := s.current(); eng != nil && eng.IsPlaying() {
		if a := eng.Analyser(); a != nil {
			s.opts.Visualizer.Start(a)
			return
		}
	}
	s.opts.Visualizer.Stop()
}

// teardown cancels the session's pending work, stops the render loop,
// releases the engine, closes the graph and revokes the blob URI the engine
// played. Each step tolerates having already run.
func (s *Shell) teardown(eng Engine, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if s.opts.Visualizer != nil {
		s.vizMu.Lock()
		s.opts.Visualizer.Stop()
		s.vizMu.Unlock()
	}
	var uri string
	if eng != nil {
		uri = eng.Release()
	}
	s.opts.Graph.Close()
	s.revoke(uri)
}

func (s *Shell) revoke(uri string) {
	if uri != "" && s.opts.Blobs != nil {
		s.opts.Blobs.Revoke(uri)
	}
}

// Close tears down the current episode. It is safe to call repeatedly.
func (s *Shell) Close() {
	s.mu.Lock()
	s.gen++
	prev, cancel := s.engine, s.cancel
	s.cancel = nil
	s.engine = nil
	s.ep = nil
	s.loading = false
	s.err = nil
	s.scrubbing = false
	s.mu.Unlock()

	s.teardown(prev, cancel)
	if prev != nil {
		log.Debug().Msg("Player shell closed")
		s.notify()
	}
}

func (s *Shell) Episode() *episode.Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep
}

// loaded returns the live engine, or an error when transport is disabled.
func (s *Shell) loaded() (Engine, error) {
	eng := s.current()
	if eng == nil {
		return nil, ErrNoEpisode
	}
	if !eng.IsLoaded() {
		return nil, ErrNotLoaded
	}
	return eng, nil
}

func (s *Shell) TogglePlay() error {
	eng := s.current()
	if eng == nil {
		return nil
	}
	if !eng.IsLoaded() {
		return ErrNotLoaded
	}
	err := eng.TogglePlay()
	s.syncVisualizer()
	s.notify()
	return err
}

func (s *Shell) Skip(delta time.Duration) error {
	eng, err := s.loaded()
	if err != nil {
		return err
	}
	err = eng.Skip(delta)
	s.syncVisualizer()
	s.notify()
	return err
}

func (s *Shell) Seek(t time.Duration) error {
	eng, err := s.loaded()
	if err != nil {
		return err
	}
	err = eng.Seek(t)
	s.syncVisualizer()
	s.notify()
	return err
}

func (s *Shell) SetRate(rate float64) error {
	if !ValidRate(rate) {
		return ErrUnsupportedRate
	}
	s.mu.Lock()
	s.rate = rate
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		if err := eng.SetRate(rate); err != nil {
			return err
		}
	}
	s.notify()
	return nil
}

// CycleRate moves to the next faster rate, wrapping to the slowest.
func (s *Shell) CycleRate() float64 {
	next := NextRate(s.Rate())
	_ = s.SetRate(next)
	return next
}

func (s *Shell) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Shell) SetVolume(v float64) {
	v = max(0, min(v, 1))
	s.mu.Lock()
	s.volume = v
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		eng.SetVolume(v)
	}
	s.notify()
}

func (s *Shell) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// ToggleMute flips the mute state and returns it.
func (s *Shell) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		eng.SetMuted(muted)
	}
	s.notify()
	return muted
}

func (s *Shell) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetSkipSilence stores the preference. Playback does not act on it.
func (s *Shell) SetSkipSilence(on bool) {
	s.mu.Lock()
	s.skipSilence = on
	s.mu.Unlock()
	s.notify()
}

func (s *Shell) SkipSilence() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipSilence
}

func (s *Shell) CurrentTime() time.Duration {
	s.mu.Lock()
	scrubbing, pos, eng := s.scrubbing, s.scrubPos, s.engine
	s.mu.Unlock()

	if scrubbing {
		return pos
	}
	if eng == nil {
		return 0
	}
	return eng.CurrentTime()
}

func (s *Shell) Duration() time.Duration {
	if eng := s.current(); eng != nil {
		return eng.Duration()
	}
	return 0
}

func (s *Shell) IsPlaying() bool {
	eng := s.current()
	return eng != nil && eng.IsPlaying()
}

func (s *Shell) IsLoaded() bool {
	eng := s.current()
	return eng != nil && eng.IsLoaded()
}

func (s *Shell) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Mode reports the mode of the open episode.
func (s *Shell) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ModeFor(s.ep)
}

// Err returns the load or playback error of the open episode.
func (s *Shell) Err() error {
	s.mu.Lock()
	err, eng := s.err, s.engine
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if eng != nil {
		return eng.Err()
	}
	return nil
}

// BeginScrub starts a seek-bar drag. Engines that scrub natively keep
// the drag state themselves.
func (s *Shell) BeginScrub() {
	eng := s.current()
	if sc, ok := eng.(Scrubber); ok {
		sc.BeginScrub()
		return
	}
	if eng == nil {
		return
	}
	pos := eng.CurrentTime()
	s.mu.Lock()
	s.scrubbing = true
	s.scrubPos = pos
	s.mu.Unlock()
}

func (s *Shell) Scrub(t time.Duration) {
	eng := s.current()
	if sc, ok := eng.(Scrubber); ok {
		sc.Scrub(t)
		return
	}
	if eng == nil {
		return
	}
	t = clamp(t, eng.Duration())
	s.mu.Lock()
	if s.scrubbing {
		s.scrubPos = t
	}
	s.mu.Unlock()
}

// EndScrub issues the one seek the drag resolves to.
func (s *Shell) EndScrub() error {
	eng := s.current()
	if sc, ok := eng.(Scrubber); ok {
		err := sc.EndScrub()
		s.notify()
		return err
	}

	s.mu.Lock()
	scrubbing, pos := s.scrubbing, s.scrubPos
	s.scrubbing = false
	s.mu.Unlock()

	if !scrubbing {
		return nil
	}
	return s.Seek(pos)
}

func (s *Shell) CancelScrub() {
	if sc, ok := s.current().(Scrubber); ok {
		sc.CancelScrub()
		return
	}
	s.mu.Lock()
	s.scrubbing = false
	s.mu.Unlock()
}

func (s *Shell) Scrubbing() bool {
	if sc, ok := s.current().(Scrubber); ok {
		return sc.Scrubbing()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrubbing
}

// SaveOffline saves the open episode's audio to the vault.
func (s *Shell) SaveOffline(ctx context.Context) error {
	ep := s.Episode()
	if ep == nil {
		return ErrNoEpisode
	}
	if s.opts.Vault == nil || !ep.Downloadable() || ep.AudioURL == "" {
		return ErrNotDownloadable
	}
	if s.opts.Vault.Status(ctx, ep.AudioURL) == vault.StatusDownloading {
		return ErrSaveInProgress
	}

	err := s.opts.Vault.SaveWithInfo(ctx, ep.AudioURL, vault.Info{
		EpisodeID: ep.ID,
		Title:     ep.DisplayTitle(),
	})
	s.notify()
	return err
}

func (s *Shell) RemoveOffline(ctx context.Context) error {
	ep := s.Episode()
	if ep == nil {
		return ErrNoEpisode
	}
	if s.opts.Vault == nil || ep.AudioURL == "" {
		return ErrNotDownloadable
	}
	err := s.opts.Vault.Remove(ctx, ep.AudioURL)
	s.notify()
	return err
}

func (s *Shell) VaultStatus(ctx context.Context) vault.Status {
	ep := s.Episode()
	if ep == nil || s.opts.Vault == nil || ep.AudioURL == "" {
		return vault.StatusIdle
	}
	return s.opts.Vault.Status(ctx, ep.AudioURL)
}

func (s *Shell) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	ep := s.ep
	snap := Snapshot{
		Loading:     s.loading,
		Rate:        s.rate,
		Volume:      s.volume,
		Muted:       s.muted,
		SkipSilence: s.skipSilence,
		Mode:        ModeFor(ep),
	}
	s.mu.Unlock()

	if ep != nil {
		snap.EpisodeID = ep.ID
		snap.Title = ep.DisplayTitle()
		snap.Podcast = ep.DisplayPodcast()
	}
	snap.Loaded = s.IsLoaded()
	snap.Playing = s.IsPlaying()
	snap.Position = s.CurrentTime()
	snap.Duration = s.Duration()
	snap.Scrubbing = s.Scrubbing()
	snap.Err = s.Err()
	if errors.Is(snap.Err, ErrSuperseded) {
		snap.Err = nil
	}
	snap.Offline = s.VaultStatus(ctx)
	if snap.Offline == vault.StatusDownloading && ep != nil {
		snap.Progress = s.opts.Vault.Progress(ep.AudioURL)
	}
	return snap
}
