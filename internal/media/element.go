// Package media implements a streaming media element: it downloads a source
// progressively, decodes it on the fly and plays it as a beep streamer.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/glebovdev/podvault-cli/internal/config"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/rs/zerolog/log"
)

const (
	TimeUpdateInterval = 250 * time.Millisecond
	headerProbeSize    = 12
	lowWaterBytes      = 32 * 1024
)

var (
	ErrNoSource = errors.New("media: no source set")
	ErrClosed   = errors.New("media: element closed")
)

// BlobOpener resolves object URLs to their payload.
type BlobOpener interface {
	Open(uri string) (io.ReadSeekCloser, string, error)
}

// MediaError is reported when a source cannot be fetched or decoded.
type MediaError struct {
	Src string
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media error for %s: %v", e.Src, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("media returned status %d: %s", e.StatusCode, e.Status)
}

// Events are invoked from the element's own goroutines, never while a lock
// is held, so handlers may call back into the element.
type Events struct {
	OnLoadedMetadata func(duration time.Duration)
	OnTimeUpdate     func(position time.Duration)
	OnEnded          func()
	OnError          func(err error)
}

type Options struct {
	Client     *http.Client
	Blobs      BlobOpener
	AppOrigin  string
	OutputRate beep.SampleRate
	// TimeUpdateInterval overrides the progress event period.
	TimeUpdateInterval time.Duration
}

// NewHTTPClient returns a client for progressive downloads: no overall
// timeout, bounded connect and header waits.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}
}

// Element plays one source at a time. It starts paused.
type Element struct {
	opts   Options
	events Events

	mu       sync.Mutex
	src      string
	gen      uint64
	cancel   context.CancelFunc
	sp       *spool
	loaded   bool
	duration time.Duration
	err      error
	closed   bool

	// Guarded by streamMu; Stream runs on the audio thread and only takes streamMu.
	streamMu  sync.Mutex
	stream    beep.StreamSeekCloser
	format    beep.Format
	resampler *beep.Resampler
	volume    *effects.Volume
	ctrl      *beep.Ctrl
	reader    *spoolReader
	readerSP  *spool
	chainGen  uint64
	paused    bool
	ended     bool
	rate      float64
	gain      float64
	muted     bool

	corsSafe atomic.Bool
	stopTick chan struct{}
	tickOnce sync.Once
	wg       sync.WaitGroup
}

func NewElement(opts Options, events Events) *Element {
	if opts.Client == nil {
		opts.Client = NewHTTPClient()
	}
	if opts.OutputRate <= 0 {
		opts.OutputRate = audio.DefaultSampleRate
	}
	if opts.TimeUpdateInterval <= 0 {
		opts.TimeUpdateInterval = TimeUpdateInterval
	}
	return &Element{
		opts:     opts,
		events:   events,
		paused:   true,
		rate:     1,
		gain:     1,
		stopTick: make(chan struct{}),
	}
}

// SetSrc replaces the current source and starts loading it.
func (e *Element) SetSrc(src string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.resetLocked()
	e.gen++
	gen := e.gen
	e.src = src
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	log.Debug().Str("src", src).Msg("Media source set")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.load(ctx, gen, src)
	}()
}

func (e *Element) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// RemoveSrc stops loading and playback and drops the source.
func (e *Element) RemoveSrc() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.src == "" && e.sp == nil {
		return
	}
	e.gen++
	e.resetLocked()
	e.src = ""
}

// resetLocked must be called with mu held. The spool is closed before
// taking streamMu so readers blocked on it are released.
func (e *Element) resetLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.sp != nil {
		_ = e.sp.Close()
		e.sp = nil
	}
	e.loaded = false
	e.duration = 0
	e.err = nil
	e.corsSafe.Store(false)

	e.streamMu.Lock()
	if e.stream != nil {
		_ = e.stream.Close()
	}
	e.stream = nil
	e.resampler = nil
	e.volume = nil
	e.ctrl = nil
	e.reader = nil
	e.readerSP = nil
	e.paused = true
	e.ended = false
	e.streamMu.Unlock()
}

// Close releases the element and waits for its goroutines.
func (e *Element) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.gen++
	e.resetLocked()
	e.src = ""
	close(e.stopTick)
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Element) load(ctx context.Context, gen uint64, src string) {
	rc, contentType, safe, sp, err := e.open(ctx, src)
	if err != nil {
		e.fail(gen, src, err)
		return
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		_ = rc.Close()
		if sp != nil {
			_ = sp.Close()
		}
		return
	}
	e.sp = sp
	e.mu.Unlock()

	head := make([]byte, headerProbeSize)
	n, _ := io.ReadFull(rc, head)
	if _, err := rc.Seek(0, io.SeekStart); err != nil {
		e.fail(gen, src, err)
		return
	}

	stream, format, err := audio.DecodeStream(rc, audio.DetectFormat(head[:n], contentType))
	if err != nil {
		e.fail(gen, src, err)
		return
	}
	duration := format.SampleRate.D(stream.Len())

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		_ = stream.Close()
		return
	}
	e.loaded = true
	e.duration = duration
	e.corsSafe.Store(safe)

	e.streamMu.Lock()
	e.stream = stream
	e.format = format
	e.chainGen = gen
	if sr, ok := rc.(*spoolReader); ok {
		e.reader = sr
		e.readerSP = sp
	}
	e.rebuildLocked()
	e.streamMu.Unlock()
	e.mu.Unlock()

	log.Debug().Str("src", src).Dur("duration", duration).Bool("cors_safe", safe).Msg("Media metadata loaded")

	e.startTicker()
	if e.events.OnLoadedMetadata != nil {
		e.events.OnLoadedMetadata(duration)
	}
}

func (e *Element) open(ctx context.Context, src string) (io.ReadSeekCloser, string, bool, *spool, error) {
	if blob.IsBlobURL(src) {
		if e.opts.Blobs == nil {
			return nil, "", false, nil, blob.ErrNotFound
		}
		rc, contentType, err := e.opts.Blobs.Open(src)
		if err != nil {
			return nil, "", false, nil, err
		}
		return rc, contentType, true, nil, nil
	}

	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", false, nil, fmt.Errorf("unsupported source %q", src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", false, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("PodVault-CLI/%s", config.AppVersion))
	if e.opts.AppOrigin != "" {
		req.Header.Set("Origin", e.opts.AppOrigin)
	}

	resp, err := e.opts.Client.Do(req)
	if err != nil {
		return nil, "", false, nil, fmt.Errorf("failed to fetch media: %w", err)
	}

	log.Debug().Msgf("Media response status: %d, Content-Type: %s", resp.StatusCode, resp.Header.Get("Content-Type"))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, "", false, nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	sp, err := newSpool(resp.ContentLength)
	if err != nil {
		resp.Body.Close()
		return nil, "", false, nil, fmt.Errorf("failed to create spool: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer resp.Body.Close()
		_, err := io.Copy(sp, resp.Body)
		sp.finish(err)
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("src", src).Msg("Media download interrupted")
		}
	}()

	safe := SameOrigin(src, e.opts.AppOrigin) || allowsOrigin(resp.Header.Get("Access-Control-Allow-Origin"), e.opts.AppOrigin)
	return sp.reader(), resp.Header.Get("Content-Type"), safe, sp, nil
}

// SameOrigin reports whether rawURL has the same scheme and host as origin.
func SameOrigin(rawURL, origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, o.Scheme) && strings.EqualFold(u.Host, o.Host)
}

func allowsOrigin(header, origin string) bool {
	header = strings.TrimSpace(header)
	if header == "*" {
		return true
	}
	return origin != "" && strings.EqualFold(header, strings.TrimSuffix(origin, "/"))
}

func (e *Element) fail(gen uint64, src string, err error) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	mediaErr := &MediaError{Src: src, Err: err}
	e.err = mediaErr
	e.mu.Unlock()

	log.Error().Err(err).Str("src", src).Msg("Media playback error")
	if e.events.OnError != nil {
		e.events.OnError(mediaErr)
	}
}

func (e *Element) startTicker() {
	e.tickOnce.Do(func() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.opts.TimeUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-e.stopTick:
					return
				case <-ticker.C:
					if e.Paused() || !e.Loaded() {
						continue
					}
					if e.events.OnTimeUpdate != nil {
						e.events.OnTimeUpdate(e.CurrentTime())
					}
				}
			}
		}()
	})
}

// Stream implements beep.Streamer. An element never drains: while paused,
// stalled or finished it produces silence.
func (e *Element) Stream(samples [][2]float64) (int, bool) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	if e.ctrl == nil || e.ctrl.Paused {
		clear(samples)
		return len(samples), true
	}
	if e.reader != nil {
		if ahead, done := e.readerSP.buffered(e.reader.position()); !done && ahead < lowWaterBytes {
			clear(samples)
			return len(samples), true
		}
	}

	n, ok := e.ctrl.Stream(samples)
	if n < len(samples) || !ok {
		clear(samples[n:])
		e.ctrl.Paused = true
		e.paused = true
		e.ended = true
		gen, streamErr := e.chainGen, e.stream.Err()
		go e.finished(gen, streamErr)
	}
	return len(samples), true
}

func (e *Element) finished(gen uint64, streamErr error) {
	e.mu.Lock()
	current := gen == e.gen && !e.closed
	src := e.src
	e.mu.Unlock()
	if !current {
		return
	}

	if streamErr != nil {
		e.fail(gen, src, streamErr)
		return
	}
	log.Debug().Str("src", src).Msg("Media ended")
	if e.events.OnEnded != nil {
		e.events.OnEnded()
	}
}

func (e *Element) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// CORSSafe reports whether the loaded source may be routed through an
// analyser without being muted.
func (e *Element) CORSSafe() bool {
	return e.corsSafe.Load()
}

func (e *Element) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *Element) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// Play starts playback. Before metadata has loaded the request is held and
// applied once the source is ready.
func (e *Element) Play() error {
	e.mu.Lock()
	src, closed := e.src, e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if src == "" {
		return ErrNoSource
	}

	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	e.paused = false
	if e.ctrl == nil {
		return nil
	}
	if e.ended {
		if err := e.stream.Seek(0); err != nil {
			return fmt.Errorf("rewind: %w", err)
		}
		e.ended = false
		e.rebuildLocked()
	}
	e.ctrl.Paused = false
	return nil
}

func (e *Element) Pause() {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.paused = true
	if e.ctrl != nil {
		e.ctrl.Paused = true
	}
}

func (e *Element) Paused() bool {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	return e.paused
}

func (e *Element) Ended() bool {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	return e.ended
}

// CurrentTime is the decoder position, zero before metadata.
func (e *Element) CurrentTime() time.Duration {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	if e.stream == nil {
		return 0
	}
	return e.format.SampleRate.D(e.stream.Position())
}

// Seek moves the playback position, clamped to the source length. It is a
// no-op before metadata has loaded.
func (e *Element) Seek(d time.Duration) error {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	if e.stream == nil {
		return nil
	}
	p := e.format.SampleRate.N(d)
	p = max(0, min(p, e.stream.Len()))
	if err := e.stream.Seek(p); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	e.ended = false
	e.rebuildLocked()
	return nil
}

// rebuildLocked recreates the resampler chain so no samples from before a
// seek or end of stream remain buffered. Must be called with streamMu held.
func (e *Element) rebuildLocked() {
	e.resampler = beep.ResampleRatio(audio.ResampleQuality, e.ratioLocked(), e.stream)
	e.volume = &effects.Volume{Streamer: e.resampler}
	audio.ApplyGain(e.volume, e.gain, e.muted)
	e.ctrl = &beep.Ctrl{Streamer: e.volume, Paused: e.paused}
}

func (e *Element) ratioLocked() float64 {
	return float64(e.format.SampleRate) / float64(e.opts.OutputRate) * e.rate
}

func (e *Element) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.rate = rate
	if e.resampler != nil {
		e.resampler.SetRatio(e.ratioLocked())
	}
}

func (e *Element) PlaybackRate() float64 {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	return e.rate
}

// SetVolume sets the linear volume in [0, 1].
func (e *Element) SetVolume(v float64) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.gain = max(0, min(v, 1))
	if e.volume != nil {
		audio.ApplyGain(e.volume, e.gain, e.muted)
	}
}

func (e *Element) SetMuted(muted bool) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.muted = muted
	if e.volume != nil {
		audio.ApplyGain(e.volume, e.gain, e.muted)
	}
}
