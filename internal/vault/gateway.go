package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	progressStep = 64 * 1024
	userAgent    = "PodVault-CLI"
)

// Info labels a saved entry for listing.
type Info struct {
	EpisodeID string
	Title     string
}

type transient struct {
	status   Status
	progress Progress
	err      error
}

// Gateway maps network locators to cached blobs and owns save and remove.
// Failures degrade to network playback; nothing here blocks the player.
type Gateway struct {
	store  *Store
	blobs  *blob.Registry
	client *resty.Client
	token  string

	mu        sync.Mutex
	states    map[string]*transient
	observers []func(locator string, status Status, progress Progress)
}

type Option func(*Gateway)

// WithClient sets the HTTP client used for saves.
func WithClient(c *resty.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithAuthToken sends token as a bearer credential on saves.
func WithAuthToken(token string) Option {
	return func(g *Gateway) { g.token = token }
}

func NewGateway(store *Store, blobs *blob.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		store:  store,
		blobs:  blobs,
		states: make(map[string]*transient),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = resty.New().SetHeader("User-Agent", userAgent)
	}
	return g
}

// OnStatus registers fn to be called on every status or progress change.
func (g *Gateway) OnStatus(fn func(locator string, status Status, progress Progress)) {
	g.mu.Lock()
	g.observers = append(g.observers, fn)
	g.mu.Unlock()
}

func (g *Gateway) notify(locator string, status Status, progress Progress) {
	g.mu.Lock()
	observers := append([]func(string, Status, Progress){}, g.observers...)
	g.mu.Unlock()

	for _, fn := range observers {
		fn(locator, status, progress)
	}
}

func (g *Gateway) setState(locator string, st *transient) {
	g.mu.Lock()
	if st == nil {
		delete(g.states, locator)
	} else {
		g.states[locator] = st
	}
	g.mu.Unlock()
}

// Status reports the offline state of locator. A save in progress or a
// failed save in this session takes precedence over the index.
func (g *Gateway) Status(ctx context.Context, locator string) Status {
	g.mu.Lock()
	st, ok := g.states[locator]
	g.mu.Unlock()
	if ok {
		return st.status
	}

	saved, err := g.store.Has(locator)
	if err != nil {
		log.Debug().Err(err).Str("url", locator).Msg("Vault status lookup failed")
		return StatusIdle
	}
	if saved {
		return StatusSaved
	}
	return StatusIdle
}

// Progress returns the progress of a running save.
func (g *Gateway) Progress(locator string) Progress {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[locator]; ok {
		return st.progress
	}
	return Progress{}
}

// LastError returns the error of the last failed save of locator in this session.
func (g *Gateway) LastError(locator string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[locator]; ok {
		return st.err
	}
	return nil
}

// Save downloads locator in full and stores it under its URL.
func (g *Gateway) Save(ctx context.Context, locator string) error {
	return g.SaveWithInfo(ctx, locator, Info{})
}

// SaveWithInfo is Save with listing labels attached to the entry.
func (g *Gateway) SaveWithInfo(ctx context.Context, locator string, info Info) error {
	g.setState(locator, &transient{status: StatusDownloading, progress: Progress{Total: -1}})
	g.notify(locator, StatusDownloading, Progress{Total: -1})
	log.Debug().Str("url", locator).Msg("Vault save started")

	entry, err := g.download(ctx, locator, info)
	if err != nil {
		werr := &CacheWriteError{URL: locator, Err: err}
		g.setState(locator, &transient{status: StatusError, err: werr})
		g.notify(locator, StatusError, Progress{})
		log.Error().Err(err).Str("url", locator).Msg("Vault save failed")
		return werr
	}

	g.setState(locator, nil)
	g.notify(locator, StatusSaved, Progress{Received: entry.Size, Total: entry.Size})
	log.Debug().Str("url", locator).Int64("bytes", entry.Size).Msg("Vault save finished")
	return nil
}

func (g *Gateway) download(ctx context.Context, locator string, info Info) (*Entry, error) {
	req := g.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if g.token != "" {
		req.SetAuthToken(g.token)
	}

	resp, err := req.Get(locator)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	body := resp.RawBody()
	if body == nil {
		return nil, errors.New("empty response")
	}
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &DownloadStatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	total := int64(-1)
	if resp.RawResponse != nil {
		total = resp.RawResponse.ContentLength
	}

	pending, err := g.store.NewPendingPayload(locator)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug().Err(err).Msg("cleanup pending payload")
		}
	}()

	pw := &progressWriter{g: g, locator: locator, total: total}
	size, err := io.Copy(io.MultiWriter(pending, pw), body)
	if err != nil {
		return nil, fmt.Errorf("failed to write payload: %w", err)
	}
	if total >= 0 && size != total {
		return nil, fmt.Errorf("short body: got %d of %d bytes", size, total)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("failed to commit payload: %w", err)
	}

	entry := Entry{
		URL:         locator,
		File:        filepath.Base(g.store.PayloadPath(locator)),
		ContentType: resp.Header().Get("Content-Type"),
		Size:        size,
		SavedAt:     time.Now().UTC(),
		EpisodeID:   info.EpisodeID,
		Title:       info.Title,
	}
	if err := g.store.Put(entry); err != nil {
		_ = g.store.Delete(locator)
		return nil, fmt.Errorf("failed to index payload: %w", err)
	}
	return &entry, nil
}

type progressWriter struct {
	g        *Gateway
	locator  string
	total    int64
	received int64
	reported int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.received-w.reported >= progressStep {
		w.reported = w.received
		progress := Progress{Received: w.received, Total: w.total}
		w.g.setState(w.locator, &transient{status: StatusDownloading, progress: progress})
		w.g.notify(w.locator, StatusDownloading, progress)
	}
	return len(p), nil
}

// Remove deletes the saved entry for locator and returns it to idle.
func (g *Gateway) Remove(ctx context.Context, locator string) error {
	err := g.store.Delete(locator)
	g.setState(locator, nil)
	g.notify(locator, StatusIdle, Progress{})
	if err != nil {
		log.Error().Err(err).Str("url", locator).Msg("Vault remove failed")
		return err
	}
	log.Debug().Str("url", locator).Msg("Vault entry removed")
	return nil
}

// ResolveSource returns a freshly minted blob URI when locator is saved and
// locator itself otherwise. It never fails: cache read errors are logged
// and the network locator is returned. The caller owns the blob URI and
// must revoke it.
func (g *Gateway) ResolveSource(ctx context.Context, episodeID, locator string) string {
	if locator == "" || blob.IsBlobURL(locator) {
		return locator
	}
	if err := ctx.Err(); err != nil {
		return locator
	}

	data, entry, err := g.store.ReadPayload(locator)
	if errors.Is(err, ErrNotSaved) {
		return locator
	}
	if err != nil {
		rerr := &SourceResolutionError{URL: locator, Err: err}
		log.Warn().Err(rerr).Str("episode", episodeID).Msg("Falling back to network source")
		return locator
	}

	uri := g.blobs.Create(data, entry.ContentType)
	log.Debug().Str("episode", episodeID).Str("url", locator).Str("blob", uri).Msg("Playing from vault")
	return uri
}

// Entries lists saved items, newest first.
func (g *Gateway) Entries(ctx context.Context) ([]Entry, error) {
	return g.store.List()
}

// Usage returns the number of saved items and their total size in bytes.
func (g *Gateway) Usage(ctx context.Context) (int, int64, error) {
	return g.store.Usage()
}
