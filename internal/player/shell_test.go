package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/glebovdev/podvault-cli/internal/audio/audiotest"
	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/glebovdev/podvault-cli/internal/episode"
	"github.com/glebovdev/podvault-cli/internal/media"
	"github.com/glebovdev/podvault-cli/internal/vault"
	"github.com/glebovdev/podvault-cli/internal/visualizer"
	"github.com/google/go-cmp/cmp"
)

type fakeVault struct {
	mu       sync.Mutex
	resolved string
	status   vault.Status
	saves    []string
	removes  []string
	saveErr  error
}

func (v *fakeVault) ResolveSource(_ context.Context, _, locator string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolved != "" {
		return v.resolved
	}
	return locator
}

func (v *fakeVault) Status(context.Context, string) vault.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func (v *fakeVault) Progress(string) vault.Progress { return vault.Progress{} }

func (v *fakeVault) SaveWithInfo(_ context.Context, locator string, _ vault.Info) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.saves = append(v.saves, locator)
	if v.saveErr != nil {
		return v.saveErr
	}
	v.status = vault.StatusSaved
	return nil
}

func (v *fakeVault) Remove(_ context.Context, locator string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removes = append(v.removes, locator)
	v.status = vault.StatusIdle
	return nil
}

type fakeVisualizer struct {
	mu     sync.Mutex
	src    visualizer.Source
	starts int
	stops  int
	trace  func(step string)
}

func (v *fakeVisualizer) Start(src visualizer.Source) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.src = src
	v.starts++
}

func (v *fakeVisualizer) Stop() {
	if v.trace != nil {
		v.trace("visualizer.stop")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.src = nil
	v.stops++
}

func (v *fakeVisualizer) Source() visualizer.Source {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.src
}

type fakeStreams struct {
	url, token string
	calls      int
}

func (s *fakeStreams) StreamURL(context.Context, *episode.Episode) (string, string, error) {
	s.calls++
	return s.url, s.token, nil
}

// tracingSink records when the graph's output is closed.
type tracingSink struct {
	*audiotest.Sink
	onClose func()
}

func (s *tracingSink) Close() {
	s.onClose()
	s.Sink.Close()
}

type shellFixture struct {
	shell   *Shell
	graph   *audio.Graph
	sink    *audiotest.Sink
	blobs   *blob.Registry
	vault   *fakeVault
	viz     *fakeVisualizer
	fetcher *fakeFetcher

	mu       sync.Mutex
	elements []*fakeElement
}

func newShellFixture(t *testing.T, configure func(*Options)) *shellFixture {
	t.Helper()
	fx := &shellFixture{
		sink:    audiotest.NewSink(),
		blobs:   blob.NewRegistry("http://app.example"),
		vault:   &fakeVault{},
		viz:     &fakeVisualizer{},
		fetcher: newFakeFetcher(),
	}
	fx.graph = audio.NewGraph(func() audio.Sink { return fx.sink }, testRate)

	opts := Options{
		Graph:      fx.graph,
		Vault:      fx.vault,
		Blobs:      fx.blobs,
		Origin:     mustOrigin(t, "https://api.example", DefaultProxyPath),
		Fetcher:    fx.fetcher,
		AuthToken:  "tok-123",
		Factory:    fx.factory,
		Visualizer: fx.viz,
		Volume:     0.8,
		Rate:       1,
	}
	if configure != nil {
		configure(&opts)
	}
	fx.shell = NewShell(opts)
	t.Cleanup(fx.shell.Close)
	return fx
}

func (fx *shellFixture) factory(_ *audio.Context, events media.Events) MediaElement {
	el := &fakeElement{duration: 10 * time.Minute, paused: true, events: events}
	fx.mu.Lock()
	fx.elements = append(fx.elements, el)
	fx.mu.Unlock()
	return el
}

func (fx *shellFixture) element(i int) *fakeElement {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if i >= len(fx.elements) {
		return nil
	}
	return fx.elements[i]
}

func (fx *shellFixture) created() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return len(fx.elements)
}

func directEpisode(id string) *episode.Episode {
	return &episode.Episode{ID: id, Title: "Episode " + id, AudioURL: "https://cdn.example/" + id + ".mp3"}
}

func secureEpisode(id string) *episode.Episode {
	return &episode.Episode{ID: id, Title: "Secure " + id, AudioURL: "https://cdn.example/" + id + ".mp3", StreamEndpoint: "/secure/" + id}
}

func TestShellElementMode(t *testing.T) {
	fx := newShellFixture(t, nil)
	ctx := context.Background()

	if err := fx.shell.Open(ctx, directEpisode("a")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := fx.shell.Mode(); got != ModeElement {
		t.Errorf("Mode() = %v, want element", got)
	}

	el := fx.element(0)
	el.mu.Lock()
	src := el.src
	el.mu.Unlock()
	want := "https://api.example" + DefaultProxyPath + "https%3A%2F%2Fcdn.example%2Fa.mp3"
	if src != want {
		t.Errorf("element src = %q, want %q", src, want)
	}
	if !fx.shell.IsLoaded() {
		t.Error("IsLoaded() = false after Open")
	}

	if err := fx.shell.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay() error = %v", err)
	}
	if !fx.shell.IsPlaying() {
		t.Error("IsPlaying() = false after TogglePlay")
	}
	if fx.viz.Source() == nil {
		t.Error("visualizer not started against the tapped analyser")
	}

	if err := fx.shell.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay() error = %v", err)
	}
	if fx.viz.Source() != nil {
		t.Error("visualizer still running after pause")
	}
}

func TestShellBufferMode(t *testing.T) {
	fx := newShellFixture(t, nil)
	fx.fetcher.serve("https://api.example/secure/42", audiotest.WAV(100, 183040, 5))

	if err := fx.shell.Open(context.Background(), secureEpisode("42")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := fx.shell.Mode(); got != ModeBuffer {
		t.Errorf("Mode() = %v, want buffer", got)
	}
	if fx.created() != 0 {
		t.Error("buffer mode created a media element")
	}
	if diff := cmp.Diff([]string{"tok-123"}, fx.fetcher.Tokens()); diff != "" {
		t.Errorf("fetch tokens mismatch (-want +got):\n%s", diff)
	}
	if got, want := fx.shell.Duration(), 1830*time.Second+400*time.Millisecond; got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}

	if err := fx.shell.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay() error = %v", err)
	}
	if err := fx.shell.Seek(500 * time.Second); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if got := fx.shell.CurrentTime(); got != 500*time.Second {
		t.Errorf("CurrentTime() = %v, want 500s", got)
	}
	if fx.viz.Source() == nil {
		t.Error("visualizer not running while the buffer plays")
	}
}

func TestShellResolvesStreamWithoutToken(t *testing.T) {
	streams := &fakeStreams{url: "https://cdn.example/signed/42", token: "short-lived"}
	fx := newShellFixture(t, func(o *Options) {
		o.AuthToken = ""
		o.Streams = streams
	})
	fx.fetcher.serve("https://cdn.example/signed/42", audiotest.WAV(testRate, 1000, 5))

	if err := fx.shell.Open(context.Background(), secureEpisode("42")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if streams.calls != 1 {
		t.Errorf("StreamURL called %d times, want 1", streams.calls)
	}
	if diff := cmp.Diff([]string{"short-lived"}, fx.fetcher.Tokens()); diff != "" {
		t.Errorf("fetch tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestShellLoadErrorSurfaced(t *testing.T) {
	fx := newShellFixture(t, nil)
	fx.fetcher.err = errors.New("connection reset")

	err := fx.shell.Open(context.Background(), secureEpisode("42"))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Open() error = %v, want *LoadError", err)
	}
	if !errors.As(fx.shell.Err(), &loadErr) {
		t.Errorf("Err() = %v, want *LoadError", fx.shell.Err())
	}
	if fx.shell.IsLoaded() {
		t.Error("IsLoaded() = true after a failed load")
	}
	if err := fx.shell.TogglePlay(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("TogglePlay() error = %v, want ErrNotLoaded", err)
	}

	fx.fetcher.mu.Lock()
	fx.fetcher.err = nil
	fx.fetcher.mu.Unlock()
	fx.fetcher.serve("https://api.example/secure/42", audiotest.WAV(testRate, 1000, 5))
	if err := fx.shell.Open(context.Background(), secureEpisode("42")); err != nil {
		t.Fatalf("reopen after failure error = %v", err)
	}
}

func TestShellTransportWithoutEpisode(t *testing.T) {
	fx := newShellFixture(t, nil)

	if err := fx.shell.TogglePlay(); err != nil {
		t.Errorf("TogglePlay() error = %v, want nil", err)
	}
	if err := fx.shell.Skip(time.Second); !errors.Is(err, ErrNoEpisode) {
		t.Errorf("Skip() error = %v, want ErrNoEpisode", err)
	}
	if err := fx.shell.Seek(time.Second); !errors.Is(err, ErrNoEpisode) {
		t.Errorf("Seek() error = %v, want ErrNoEpisode", err)
	}
	if fx.shell.IsPlaying() || fx.shell.IsLoaded() {
		t.Error("shell reports playing or loaded with no episode")
	}
	if err := fx.shell.Open(context.Background(), nil); !errors.Is(err, ErrNoEpisode) {
		t.Errorf("Open(nil) error = %v, want ErrNoEpisode", err)
	}
}

func TestShellOpenKeyedToEpisode(t *testing.T) {
	fx := newShellFixture(t, nil)
	ctx := context.Background()

	ep := directEpisode("a")
	for i := 0; i < 3; i++ {
		if err := fx.shell.Open(ctx, ep); err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
	}
	if got := fx.created(); got != 1 {
		t.Errorf("elements created = %d, want 1", got)
	}

	if err := fx.shell.Open(ctx, directEpisode("b")); err != nil {
		t.Fatalf("Open(b) error = %v", err)
	}
	if got := fx.created(); got != 2 {
		t.Errorf("elements created = %d, want 2", got)
	}
	if first := fx.element(0); !first.Paused() || !first.closed {
		t.Error("previous element not torn down on episode change")
	}
}

func TestShellStaleOpenIgnored(t *testing.T) {
	fx := newShellFixture(t, nil)
	fx.fetcher.serve("https://api.example/secure/1", audiotest.WAV(testRate, 1000, 5))
	fx.fetcher.serve("https://api.example/secure/2", audiotest.WAV(testRate, 3000, 5))
	release := fx.fetcher.hold("https://api.example/secure/1")

	first := make(chan error, 1)
	go func() { first <- fx.shell.Open(context.Background(), secureEpisode("1")) }()
	waitUntil(t, func() bool { return len(fx.fetcher.Tokens()) == 1 })

	if err := fx.shell.Open(context.Background(), secureEpisode("2")); err != nil {
		t.Fatalf("Open(2) error = %v", err)
	}
	release()

	if err := <-first; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Open(1) error = %v, want ErrSuperseded", err)
	}
	if got := fx.shell.Episode().ID; got != "2" {
		t.Errorf("Episode().ID = %q, want 2", got)
	}
	if got := fx.shell.Duration(); got != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", got)
	}
	if fx.shell.Loading() {
		t.Error("Loading() = true after the current load finished")
	}
}

func TestShellTeardownOrder(t *testing.T) {
	var mu sync.Mutex
	var steps []string
	trace := func(step string) {
		mu.Lock()
		steps = append(steps, step)
		mu.Unlock()
	}

	fx := newShellFixture(t, nil)
	uri := fx.blobs.Create([]byte("saved"), "audio/mpeg")
	fx.vault.resolved = uri
	fx.viz.trace = trace
	fx.graph = nil

	sink := &tracingSink{Sink: audiotest.NewSink()}
	sink.onClose = func() { trace(fmt.Sprintf("graph.close live=%d", fx.blobs.Live())) }
	graph := audio.NewGraph(func() audio.Sink { return sink }, testRate)
	fx.shell.opts.Graph = graph
	fx.shell.opts.Factory = func(out *audio.Context, events media.Events) MediaElement {
		el := fx.factory(out, events).(*fakeElement)
		el.trace = trace
		return el
	}

	if err := fx.shell.Open(context.Background(), directEpisode("a")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mu.Lock()
	steps = nil
	mu.Unlock()

	fx.shell.Close()

	want := []string{
		"visualizer.stop",
		"element.pause",
		"element.clear",
		"element.close",
		"graph.close live=1",
	}
	mu.Lock()
	got := append([]string{}, steps...)
	mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("teardown order mismatch (-want +got):\n%s", diff)
	}
	if fx.blobs.Live() != 0 {
		t.Error("blob URI not revoked after teardown")
	}
}

func TestShellCloseIdempotent(t *testing.T) {
	fx := newShellFixture(t, nil)
	uri := fx.blobs.Create([]byte("saved"), "audio/mpeg")
	fx.vault.resolved = uri

	if err := fx.shell.Open(context.Background(), directEpisode("a")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	fx.shell.Close()
	fx.shell.Close()

	if _, freed := fx.blobs.Stats(); freed != 1 {
		t.Errorf("blobs freed = %d, want 1", freed)
	}
	if got := fx.sink.Closes(); got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
	if fx.shell.Episode() != nil {
		t.Error("Episode() != nil after Close")
	}
}

func TestShellVisualizerFollowsEngine(t *testing.T) {
	fx := newShellFixture(t, nil)
	ctx := context.Background()
	fx.fetcher.serve("https://api.example/secure/b", audiotest.WAV(testRate, 2000, 5))

	if err := fx.shell.Open(ctx, directEpisode("a")); err != nil {
		t.Fatalf("Open(a) error = %v", err)
	}
	if err := fx.shell.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay() error = %v", err)
	}
	first := fx.viz.Source()
	if first == nil {
		t.Fatal("visualizer not started for episode a")
	}

	if err := fx.shell.Open(ctx, secureEpisode("b")); err != nil {
		t.Fatalf("Open(b) error = %v", err)
	}
	if fx.viz.Source() != nil {
		t.Error("visualizer still rendering the torn-down engine")
	}
	if err := fx.shell.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay() error = %v", err)
	}
	second := fx.viz.Source()
	if second == nil || second == first {
		t.Error("visualizer not re-pointed at the new engine's analyser")
	}
	if a := fx.graph.Analyser(); second != visualizer.Source(a) {
		t.Error("visualizer source is not the live graph analyser")
	}
}

func TestShellPreferences(t *testing.T) {
	fx := newShellFixture(t, nil)
	fx.fetcher.serve("https://api.example/secure/42", audiotest.WAV(testRate, 1000, 5))
	if err := fx.shell.Open(context.Background(), secureEpisode("42")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var rates []float64
	for i := 0; i < len(PlaybackRates); i++ {
		rates = append(rates, fx.shell.CycleRate())
	}
	if diff := cmp.Diff([]float64{1.25, 1.5, 2, 0.5, 0.75, 1}, rates); diff != "" {
		t.Errorf("CycleRate() sequence mismatch (-want +got):\n%s", diff)
	}
	if err := fx.shell.SetRate(4); !errors.Is(err, ErrUnsupportedRate) {
		t.Errorf("SetRate(4) error = %v, want ErrUnsupportedRate", err)
	}

	fx.shell.SetVolume(1.7)
	if got := fx.shell.Volume(); got != 1 {
		t.Errorf("Volume() = %v, want 1", got)
	}
	if !fx.shell.ToggleMute() || !fx.shell.Muted() {
		t.Error("ToggleMute() did not mute")
	}
	if fx.shell.ToggleMute() {
		t.Error("second ToggleMute() did not unmute")
	}

	fx.shell.SetSkipSilence(true)
	snap := fx.shell.Snapshot(context.Background())
	if !snap.SkipSilence {
		t.Error("Snapshot().SkipSilence = false after SetSkipSilence(true)")
	}
	if snap.Duration != time.Second || snap.Position != 0 {
		t.Errorf("Snapshot() duration=%v position=%v, want 1s 0", snap.Duration, snap.Position)
	}
	if snap.Title != "Secure 42" || snap.Mode != ModeBuffer {
		t.Errorf("Snapshot() title=%q mode=%v", snap.Title, snap.Mode)
	}
}

func TestShellScrubBufferMode(t *testing.T) {
	fx := newShellFixture(t, nil)
	fx.fetcher.serve("https://api.example/secure/42", audiotest.WAV(testRate, 60000, 5))
	if err := fx.shell.Open(context.Background(), secureEpisode("42")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	fx.shell.BeginScrub()
	fx.shell.Scrub(20 * time.Second)
	fx.shell.Scrub(2 * time.Hour)
	if got := fx.shell.CurrentTime(); got != time.Minute {
		t.Errorf("CurrentTime() while scrubbing = %v, want 1m", got)
	}
	fx.shell.Scrub(30 * time.Second)
	if err := fx.shell.EndScrub(); err != nil {
		t.Fatalf("EndScrub() error = %v", err)
	}
	if fx.shell.Scrubbing() {
		t.Error("Scrubbing() = true after EndScrub")
	}
	if got := fx.shell.CurrentTime(); got != 30*time.Second {
		t.Errorf("CurrentTime() after scrub = %v, want 30s", got)
	}
}

func TestShellSaveOffline(t *testing.T) {
	notDownloadable := false

	tests := []struct {
		name    string
		ep      *episode.Episode
		status  vault.Status
		wantErr error
		saves   int
	}{
		{"saves audio url", directEpisode("a"), vault.StatusIdle, nil, 1},
		{"not downloadable", &episode.Episode{ID: "x", AudioURL: "https://cdn.example/x.mp3", IsDownloadable: &notDownloadable}, vault.StatusIdle, ErrNotDownloadable, 0},
		{"no audio url", &episode.Episode{ID: "y", StreamEndpoint: "/secure/y"}, vault.StatusIdle, ErrNotDownloadable, 0},
		{"already downloading", directEpisode("b"), vault.StatusDownloading, ErrSaveInProgress, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newShellFixture(t, nil)
			fx.fetcher.serve("https://api.example/secure/y", audiotest.WAV(testRate, 1000, 5))
			if err := fx.shell.Open(context.Background(), tt.ep); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			fx.vault.status = tt.status

			err := fx.shell.SaveOffline(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SaveOffline() error = %v, want %v", err, tt.wantErr)
			}
			if got := len(fx.vault.saves); got != tt.saves {
				t.Errorf("saves = %d, want %d", got, tt.saves)
			}
		})
	}
}

func TestShellRemoveOffline(t *testing.T) {
	fx := newShellFixture(t, nil)
	ep := directEpisode("a")
	if err := fx.shell.RemoveOffline(context.Background()); !errors.Is(err, ErrNoEpisode) {
		t.Errorf("RemoveOffline() without episode error = %v, want ErrNoEpisode", err)
	}
	if err := fx.shell.Open(context.Background(), ep); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := fx.shell.SaveOffline(context.Background()); err != nil {
		t.Fatalf("SaveOffline() error = %v", err)
	}
	if got := fx.shell.VaultStatus(context.Background()); got != vault.StatusSaved {
		t.Errorf("VaultStatus() = %v, want saved", got)
	}
	if err := fx.shell.RemoveOffline(context.Background()); err != nil {
		t.Fatalf("RemoveOffline() error = %v", err)
	}
	if got := fx.shell.VaultStatus(context.Background()); got != vault.StatusIdle {
		t.Errorf("VaultStatus() = %v, want idle", got)
	}
	if diff := cmp.Diff([]string{ep.AudioURL}, fx.vault.removes); diff != "" {
		t.Errorf("removes mismatch (-want +got):\n%s", diff)
	}
}

// blockingStreams holds StreamURL until its context is done.
type blockingStreams struct {
	entered chan struct{}
}

func (s *blockingStreams) StreamURL(ctx context.Context, _ *episode.Episode) (string, string, error) {
	close(s.entered)
	<-ctx.Done()
	return "", "", ctx.Err()
}

// blockingVault holds ResolveSource until its context is done.
type blockingVault struct {
	*fakeVault
	entered chan struct{}
}

func (v *blockingVault) ResolveSource(ctx context.Context, _, locator string) string {
	close(v.entered)
	<-ctx.Done()
	return locator
}

func TestShellCloseDuringOpen(t *testing.T) {
	tests := []struct {
		name      string
		ep        *episode.Episode
		configure func(o *Options) chan struct{}
	}{
		{
			name: "buffer stream resolution",
			ep:   secureEpisode("42"),
			configure: func(o *Options) chan struct{} {
				streams := &blockingStreams{entered: make(chan struct{})}
				o.AuthToken = ""
				o.Streams = streams
				return streams.entered
			},
		},
		{
			name: "element source resolution",
			ep:   directEpisode("a"),
			configure: func(o *Options) chan struct{} {
				v := &blockingVault{fakeVault: &fakeVault{}, entered: make(chan struct{})}
				o.Vault = v
				return v.entered
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entered chan struct{}
			fx := newShellFixture(t, func(o *Options) { entered = tt.configure(o) })

			opened := make(chan error, 1)
			go func() { opened <- fx.shell.Open(context.Background(), tt.ep) }()
			<-entered

			fx.shell.Close()
			if err := <-opened; !errors.Is(err, ErrSuperseded) {
				t.Errorf("Open() error = %v, want ErrSuperseded", err)
			}
			if fx.graph.Current() != nil {
				t.Error("graph has a live context after Close")
			}
			if got := fx.graph.Created(); got != 0 {
				t.Errorf("graph.Created() = %d, want 0", got)
			}
			if got := fx.created(); got != 0 {
				t.Errorf("elements created = %d, want 0", got)
			}
			if got := len(fx.fetcher.Tokens()); got != 0 {
				t.Errorf("fetches = %d, want 0", got)
			}
		})
	}
}

func TestShellCloseDuringFetch(t *testing.T) {
	fx := newShellFixture(t, nil)
	fx.fetcher.serve("https://api.example/secure/42", audiotest.WAV(testRate, 1000, 5))
	fx.fetcher.hold("https://api.example/secure/42")

	opened := make(chan error, 1)
	go func() { opened <- fx.shell.Open(context.Background(), secureEpisode("42")) }()
	waitUntil(t, func() bool { return len(fx.fetcher.Tokens()) == 1 })

	fx.shell.Close()
	if err := <-opened; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Open() error = %v, want ErrSuperseded", err)
	}
	if fx.graph.Current() != nil {
		t.Error("graph has a live context after Close")
	}
	if got := fx.sink.Closes(); got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
}

func TestShellReopenAfterPlaybackError(t *testing.T) {
	fx := newShellFixture(t, nil)
	ctx := context.Background()

	if err := fx.shell.Open(ctx, directEpisode("a")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	fx.element(0).events.OnError(errors.New("decoder crashed"))

	var playErr *PlaybackError
	if !errors.As(fx.shell.Err(), &playErr) {
		t.Fatalf("Err() = %v, want *PlaybackError", fx.shell.Err())
	}

	if err := fx.shell.Open(ctx, directEpisode("a")); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got := fx.created(); got != 2 {
		t.Errorf("elements created = %d, want 2", got)
	}
	if err := fx.shell.Err(); err != nil {
		t.Errorf("Err() after reopen = %v, want nil", err)
	}
}
