package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/google/go-cmp/cmp"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
	progress []Progress
}

func (l *statusLog) record(_ string, s Status, p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
	l.progress = append(l.progress, p)
}

func (l *statusLog) sequence() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Collapse repeated progress notifications.
	var out []Status
	for _, s := range l.statuses {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, *Store, *blob.Registry) {
	t.Helper()
	store := newTestStore(t)
	reg := blob.NewRegistry("https://app.podvault.test")
	return NewGateway(store, reg, opts...), store, reg
}

func audioServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken.mp3":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/secure.mp3":
			if r.Header.Get("Authorization") != "Bearer tok-123" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write(payload)
		default:
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = w.Write(payload)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveThenResolveSource(t *testing.T) {
	payload := []byte("ID3-fake-audio-payload")
	srv := audioServer(t, payload)
	g, _, reg := newTestGateway(t)
	ctx := context.Background()
	locator := srv.URL + "/a.mp3"

	if got := g.Status(ctx, locator); got != StatusIdle {
		t.Errorf("Status() before save = %v, want idle", got)
	}

	var log statusLog
	g.OnStatus(log.record)
	if err := g.Save(ctx, locator); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if diff := cmp.Diff([]Status{StatusDownloading, StatusSaved}, log.sequence()); diff != "" {
		t.Errorf("status sequence mismatch (-want +got):\n%s", diff)
	}
	if got := g.Status(ctx, locator); got != StatusSaved {
		t.Errorf("Status() after save = %v, want saved", got)
	}

	uri := g.ResolveSource(ctx, "ep-1", locator)
	if !blob.IsBlobURL(uri) {
		t.Fatalf("ResolveSource() = %q, want a blob URI", uri)
	}
	rc, contentType, err := reg.Open(uri)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("blob payload = %q, want %q", data, payload)
	}
	if contentType != "audio/mpeg" {
		t.Errorf("blob content type = %q, want audio/mpeg", contentType)
	}

	again := g.ResolveSource(ctx, "ep-1", locator)
	if again == uri {
		t.Error("ResolveSource() reused a blob URI, want a fresh one per call")
	}
	if reg.Live() != 2 {
		t.Errorf("Live() = %d, want 2", reg.Live())
	}
}

func TestSaveNetworkFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	locator := dead.URL + "/a.mp3"
	dead.Close()

	g, store, reg := newTestGateway(t)
	ctx := context.Background()

	var log statusLog
	g.OnStatus(log.record)

	if got := g.Status(ctx, locator); got != StatusIdle {
		t.Errorf("Status() before save = %v, want idle", got)
	}

	err := g.Save(ctx, locator)
	var werr *CacheWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Save() error = %v, want *CacheWriteError", err)
	}
	if werr.URL != locator {
		t.Errorf("CacheWriteError.URL = %q, want %q", werr.URL, locator)
	}

	if diff := cmp.Diff([]Status{StatusDownloading, StatusError}, log.sequence()); diff != "" {
		t.Errorf("status sequence mismatch (-want +got):\n%s", diff)
	}
	if got := g.Status(ctx, locator); got != StatusError {
		t.Errorf("Status() after failure = %v, want error", got)
	}
	if g.LastError(locator) == nil {
		t.Error("LastError() = nil after failure")
	}

	if got := g.ResolveSource(ctx, "ep-1", locator); got != locator {
		t.Errorf("ResolveSource() = %q, want network locator", got)
	}
	if ok, _ := store.Has(locator); ok {
		t.Error("failed save left an index entry")
	}
	if _, err := os.Stat(store.PayloadPath(locator)); !os.IsNotExist(err) {
		t.Errorf("failed save left a payload file: %v", err)
	}
	if reg.Live() != 0 {
		t.Errorf("Live() = %d, want 0", reg.Live())
	}
}

func TestSaveNon2xx(t *testing.T) {
	srv := audioServer(t, nil)
	g, store, _ := newTestGateway(t)
	locator := srv.URL + "/broken.mp3"

	err := g.Save(context.Background(), locator)
	var statusErr *DownloadStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Save() error = %v, want *DownloadStatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", statusErr.StatusCode)
	}
	if ok, _ := store.Has(locator); ok {
		t.Error("non-2xx save left an index entry")
	}
}

func TestSaveSendsBearerToken(t *testing.T) {
	srv := audioServer(t, []byte("secure-bytes"))
	ctx := context.Background()

	anon, _, _ := newTestGateway(t)
	if err := anon.Save(ctx, srv.URL+"/secure.mp3"); err == nil {
		t.Error("Save() without token error = nil, want 401")
	}

	authed, _, _ := newTestGateway(t, WithAuthToken("tok-123"))
	if err := authed.Save(ctx, srv.URL+"/secure.mp3"); err != nil {
		t.Errorf("Save() with token error = %v", err)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	fail := true
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	g, _, _ := newTestGateway(t)
	ctx := context.Background()
	locator := srv.URL + "/a.mp3"

	if err := g.Save(ctx, locator); err == nil {
		t.Fatal("first Save() error = nil, want failure")
	}

	mu.Lock()
	fail = false
	mu.Unlock()

	if err := g.Save(ctx, locator); err != nil {
		t.Fatalf("retry Save() error = %v", err)
	}
	if got := g.Status(ctx, locator); got != StatusSaved {
		t.Errorf("Status() after retry = %v, want saved", got)
	}
	if g.LastError(locator) != nil {
		t.Error("LastError() still set after successful retry")
	}
}

func TestSaveReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 3*progressStep)
	srv := audioServer(t, payload)
	g, _, _ := newTestGateway(t)

	var log statusLog
	g.OnStatus(log.record)
	if err := g.Save(context.Background(), srv.URL+"/big.mp3"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	var sawPartial bool
	for i, p := range log.progress {
		if log.statuses[i] == StatusDownloading && p.Received > 0 {
			sawPartial = true
			if p.Total != int64(len(payload)) {
				t.Errorf("Progress.Total = %d, want %d", p.Total, len(payload))
			}
		}
	}
	if !sawPartial {
		t.Error("no progress reported during a multi-chunk save")
	}
	last := log.progress[len(log.progress)-1]
	if last.Fraction() != 1 {
		t.Errorf("final Fraction() = %v, want 1", last.Fraction())
	}
}

func TestRemove(t *testing.T) {
	srv := audioServer(t, []byte("payload"))
	g, store, _ := newTestGateway(t)
	ctx := context.Background()
	locator := srv.URL + "/a.mp3"

	if err := g.Save(ctx, locator); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := g.Remove(ctx, locator); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if got := g.Status(ctx, locator); got != StatusIdle {
		t.Errorf("Status() after remove = %v, want idle", got)
	}
	if got := g.ResolveSource(ctx, "ep-1", locator); got != locator {
		t.Errorf("ResolveSource() after remove = %q, want network locator", got)
	}
	if _, err := os.Stat(store.PayloadPath(locator)); !os.IsNotExist(err) {
		t.Errorf("payload still on disk after remove: %v", err)
	}
	if err := g.Remove(ctx, locator); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestResolveSourceFallsBackOnReadFailure(t *testing.T) {
	srv := audioServer(t, []byte("payload"))
	g, store, reg := newTestGateway(t)
	ctx := context.Background()
	locator := srv.URL + "/a.mp3"

	if err := g.Save(ctx, locator); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.Remove(store.PayloadPath(locator)); err != nil {
		t.Fatalf("Remove payload: %v", err)
	}

	if got := g.ResolveSource(ctx, "ep-1", locator); got != locator {
		t.Errorf("ResolveSource() = %q, want network locator", got)
	}
	if reg.Live() != 0 {
		t.Errorf("Live() = %d, want 0", reg.Live())
	}
}

func TestResolveSourcePassThrough(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	tests := []string{
		"",
		"blob:https://app.podvault.test/1234",
		"https://cdn.example/never-saved.mp3",
	}
	for _, locator := range tests {
		if got := g.ResolveSource(ctx, "ep", locator); got != locator {
			t.Errorf("ResolveSource(%q) = %q, want unchanged", locator, got)
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if got := g.ResolveSource(cancelled, "ep", "https://cdn.example/a.mp3"); got != "https://cdn.example/a.mp3" {
		t.Errorf("ResolveSource() with cancelled context = %q", got)
	}
}

func TestEntriesAndUsage(t *testing.T) {
	srv := audioServer(t, []byte("12345"))
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	if err := g.SaveWithInfo(ctx, srv.URL+"/a.mp3", Info{EpisodeID: "ep-a", Title: "A"}); err != nil {
		t.Fatalf("SaveWithInfo() error = %v", err)
	}
	if err := g.Save(ctx, srv.URL+"/b.mp3"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := g.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d entries, want 2", len(entries))
	}
	var found bool
	for _, e := range entries {
		if e.EpisodeID == "ep-a" && e.Title == "A" && strings.HasSuffix(e.URL, "/a.mp3") {
			found = true
		}
	}
	if !found {
		t.Errorf("Entries() = %+v, missing labelled entry", entries)
	}

	count, size, err := g.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if count != 2 || size != 10 {
		t.Errorf("Usage() = (%d, %d), want (2, 10)", count, size)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusIdle, "idle"},
		{StatusDownloading, "downloading"},
		{StatusSaved, "saved"},
		{StatusError, "error"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}
