package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/glebovdev/podvault-cli/internal/cache"
	"github.com/glebovdev/podvault-cli/internal/episode"
)

type fakeSource struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSource) GetEpisode(_ context.Context, id string) (*episode.Episode, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &episode.Episode{ID: id, Title: "Episode " + id}, nil
}

func TestGetEpisodeMemoizes(t *testing.T) {
	src := &fakeSource{}
	s := NewEpisodeService(src, nil)

	for i := 0; i < 3; i++ {
		ep, err := s.GetEpisode(context.Background(), "42")
		if err != nil {
			t.Fatalf("GetEpisode() error = %v", err)
		}
		if ep.Title != "Episode 42" {
			t.Errorf("GetEpisode().Title = %q, want %q", ep.Title, "Episode 42")
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("source called %d times, want 1", got)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestGetEpisodeReturnsCopies(t *testing.T) {
	s := NewEpisodeService(&fakeSource{}, nil)

	ep, _ := s.GetEpisode(context.Background(), "42")
	ep.Title = "mutated"

	again, _ := s.GetEpisode(context.Background(), "42")
	if again.Title != "Episode 42" {
		t.Errorf("GetEpisode().Title = %q, want memoized value unaffected", again.Title)
	}
}

func TestGetEpisodeError(t *testing.T) {
	wantErr := errors.New("boom")
	s := NewEpisodeService(&fakeSource{err: wantErr}, nil)

	if _, err := s.GetEpisode(context.Background(), "42"); !errors.Is(err, wantErr) {
		t.Errorf("GetEpisode() error = %v, want %v", err, wantErr)
	}
	if s.Lookup("42") != nil {
		t.Error("Lookup() after failed fetch should return nil")
	}
}

func TestPutAndLookup(t *testing.T) {
	s := NewEpisodeService(nil, nil)

	if s.Lookup("local") != nil {
		t.Error("Lookup() on empty service should return nil")
	}
	if _, err := s.GetEpisode(context.Background(), "local"); err == nil {
		t.Error("GetEpisode() without source should fail for unknown IDs")
	}

	s.Put(episode.Episode{ID: "local", AudioURL: "https://cdn.example/a.mp3"})
	ep, err := s.GetEpisode(context.Background(), "local")
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if ep.AudioURL != "https://cdn.example/a.mp3" {
		t.Errorf("GetEpisode().AudioURL = %q", ep.AudioURL)
	}
}

func coverServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, img)
	}))
}

func TestLoadCover(t *testing.T) {
	var requests atomic.Int32
	server := coverServer(t, &requests)
	defer server.Close()

	s := NewEpisodeService(nil, nil)
	img, err := s.LoadCover(context.Background(), server.URL+"/cover.png")
	if err != nil {
		t.Fatalf("LoadCover() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("LoadCover() size = %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestLoadCoverWithCache(t *testing.T) {
	var requests atomic.Int32
	server := coverServer(t, &requests)
	defer server.Close()

	s := NewEpisodeService(nil, cache.NewCacheAt(t.TempDir(), 0))
	url := server.URL + "/cover.png"

	for i := 0; i < 2; i++ {
		if _, err := s.LoadCover(context.Background(), url); err != nil {
			t.Fatalf("LoadCover() error = %v", err)
		}
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("cover fetched %d times, want 1", got)
	}
	s.CleanCovers()
}

func TestLoadCoverErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("not a valid image"))
	}))
	defer server.Close()

	s := NewEpisodeService(nil, nil)
	tests := []struct {
		name string
		url  string
	}{
		{"empty url", ""},
		{"not found", server.URL + "/missing.png"},
		{"invalid image", server.URL + "/broken.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.LoadCover(context.Background(), tt.url); err == nil {
				t.Error("LoadCover() expected error")
			}
		})
	}
}
