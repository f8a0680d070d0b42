package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebovdev/podvault-cli/internal/cache"
)

func TestOpenCoversUsesCacheDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)

	covers := openCovers()
	if covers == nil {
		t.Fatal("openCovers() = nil")
	}
	if err := covers.SaveCover("https://cdn.example/a.png", image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("SaveCover() error = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, cache.AppName, cache.CoverSubdir, "*.png"))
	if len(matches) != 1 {
		t.Errorf("covers in cache dir = %d, want 1", len(matches))
	}
}

func TestOpenCoversFallsBackToTempDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "")
	t.Setenv("TMPDIR", tmp)

	if _, err := os.UserCacheDir(); err == nil {
		t.Skip("user cache dir still resolvable")
	}

	covers := openCovers()
	if covers == nil {
		t.Fatal("openCovers() = nil without a cache dir")
	}
	if err := covers.SaveCover("https://cdn.example/a.png", image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("SaveCover() error = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(tmp, cache.AppName, cache.CoverSubdir, "*.png"))
	if len(matches) != 1 {
		t.Errorf("covers in temp dir = %d, want 1", len(matches))
	}
}
