// Package cache keeps episode cover art on disk between sessions.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long cached covers are valid (7 days).
	DefaultExpiry = 7 * 24 * time.Hour
	// CoverSubdir holds the encoded covers.
	CoverSubdir = "covers"
	// AppName is used for the cache directory name.
	AppName = "podvault"
)

// Cache stores decoded covers as PNG files named by the hash of their URL.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}
	return NewCacheAt(cacheDir, DefaultExpiry), nil
}

// NewCacheAt creates a cache rooted at dir. A non-positive expiry means
// DefaultExpiry.
func NewCacheAt(dir string, expiry time.Duration) *Cache {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Cache{baseDir: dir, expiry: expiry}
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}
	return filepath.Join(userCacheDir, AppName), nil
}

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) coverDir() string { return filepath.Join(c.baseDir, CoverSubdir) }

func (c *Cache) coverPath(url string) string {
	return filepath.Join(c.coverDir(), hashURL(url)+".png")
}

// GetCover returns the cached cover for url, or nil if missing or expired.
// Expired files are removed.
func (c *Cache) GetCover(url string) image.Image {
	path := c.coverPath(url)

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired cover")
		}
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Failed to decode cached cover")
		return nil
	}
	return img
}

// SaveCover writes img for url. Readers never observe a partial file.
func (c *Cache) SaveCover(url string, img image.Image) error {
	if err := os.MkdirAll(c.coverDir(), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	pending, err := renameio.NewPendingFile(c.coverPath(url), renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer pending.Cleanup()

	if err := png.Encode(pending, img); err != nil {
		return fmt.Errorf("failed to encode cover: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to commit cache file: %w", err)
	}
	return nil
}

// CleanExpired removes covers older than the expiry and reports how many
// were removed.
func (c *Cache) CleanExpired() (int, error) {
	entries, err := os.ReadDir(c.coverDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= c.expiry {
			continue
		}
		path := filepath.Join(c.coverDir(), entry.Name())
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired cover")
			failed++
			continue
		}
		removed++
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cover cleanup completed")
	}
	return removed, nil
}
