// Package vault is the offline cache: a durable, URL-keyed store of audio
// payloads and the gateway the player resolves sources through.
package vault

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultName is the named store audio is saved into.
	DefaultName = "podvault-audio-v1"
	// AppName is used for the cache directory name.
	AppName = "podvault"

	vaultSubdir = "vault"
	indexSubdir = "index"
	payloadExt  = ".bin"
	entryPrefix = "entry:"
)

// Entry describes one saved payload.
type Entry struct {
	URL         string    `json:"url"`
	File        string    `json:"file"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SavedAt     time.Time `json:"saved_at"`
	EpisodeID   string    `json:"episode_id,omitempty"`
	Title       string    `json:"title,omitempty"`
}

// GetVaultDir returns the platform-specific directory of the named store.
func GetVaultDir(name string) (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}
	if name == "" {
		name = DefaultName
	}
	return filepath.Join(userCacheDir, AppName, vaultSubdir, name), nil
}

// Store keeps payloads as files named by the hash of their URL, indexed in
// badger under "entry:<url>".
type Store struct {
	dir string
	db  *badger.DB
}

func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, indexSubdir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault index: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Vault opened")
	return &Store{dir: dir, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Dir() string { return s.dir }

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func entryKey(url string) []byte {
	return []byte(entryPrefix + url)
}

// PayloadPath is where the payload for url lives once saved.
func (s *Store) PayloadPath(url string) string {
	return filepath.Join(s.dir, hashURL(url)+payloadExt)
}

func (s *Store) Get(url string) (*Entry, error) {
	var out Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotSaved
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) Has(url string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(entryKey(url))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Put(e Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.URL), buf)
	})
}

// Delete removes the entry and its payload. Deleting a missing entry is not an error.
func (s *Store) Delete(url string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(url))
	})
	if err != nil {
		return fmt.Errorf("failed to delete vault entry: %w", err)
	}
	if err := os.Remove(s.PayloadPath(url)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove vault payload: %w", err)
	}
	return nil
}

// ReadPayload returns the saved bytes for url, or ErrNotSaved.
func (s *Store) ReadPayload(url string) ([]byte, *Entry, error) {
	entry, err := s.Get(url)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, entry.File))
	if err != nil {
		return nil, entry, fmt.Errorf("failed to read vault payload: %w", err)
	}
	return data, entry, nil
}

// NewPendingPayload opens a temp file that replaces the payload for url
// only when committed.
func (s *Store) NewPendingPayload(url string) (*renameio.PendingFile, error) {
	return renameio.NewPendingFile(s.PayloadPath(url), renameio.WithPermissions(0644))
}

// List returns all entries, newest first.
func (s *Store) List() ([]Entry, error) {
	var list []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			list = append(list, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].SavedAt.After(list[j].SavedAt)
	})
	return list, nil
}

// Usage returns the number of saved entries and their total size.
func (s *Store) Usage() (int, int64, error) {
	list, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, e := range list {
		total += e.Size
	}
	return len(list), total, nil
}

// Prune removes payload files no entry refers to, left behind by
// interrupted saves or removed index entries.
func (s *Store) Prune() (int, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read vault directory: %w", err)
	}

	list, err := s.List()
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(list))
	for _, e := range list {
		live[e.File] = struct{}{}
	}

	var removed int
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), payloadExt) {
			continue
		}
		if _, ok := live[f.Name()]; ok {
			continue
		}
		path := filepath.Join(s.dir, f.Name())
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove orphan payload")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Vault pruned")
	}
	return removed, nil
}
