// Package service sits between the UI and the API: it memoizes episode
// lookups and loads cover art through the disk cache.
package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/glebovdev/podvault-cli/internal/cache"
	"github.com/glebovdev/podvault-cli/internal/episode"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const coverLoadTimeout = 15 * time.Second

// EpisodeSource fetches episode metadata.
type EpisodeSource interface {
	GetEpisode(ctx context.Context, id string) (*episode.Episode, error)
}

// EpisodeService memoizes episodes by ID. Returned episodes are copies.
type EpisodeService struct {
	source EpisodeSource
	covers *cache.Cache
	client *resty.Client

	mu       sync.RWMutex
	episodes map[string]episode.Episode
}

// NewEpisodeService creates a service over source. covers may be nil, in
// which case cover art is fetched on every request.
func NewEpisodeService(source EpisodeSource, covers *cache.Cache) *EpisodeService {
	return &EpisodeService{
		source:   source,
		covers:   covers,
		client:   resty.New().SetTimeout(coverLoadTimeout),
		episodes: make(map[string]episode.Episode),
	}
}

// Put registers an episode built outside the API, e.g. from flags.
func (s *EpisodeService) Put(ep episode.Episode) {
	s.mu.Lock()
	s.episodes[ep.ID] = ep
	s.mu.Unlock()
}

// Lookup returns the memoized episode or nil.
func (s *EpisodeService) Lookup(id string) *episode.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil
	}
	return &ep
}

func (s *EpisodeService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes)
}

// GetEpisode returns the memoized episode or fetches it from the source.
func (s *EpisodeService) GetEpisode(ctx context.Context, id string) (*episode.Episode, error) {
	if ep := s.Lookup(id); ep != nil {
		return ep, nil
	}
	if s.source == nil {
		return nil, fmt.Errorf("episode %s is unknown", id)
	}

	ep, err := s.source.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Put(*ep)
	log.Debug().Str("episode", id).Str("title", ep.Title).Msg("Episode loaded")

	cp := *ep
	return &cp, nil
}

// LoadCover returns the cover at url, preferring the disk cache.
func (s *EpisodeService) LoadCover(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("episode has no cover image")
	}
	if s.covers != nil {
		if img := s.covers.GetCover(url); img != nil {
			log.Debug().Str("url", url).Msg("Cover loaded from cache")
			return img, nil
		}
	}

	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cover: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("cover returned status %d", resp.StatusCode())
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cover: %w", err)
	}

	if s.covers != nil {
		if err := s.covers.SaveCover(url, img); err != nil {
			log.Debug().Err(err).Str("url", url).Msg("Failed to cache cover")
		}
	}
	return img, nil
}

// CleanCovers drops expired covers from the disk cache.
func (s *EpisodeService) CleanCovers() {
	if s.covers == nil {
		return
	}
	if _, err := s.covers.CleanExpired(); err != nil {
		log.Debug().Err(err).Msg("Failed to clean expired covers")
	}
}
