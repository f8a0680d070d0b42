// Package episode defines the episode reference the player reads.
package episode

import (
	"fmt"
	"strings"
	"time"
)

// Episode is owned by the API layer; the player only reads it.
type Episode struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	PodcastID      string `json:"podcast_id"`
	PodcastTitle   string `json:"podcast_title"`
	CoverImage     string `json:"cover_image"`
	AudioURL       string `json:"audio_url"`
	StreamEndpoint string `json:"stream_endpoint"` // Set when the secure buffered path is required
	DurationSecs   int    `json:"duration"`
	Season         int    `json:"season"`
	EpisodeNumber  int    `json:"episode_number"`
	IsDownloadable *bool  `json:"is_downloadable"`
	IsExplicit     bool   `json:"is_explicit"`
}

// HasStreamEndpoint reports whether the episode must be played through the
// authenticated fetch-and-decode path.
func (e *Episode) HasStreamEndpoint() bool {
	return strings.TrimSpace(e.StreamEndpoint) != ""
}

// Downloadable reports whether the episode may be saved for offline use.
// Episodes that do not say otherwise are downloadable.
func (e *Episode) Downloadable() bool {
	if e.IsDownloadable == nil {
		return true
	}
	return *e.IsDownloadable
}

// ListedDuration is the duration advertised by the API, which may differ
// from what the decoder reports.
func (e *Episode) ListedDuration() time.Duration {
	if e.DurationSecs <= 0 {
		return 0
	}
	return time.Duration(e.DurationSecs) * time.Second
}

// DisplayTitle returns the title with a season/episode prefix when both are known.
func (e *Episode) DisplayTitle() string {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = "Untitled episode"
	}
	if e.Season > 0 && e.EpisodeNumber > 0 {
		return fmt.Sprintf("S%d • E%d  %s", e.Season, e.EpisodeNumber, title)
	}
	return title
}

// DisplayPodcast returns the podcast name, falling back to a generic label.
func (e *Episode) DisplayPodcast() string {
	if name := strings.TrimSpace(e.PodcastTitle); name != "" {
		return name
	}
	return "Podcast"
}
