package player

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded        = errors.New("player: source not loaded")
	ErrNoEpisode        = errors.New("player: no episode open")
	ErrSuperseded       = errors.New("player: load superseded by a newer episode")
	ErrUnsupportedRate  = errors.New("player: unsupported playback rate")
	ErrNotDownloadable  = errors.New("player: episode is not available offline")
	ErrSaveInProgress   = errors.New("player: offline save already in progress")
	ErrNoStreamEndpoint = errors.New("player: episode has no stream endpoint")
)

// LoadError is a failed fetch or decode. It is not retried automatically.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PlaybackError is reported by the media element after a source was set.
type PlaybackError struct {
	Src string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback failed for %s: %v", e.Src, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
