package vault

import (
	"errors"
	"fmt"
)

var ErrNotSaved = errors.New("vault: no entry for locator")

// CacheWriteError is returned when an offline save fails. In-session
// network playback is unaffected.
type CacheWriteError struct {
	URL string
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("save %s for offline use: %v", e.URL, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// SourceResolutionError describes a failed cache read. It is logged and the
// network locator is used instead.
type SourceResolutionError struct {
	URL string
	Err error
}

func (e *SourceResolutionError) Error() string {
	return fmt.Sprintf("resolve offline source %s: %v", e.URL, e.Err)
}

func (e *SourceResolutionError) Unwrap() error { return e.Err }

// DownloadStatusError is a non-2xx response to a save request.
type DownloadStatusError struct {
	StatusCode int
	Status     string
}

func (e *DownloadStatusError) Error() string {
	return fmt.Sprintf("download returned status %d: %s", e.StatusCode, e.Status)
}
