package player

import (
	"time"

	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/glebovdev/podvault-cli/internal/episode"
)

// Mode is the playback path chosen for an episode.
type Mode int

const (
	ModeElement Mode = iota
	ModeBuffer
)

func (m Mode) String() string {
	switch m {
	case ModeBuffer:
		return "buffer"
	case ModeElement:
		return "element"
	default:
		return "unknown"
	}
}

// ModeFor selects buffer mode for episodes behind a secure stream endpoint
// and element mode for everything else.
func ModeFor(ep *episode.Episode) Mode {
	if ep != nil && ep.HasStreamEndpoint() {
		return ModeBuffer
	}
	return ModeElement
}

// Engine is the transport contract both playback paths implement.
type Engine interface {
	Mode() Mode
	TogglePlay() error
	Skip(delta time.Duration) error
	Seek(t time.Duration) error
	SetRate(rate float64) error
	SetVolume(v float64)
	SetMuted(muted bool)
	CurrentTime() time.Duration
	Duration() time.Duration
	IsPlaying() bool
	IsLoaded() bool
	Err() error
	// Analyser returns the analyser of the graph the engine plays into, or nil.
	Analyser() *audio.Analyser
	// Release stops playback and frees native resources. It returns a blob
	// URI the engine opened, which the caller must revoke.
	Release() string
}

// Scrubber is implemented by engines that handle seek-bar drags themselves.
type Scrubber interface {
	BeginScrub()
	Scrub(t time.Duration)
	EndScrub() error
	CancelScrub()
	Scrubbing() bool
}

func clamp(t, duration time.Duration) time.Duration {
	if t < 0 {
		return 0
	}
	if t > duration {
		return duration
	}
	return t
}
