package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate = beep.SampleRate(44100)
	SpeakerBufferSize = time.Millisecond * 250
)

// Sink is the output device a Context renders into. Lock and Unlock guard
// every mutation of streamers the sink is currently pulling from.
type Sink interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Suspend() error
	Resume() error
	Close()
}

var (
	speakerMu   sync.Mutex
	speakerInit bool
	speakerRate beep.SampleRate
)

type speakerSink struct{}

// NewSpeakerSink returns a Sink backed by the system speaker.
func NewSpeakerSink() Sink {
	return speakerSink{}
}

func (speakerSink) Init(sampleRate beep.SampleRate, bufferSize int) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerInit && sampleRate == speakerRate {
		return nil
	}
	if err := speaker.Init(sampleRate, bufferSize); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	speakerInit = true
	speakerRate = sampleRate
	log.Debug().Msgf("Speaker initialized with sample rate: %d Hz, buffer: %d samples", sampleRate, bufferSize)
	return nil
}

func (speakerSink) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerSink) Lock()                { speaker.Lock() }
func (speakerSink) Unlock()              { speaker.Unlock() }
func (speakerSink) Suspend() error       { return speaker.Suspend() }
func (speakerSink) Resume() error        { return speaker.Resume() }

// Close drops everything the speaker is playing. The device itself stays
// open for the life of the process because the driver can only be opened once.
func (speakerSink) Close() {
	speaker.Clear()
}
