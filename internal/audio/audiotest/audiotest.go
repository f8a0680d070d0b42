// Package audiotest provides a pull-driven sink and synthetic audio for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// Sink renders only when Pull is called, so tests control the clock.
type Sink struct {
	mu         sync.Mutex
	streamers  []beep.Streamer
	sampleRate beep.SampleRate
	suspended  bool
	closed     bool
	inits      int
	closes     int

	// InitErr, when set, is returned by Init.
	InitErr error
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Init(sampleRate beep.SampleRate, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InitErr != nil {
		return s.InitErr
	}
	s.sampleRate = sampleRate
	s.closed = false
	s.inits++
	return nil
}

func (s *Sink) Play(st beep.Streamer) {
	s.mu.Lock()
	s.streamers = append(s.streamers, st)
	s.mu.Unlock()
}

func (s *Sink) Lock()   { s.mu.Lock() }
func (s *Sink) Unlock() { s.mu.Unlock() }

func (s *Sink) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audiotest: sink closed")
	}
	s.suspended = true
	return nil
}

func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audiotest: sink closed")
	}
	s.suspended = false
	return nil
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamers = nil
	s.closed = true
	s.closes++
}

// Pull renders n frames. A suspended or closed sink renders nothing.
func (s *Sink) Pull(n int) [][2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suspended || s.closed || n <= 0 {
		return nil
	}
	out := make([][2]float64, n)
	tmp := make([][2]float64, n)
	for _, st := range s.streamers {
		clear(tmp)
		m, _ := st.Stream(tmp)
		for i := 0; i < m; i++ {
			out[i][0] += tmp[i][0]
			out[i][1] += tmp[i][1]
		}
	}
	return out
}

// PullDuration renders d worth of frames at the initialized sample rate.
func (s *Sink) PullDuration(d time.Duration) [][2]float64 {
	s.mu.Lock()
	n := s.sampleRate.N(d)
	s.mu.Unlock()
	return s.Pull(n)
}

func (s *Sink) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Sink) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// WAV returns a mono 16-bit PCM WAV file holding a sine tone.
func WAV(sampleRate, samples int, freq float64) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	dataSize := samples * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)
	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	w(uint32(36 + dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1))
	w(uint16(channels))
	w(uint32(sampleRate))
	w(uint32(sampleRate * blockAlign))
	w(uint16(blockAlign))
	w(uint16(bitsPerSample))
	buf.WriteString("data")
	w(uint32(dataSize))

	for i := 0; i < samples; i++ {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		w(int16(v * math.MaxInt16))
	}
	return buf.Bytes()
}

// Tone is an endless sine streamer standing in for a media element.
type Tone struct {
	mu    sync.Mutex
	freq  float64
	rate  float64
	phase float64
	safe  bool
	pulls int
}

func NewTone(sampleRate beep.SampleRate, freq float64, corsSafe bool) *Tone {
	return &Tone{freq: freq, rate: float64(sampleRate), safe: corsSafe}
}

func (t *Tone) Stream(samples [][2]float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range samples {
		v := 0.5 * math.Sin(t.phase)
		samples[i] = [2]float64{v, v}
		t.phase += 2 * math.Pi * t.freq / t.rate
	}
	t.pulls++
	return len(samples), true
}

func (t *Tone) Err() error { return nil }

func (t *Tone) CORSSafe() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.safe
}

// Pulls returns how many times the tone has been streamed.
func (t *Tone) Pulls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pulls
}

// Peak returns the largest absolute sample value in frames.
func Peak(frames [][2]float64) float64 {
	var peak float64
	for _, f := range frames {
		peak = math.Max(peak, math.Max(math.Abs(f[0]), math.Abs(f[1])))
	}
	return peak
}
