// Package visualizer drives the frequency bar display from an analyser.
package visualizer

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBars = 64
	FrameRate   = time.Second / 60
)

// Source is read once per frame. audio.Analyser implements it.
type Source interface {
	ByteFrequencyData(dst []byte) int
	FrequencyBinCount() int
}

// Painter receives bar heights in [0, 1], one per bar.
type Painter func(bars []float64)

// Loop reads its source and paints bars on every frame while running.
// Starting it against a new source re-points it; Stop returns only once
// no further frame will be painted.
type Loop struct {
	bars     int
	paint    Painter
	interval time.Duration

	mu     sync.Mutex
	src    Source
	stop   chan struct{}
	done   chan struct{}
	frames int
}

func NewLoop(bars int, paint Painter) *Loop {
	if bars <= 0 {
		bars = DefaultBars
	}
	return &Loop{bars: bars, paint: paint, interval: FrameRate}
}

// SetInterval changes the frame period for loops started afterwards.
func (l *Loop) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.interval = d
	l.mu.Unlock()
}

// Start begins rendering src. A loop already running against src keeps
// running; one running against another source is stopped first.
func (l *Loop) Start(src Source) {
	if src == nil {
		l.Stop()
		return
	}

	l.mu.Lock()
	if l.stop != nil && l.src == src {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.src = src
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(src, l.interval, l.stop, l.done)
	log.Debug().Int("bars", l.bars).Msg("Visualizer started")
}

func (l *Loop) run(src Source, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	freq := make([]byte, src.FrequencyBinCount())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := src.FrequencyBinCount(); n != len(freq) {
				freq = make([]byte, n)
			}
			src.ByteFrequencyData(freq)

			select {
			case <-stop:
				return
			default:
			}

			l.mu.Lock()
			l.frames++
			l.mu.Unlock()
			if l.paint != nil {
				l.paint(Bars(freq, l.bars))
			}
		}
	}
}

// Stop cancels the loop and waits for the frame in progress.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop = nil
	l.done = nil
	l.src = nil
	l.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	log.Debug().Msg("Visualizer stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

// Source returns the source the loop is rendering, or nil.
func (l *Loop) Source() Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src
}

// Frames returns how many frames have been painted.
func (l *Loop) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Bars folds frequency bins into n bars, each the mean of its bins scaled
// to [0, 1]. Missing data yields zero bars.
func Bars(freq []byte, n int) []float64 {
	out := make([]float64, n)
	if n <= 0 || len(freq) == 0 {
		return out
	}
	for i := range out {
		lo := i * len(freq) / n
		hi := (i + 1) * len(freq) / n
		if hi <= lo {
			hi = lo + 1
		}
		var sum int
		for _, v := range freq[lo:hi] {
			sum += int(v)
		}
		out[i] = float64(sum) / float64(hi-lo) / 255
	}
	return out
}
