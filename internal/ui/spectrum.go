package ui

import (
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

// Spectrum holds the latest bar heights painted by the visualizer loop.
// Paint runs on the loop goroutine and must never wait on the UI.
type Spectrum struct {
	mu      sync.Mutex
	levels  []float64
	onPaint func()
}

func NewSpectrum(bars int) *Spectrum {
	return &Spectrum{levels: make([]float64, bars)}
}

// Paint stores a frame. It satisfies visualizer.Painter.
func (s *Spectrum) Paint(levels []float64) {
	s.mu.Lock()
	if len(s.levels) != len(levels) {
		s.levels = make([]float64, len(levels))
	}
	copy(s.levels, levels)
	fn := s.onPaint
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *Spectrum) SetOnPaint(fn func()) {
	s.mu.Lock()
	s.onPaint = fn
	s.mu.Unlock()
}

// Levels returns a copy of the last frame.
func (s *Spectrum) Levels() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.levels...)
}

// Clear zeroes the bars without notifying.
func (s *Spectrum) Clear() {
	s.mu.Lock()
	for i := range s.levels {
		s.levels[i] = 0
	}
	s.mu.Unlock()
}

// renderBars draws levels into height rows, top row first. Each cell is
// split into eighths so a bar grows smoothly through the block glyphs.
func renderBars(levels []float64, height int) []string {
	if height <= 0 {
		return nil
	}
	rows := make([]string, height)
	var sb strings.Builder
	for r := 0; r < height; r++ {
		sb.Reset()
		floor := (height - 1 - r) * 8
		for _, l := range levels {
			l = max(0, min(l, 1))
			eighths := int(l*float64(height*8)+0.5) - floor
			switch {
			case eighths <= 0:
				sb.WriteRune(' ')
			case eighths >= 8:
				sb.WriteRune(barGlyphs[7])
			default:
				sb.WriteRune(barGlyphs[eighths-1])
			}
		}
		rows[r] = sb.String()
	}
	return rows
}

func (ui *UI) createSpectrumView() *tview.Box {
	box := tview.NewBox().SetBackgroundColor(ui.colors.background)
	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		if ui.spectrum == nil {
			return x, y, width, height
		}
		levels := ui.spectrum.Levels()
		if len(levels) > width {
			levels = levels[:width]
		}
		offset := (width - len(levels)) / 2
		style := tcell.StyleDefault.Foreground(ui.colors.visualizer).Background(ui.colors.background)
		for r, row := range renderBars(levels, height) {
			col := x + offset
			for _, ch := range row {
				screen.SetContent(col, y+r, ch, nil, style)
				col++
			}
		}
		return x, y, width, height
	})
	return box
}
