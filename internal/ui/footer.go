package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/podvault-cli/internal/player"
	"github.com/glebovdev/podvault-cli/internal/vault"
	"github.com/rivo/tview"
)

type StatusRenderer struct {
	animFrame     int
	maxAnimFrame  int
	tickCount     int
	ticksPerFrame int

	primaryColor string
}

func NewStatusRenderer() *StatusRenderer {
	return &StatusRenderer{
		maxAnimFrame:  4,
		ticksPerFrame: 2,
	}
}

func (s *StatusRenderer) SetPrimaryColor(color string) {
	s.primaryColor = color
}

func (s *StatusRenderer) AdvanceAnimation() {
	s.tickCount++
	if s.tickCount >= s.ticksPerFrame {
		s.tickCount = 0
		s.animFrame = (s.animFrame + 1) % s.maxAnimFrame
	}
}

func (s *StatusRenderer) Render(snap player.Snapshot) string {
	switch {
	case snap.EpisodeID == "":
		return "○ IDLE │ No episode"
	case snap.Err != nil:
		return s.renderError(snap.Err)
	case snap.Loading || !snap.Loaded:
		return s.renderLoading(snap)
	case snap.Playing:
		return s.renderPlaying(snap)
	default:
		return s.renderPaused(snap)
	}
}

func (s *StatusRenderer) renderLoading(snap player.Snapshot) string {
	circles := []string{"◐", "◓", "◑", "◒"}
	verb := "LOADING"
	if snap.Mode == player.ModeBuffer {
		verb = "DECODING"
	}
	return fmt.Sprintf("%s %s", circles[s.animFrame], verb)
}

func (s *StatusRenderer) renderPlaying(snap player.Snapshot) string {
	dots := []string{"●", "◉", "○", "◉"}
	dot := dots[s.animFrame]
	if s.primaryColor != "" {
		dot = fmt.Sprintf("[%s]%s[-]", s.primaryColor, dot)
	}
	return joinParts(s.details(dot+" PLAYING", snap))
}

func (s *StatusRenderer) renderPaused(snap player.Snapshot) string {
	label := PauseIcon + " PAUSED"
	if snap.Duration > 0 && snap.Position >= snap.Duration {
		label = "■ ENDED"
	}
	return joinParts(s.details(label, snap))
}

func (s *StatusRenderer) details(label string, snap player.Snapshot) []string {
	parts := []string{label}
	if snap.Muted {
		parts = append(parts, "[red]MUTED[-]")
	}
	if snap.Scrubbing {
		parts = append(parts, "SEEK "+formatTime(snap.Position))
	}
	parts = append(parts, strings.ToUpper(snap.Mode.String()), formatRate(snap.Rate))
	if snap.SkipSilence {
		parts = append(parts, "SKIP SILENCE")
	}
	if badge := vaultBadge(snap.Offline, snap.Progress); badge != "" {
		parts = append(parts, badge)
	}
	return parts
}

func (s *StatusRenderer) renderError(err error) string {
	msg := friendlyErrorMessage(err.Error())
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	return fmt.Sprintf("✗ %s", msg)
}

func vaultBadge(status vault.Status, progress vault.Progress) string {
	switch status {
	case vault.StatusSaved:
		return "⤓ SAVED"
	case vault.StatusDownloading:
		if progress.Total > 0 {
			return fmt.Sprintf("⤓ %d%%", int(progress.Fraction()*100))
		}
		return "⤓ SAVING"
	case vault.StatusError:
		return "⤓ SAVE FAILED"
	default:
		return ""
	}
}

func formatRate(rate float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", rate), "0"), ".") + "×"
}

func joinParts(parts []string) string {
	return strings.Join(parts, " │ ")
}

func (ui *UI) getPlaybackHint(keyColor string, snap player.Snapshot) string {
	switch {
	case snap.Scrubbing:
		return fmt.Sprintf("[%s]Enter[-] seek  [%s]Esc[-] cancel", keyColor, keyColor)
	case snap.Playing:
		return fmt.Sprintf("[%s]Space[-] pause  [%s]←/→[-] 15s", keyColor, keyColor)
	default:
		return fmt.Sprintf("[%s]Space[-] play  [%s]←/→[-] 15s", keyColor, keyColor)
	}
}

func (ui *UI) getHelpText(snap player.Snapshot) string {
	keyColor := ui.colors.helpHotkey.String()
	playbackHint := ui.getPlaybackHint(keyColor, snap)

	muteText := "mute"
	if snap.Muted {
		muteText = "unmute"
	}
	saveText := "save"
	if snap.Offline == vault.StatusSaved {
		saveText = "unsave"
	}

	return fmt.Sprintf(" %s  [%s]r[-] rate  [%s]m[-] %s  [%s]d[-] %s  [%s]?[-] help  [%s]q[-] quit ",
		playbackHint, keyColor, keyColor, muteText, keyColor, saveText, keyColor, keyColor)
}

func (ui *UI) handleFooterResize(width int) {
	isWide := width >= FooterBreakpoint
	wasWide := ui.lastFooterWidth >= FooterBreakpoint

	if ui.lastFooterWidth > 0 && isWide != wasWide && ui.contentLayout != nil {
		newHeight := FooterHeightWide
		if !isWide {
			newHeight = FooterHeightNarrow
		}
		ui.contentLayout.ResizeItem(ui.helpPanel, newHeight, 0)
	}
	ui.lastFooterWidth = width
}

func (ui *UI) fill(screen tcell.Screen, x, y, width, height int, bg tcell.Color) {
	style := tcell.StyleDefault.Background(bg)
	for row := y; row < y+height; row++ {
		for col := x; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, style)
		}
	}
}

func (ui *UI) drawWideFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpWidth := width / 2
	statusWidth := width - helpWidth

	ui.fill(screen, x, y, helpWidth, height, ui.colors.helpBackground)
	ui.fill(screen, x+helpWidth, y, statusWidth, height, ui.colors.background)

	centerY := y + height/2
	tview.Print(screen, helpText, x, centerY, helpWidth, tview.AlignCenter, ui.colors.helpForeground)
	tview.Print(screen, statusText, x+helpWidth, centerY, statusWidth-2, tview.AlignRight, ui.colors.foreground)
}

func (ui *UI) drawNarrowFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpHeight := max(height/2, 1)
	statusHeight := height - helpHeight
	helpBoxEnd := y + helpHeight

	ui.fill(screen, x, y, width, helpHeight, ui.colors.helpBackground)
	ui.fill(screen, x, helpBoxEnd, width, statusHeight, ui.colors.background)

	tview.Print(screen, helpText, x, y+helpHeight/2, width, tview.AlignCenter, ui.colors.helpForeground)
	if statusHeight > 0 {
		tview.Print(screen, statusText, x, helpBoxEnd+statusHeight/2, width-2, tview.AlignRight, ui.colors.foreground)
	}
}

func (ui *UI) createFooter() *tview.Box {
	box := tview.NewBox().SetBackgroundColor(ui.colors.background)

	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		ui.handleFooterResize(width)

		snap := ui.snapshot()
		helpText := ui.getHelpText(snap)
		statusText := " " + ui.statusRenderer.Render(snap) + " "

		if width >= FooterBreakpoint {
			ui.drawWideFooter(screen, x, y, width, min(height, FooterHeightWide), helpText, statusText)
		} else {
			ui.drawNarrowFooter(screen, x, y, width, height, helpText, statusText)
		}
		return x, y, width, height
	})

	return box
}
