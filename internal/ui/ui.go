package ui

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/podvault-cli/internal/config"
	"github.com/glebovdev/podvault-cli/internal/episode"
	"github.com/glebovdev/podvault-cli/internal/player"
	"github.com/glebovdev/podvault-cli/internal/service"
	"github.com/glebovdev/podvault-cli/internal/vault"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	VolumeStep         = 5
	SkipStep           = 15 * time.Second
	ScrubStep          = 30 * time.Second
	HeaderHeight       = 3
	FooterHeightWide   = 3 // Wide: 1 row with padding (top + text + bottom)
	FooterHeightNarrow = 6 // Narrow: 2 rows × 3 lines each
	CoverWidth         = 26
	CoverHeight        = 12
	PlayerPanelHeight  = 12
	SpectrumHeight     = 8
	FooterBreakpoint   = 130 // Width threshold for responsive footer
	ProgressInterval   = 250 * time.Millisecond
)

// PauseIcon uses platform-specific character (Windows renders ⏸ as emoji)
var PauseIcon = func() string {
	if runtime.GOOS == "windows" {
		return "❚❚"
	}
	return "⏸"
}()

// Library lists what the vault holds.
type Library interface {
	Entries(ctx context.Context) ([]vault.Entry, error)
	Usage(ctx context.Context) (int, int64, error)
}

type Options struct {
	Config   *config.Config
	Episodes *service.EpisodeService
	Library  Library
	Spectrum *Spectrum

	// Episode is opened on start. When nil, EpisodeID is looked up through
	// Episodes instead.
	Episode   *episode.Episode
	EpisodeID string
	Autoplay  bool
}

type UI struct {
	app      *tview.Application
	shell    *player.Shell
	episodes *service.EpisodeService
	library  Library
	spectrum *Spectrum
	config   *config.Config
	autoplay bool

	ctx    context.Context
	cancel context.CancelFunc

	pages           *tview.Pages
	mainLayout      *tview.Flex
	contentLayout   *tview.Flex
	helpPanel       *tview.Box
	coverPanel      *tview.Image
	infoView        *tview.TextView
	progressView    *tview.TextView
	volumeView      *tview.Flex
	loadingScreen   *tview.Flex
	loadingText     *tview.TextView
	lastFooterWidth int

	startEpisode   *episode.Episode
	startEpisodeID string

	refreshes chan struct{}
	draws     chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}

	mu            sync.Mutex
	snap          player.Snapshot
	shownErr      error
	currentVolume int

	statusRenderer *StatusRenderer
	colors         struct {
		background       tcell.Color
		foreground       tcell.Color
		borders          tcell.Color
		highlight        tcell.Color
		mutedVolume      tcell.Color
		headerBackground tcell.Color
		helpBackground   tcell.Color
		helpForeground   tcell.Color
		helpHotkey       tcell.Color
		visualizer       tcell.Color
		savedBadge       tcell.Color
		errorForeground  tcell.Color
		modalBackground  tcell.Color
	}
}

func NewUI(shell *player.Shell, opts Options) *UI {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	ui := &UI{
		app:            tview.NewApplication(),
		shell:          shell,
		episodes:       opts.Episodes,
		library:        opts.Library,
		spectrum:       opts.Spectrum,
		config:         cfg,
		autoplay:       opts.Autoplay,
		ctx:            ctx,
		cancel:         cancel,
		startEpisode:   opts.Episode,
		startEpisodeID: opts.EpisodeID,
		refreshes:      make(chan struct{}, 1),
		draws:          make(chan struct{}, 1),
		stopped:        make(chan struct{}),
		currentVolume:  config.ClampVolume(cfg.Volume),
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.mutedVolume = config.GetColor(cfg.Theme.MutedVolume)
	ui.colors.headerBackground = config.GetColor(cfg.Theme.HeaderBackground)
	ui.colors.helpBackground = config.GetColor(cfg.Theme.HelpBackground)
	ui.colors.helpForeground = config.GetColor(cfg.Theme.HelpForeground)
	ui.colors.helpHotkey = config.GetColor(cfg.Theme.HelpHotkey)
	ui.colors.visualizer = config.GetColor(cfg.Theme.Visualizer)
	ui.colors.savedBadge = config.GetColor(cfg.Theme.SavedBadge)
	ui.colors.errorForeground = config.GetColor(cfg.Theme.ErrorForeground)
	ui.colors.modalBackground = ui.colors.helpBackground

	ui.statusRenderer = NewStatusRenderer()
	ui.statusRenderer.SetPrimaryColor(ui.colors.highlight.String())

	shell.OnChange(ui.Refresh)
	if ui.spectrum != nil {
		ui.spectrum.SetOnPaint(ui.requestDraw)
	}
	return ui
}

// Refresh schedules a fresh snapshot. It never blocks and may be called
// from any goroutine.
func (ui *UI) Refresh() {
	select {
	case ui.refreshes <- struct{}{}:
	default:
	}
}

func (ui *UI) requestDraw() {
	select {
	case ui.draws <- struct{}{}:
	default:
	}
}

func (ui *UI) snapshot() player.Snapshot {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.snap
}

func (ui *UI) SaveConfig() {
	rate, skipSilence := ui.shell.Rate(), ui.shell.SkipSilence()
	ep := ui.shell.Episode()

	ui.mu.Lock()
	defer ui.mu.Unlock()

	ui.config.Volume = ui.currentVolume
	ui.config.PlaybackRate = rate
	ui.config.SkipSilence = skipSilence
	if ep != nil && ep.ID != "" {
		ui.config.LastEpisode = ep.ID
	}
	if err := ui.config.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

// stop ends the event loop. The shell is closed by the caller of Run once
// the loop has returned, so no engine callback can race the screen.
func (ui *UI) stop() {
	ui.stopOnce.Do(func() {
		ui.cancel()
		close(ui.stopped)
		ui.app.Stop()
	})
}

// Shutdown stops the UI gracefully from external callers (e.g., signal handlers).
func (ui *UI) Shutdown() {
	ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

func (ui *UI) Run() error {
	ui.setupLoadingScreen()
	ui.setupUI()
	ui.app.SetRoot(ui.loadingScreen, true)
	ui.configureScreen()

	go ui.runUpdates()
	go ui.initAsync()

	err := ui.app.Run()
	ui.stop()
	return err
}

func (ui *UI) configureScreen() {
	bgStyle := tcell.StyleDefault.Background(ui.colors.background)
	ui.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		screen.SetStyle(bgStyle)
		screen.Clear()
		return false
	})

	var titleSet sync.Once
	ui.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		titleSet.Do(func() { screen.SetTitle(config.AppName) })
	})
}

func (ui *UI) runUpdates() {
	ticker := time.NewTicker(ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ui.stopped:
			return
		case <-ticker.C:
			ui.pushSnapshot(true)
		case <-ui.refreshes:
			ui.pushSnapshot(false)
		case <-ui.draws:
			ui.app.QueueUpdateDraw(func() {})
		}
	}
}

func (ui *UI) pushSnapshot(tick bool) {
	snap := ui.shell.Snapshot(ui.ctx)
	ui.app.QueueUpdateDraw(func() {
		if tick {
			ui.statusRenderer.AdvanceAnimation()
		}
		ui.apply(snap)
	})
}

// apply renders snap. It runs on the event loop.
func (ui *UI) apply(snap player.Snapshot) {
	ui.mu.Lock()
	prev := ui.snap
	ui.snap = snap
	newErr := snap.Err != nil && snap.Err != ui.shownErr
	if newErr {
		ui.shownErr = snap.Err
	}
	ui.mu.Unlock()

	ui.infoView.SetText(ui.renderInfo(snap))
	ui.progressView.SetText(ui.renderProgressLine(snap))
	if prev.Muted != snap.Muted || prev.Volume != snap.Volume {
		ui.updateVolumeDisplay()
	}
	if prev.EpisodeID != snap.EpisodeID && ui.spectrum != nil {
		ui.spectrum.Clear()
	}
	if newErr && ui.pages != nil && !ui.pages.HasPage("error-modal") {
		ui.showError(snap.Err)
	}
}

func (ui *UI) initAsync() {
	ep, err := ui.resolveStartEpisode()
	if err != nil {
		ui.app.QueueUpdateDraw(func() {
			ui.handleInitialError(err)
		})
		return
	}

	ui.app.QueueUpdateDraw(func() {
		ui.app.SetRoot(ui.pages, true).EnableMouse(true)
	})
	if ep != nil {
		ui.openEpisode(ep)
	}
}

func (ui *UI) resolveStartEpisode() (*episode.Episode, error) {
	if ui.startEpisode != nil {
		return ui.startEpisode, nil
	}
	if ui.startEpisodeID == "" {
		return nil, nil
	}
	if ui.episodes == nil {
		return nil, fmt.Errorf("episode %s is unknown", ui.startEpisodeID)
	}

	ui.app.QueueUpdateDraw(func() {
		ui.loadingText.SetText("Fetching episode " + ui.startEpisodeID + "...")
	})
	ep, err := ui.episodes.GetEpisode(ui.ctx, ui.startEpisodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch episode: %w", err)
	}
	return ep, nil
}

// openEpisode hands ep to the shell off the event loop; Open blocks until
// the source is probed.
func (ui *UI) openEpisode(ep *episode.Episode) {
	ui.mu.Lock()
	ui.shownErr = nil
	ui.mu.Unlock()

	ui.loadCover(ep)

	go func() {
		log.Info().Str("episode", ep.ID).Msgf("Opening episode: %s", ep.DisplayTitle())
		err := ui.shell.Open(ui.ctx, ep)
		switch {
		case errors.Is(err, player.ErrSuperseded), errors.Is(err, context.Canceled):
			return
		case err != nil:
			ui.Refresh()
			return
		}

		if ui.autoplay && !ui.shell.IsPlaying() {
			if err := ui.shell.TogglePlay(); err != nil {
				log.Debug().Err(err).Msg("Autoplay failed")
			}
		}
		ui.Refresh()
		ui.SaveConfig()
	}()
}

func (ui *UI) retry() {
	if ep := ui.shell.Episode(); ep != nil {
		ui.openEpisode(ep)
	}
}

func (ui *UI) loadCover(ep *episode.Episode) {
	if ui.episodes == nil || ep.CoverImage == "" {
		return
	}
	go func() {
		img, err := ui.episodes.LoadCover(ui.ctx, ep.CoverImage)
		if err != nil {
			log.Debug().Err(err).Str("url", ep.CoverImage).Msg("Cover unavailable")
			return
		}
		ui.app.QueueUpdateDraw(func() {
			ui.coverPanel.SetImage(img)
		})
	}()
}

func (ui *UI) setupLoadingScreen() {
	ui.loadingText = tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText("Starting " + config.AppName + "...")
	ui.loadingText.SetTextColor(ui.colors.foreground).
		SetBackgroundColor(ui.colors.background)

	ui.loadingScreen = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(ui.loadingText, 1, 0, false).
		AddItem(nil, 0, 1, false)
	ui.loadingScreen.SetBackgroundColor(ui.colors.background)
}

func (ui *UI) setupUI() {
	header := ui.createHeader()
	ui.helpPanel = ui.createFooter()

	ui.progressView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	ui.progressView.SetBackgroundColor(ui.colors.background)
	ui.progressView.SetTextColor(ui.colors.foreground)

	ui.contentLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, HeaderHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.createContentPanel(), PlayerPanelHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.createSpectrumView(), SpectrumHeight, 0, false).
		AddItem(ui.progressView, 1, 0, false).
		AddItem(nil, 0, 1, false).
		AddItem(ui.helpPanel, FooterHeightWide, 0, false)
	ui.contentLayout.SetBackgroundColor(ui.colors.background)

	wrapper := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 3, 0, false).
		AddItem(ui.contentLayout, 0, 1, true).
		AddItem(nil, 3, 0, false)
	wrapper.SetBackgroundColor(ui.colors.background)

	ui.mainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 1, 0, false).
		AddItem(wrapper, 0, 1, true).
		AddItem(nil, 1, 0, false)
	ui.mainLayout.SetBackgroundColor(ui.colors.background)

	ui.pages = tview.NewPages().
		AddPage("main", ui.mainLayout, true, true)
	ui.pages.SetBackgroundColor(ui.colors.background)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if ui.pages.HasPage("modal") || ui.pages.HasPage("error-modal") {
			return event
		}
		return ui.globalInputHandler(event)
	})
}

func (ui *UI) createHeader() tview.Primitive {
	titleView := tview.NewTextView()
	titleView.SetText(" " + config.AppName)
	titleView.SetTextAlign(tview.AlignLeft)
	titleView.SetTextColor(ui.colors.foreground)
	titleView.SetBackgroundColor(ui.colors.headerBackground)

	versionView := tview.NewTextView()
	versionView.SetText("v" + config.AppVersion + " ")
	versionView.SetTextAlign(tview.AlignRight)
	versionView.SetTextColor(ui.colors.foreground)
	versionView.SetBackgroundColor(ui.colors.headerBackground)

	textFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(titleView, 0, 1, false).
		AddItem(versionView, 10, 0, false)
	textFlex.SetBackgroundColor(ui.colors.headerBackground)

	textWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false).
		AddItem(textFlex, 0, 1, false).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false)
	textWithPadding.SetBackgroundColor(ui.colors.headerBackground)

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false).
		AddItem(textWithPadding, 1, 0, false).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false)
	headerFlex.SetBackgroundColor(ui.colors.headerBackground)

	return headerFlex
}

func (ui *UI) createContentPanel() *tview.Flex {
	ui.coverPanel = tview.NewImage()
	ui.coverPanel.SetBackgroundColor(ui.colors.background)
	ui.coverPanel.SetAlign(tview.AlignLeft, tview.AlignTop)

	ui.infoView = tview.NewTextView()
	ui.infoView.SetDynamicColors(true)
	ui.infoView.SetWrap(true)
	ui.infoView.SetTextColor(ui.colors.foreground)
	ui.infoView.SetBackgroundColor(ui.colors.background)
	ui.infoView.SetText(ui.renderInfo(player.Snapshot{}))

	ui.volumeView = ui.createGraphicalVolumeBar()

	coverWrapper := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.coverPanel, CoverHeight, 0, false).
		AddItem(nil, 0, 1, false)
	coverWrapper.SetBackgroundColor(ui.colors.background)

	contentFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(coverWrapper, CoverWidth, 0, false).
		AddItem(ui.infoView, 0, 1, false).
		AddItem(ui.volumeView, 7, 0, false)
	contentFlex.SetBackgroundColor(ui.colors.background)

	contentWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 4, 0, false).
		AddItem(contentFlex, 0, 1, false).
		AddItem(nil, 4, 0, false)
	contentWithPadding.SetBackgroundColor(ui.colors.background)

	return contentWithPadding
}

func (ui *UI) renderInfo(snap player.Snapshot) string {
	hl := ui.colors.highlight.String()
	if snap.EpisodeID == "" {
		return fmt.Sprintf(" Podcast:\n [%s]-[-]\n\n Episode:\n [%s]Nothing open[-]", hl, hl)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, " Podcast:\n [%s::b]%s[-::-]\n\n", hl, tview.Escape(snap.Podcast))
	fmt.Fprintf(&sb, " Episode:\n [%s::b]%s[-::-]\n\n", hl, tview.Escape(snap.Title))

	source := "stream"
	if snap.Mode == player.ModeBuffer {
		source = "secure stream"
	}
	fmt.Fprintf(&sb, " Source:\n %s", source)
	switch snap.Offline {
	case vault.StatusSaved:
		fmt.Fprintf(&sb, "  [%s]saved offline[-]", ui.colors.savedBadge.String())
	case vault.StatusDownloading:
		fmt.Fprintf(&sb, "  saving %s", formatProgress(snap.Progress))
	case vault.StatusError:
		fmt.Fprintf(&sb, "  [%s]save failed[-]", ui.colors.errorForeground.String())
	}
	return sb.String()
}

func formatProgress(p vault.Progress) string {
	if p.Total <= 0 {
		return formatBytes(p.Received)
	}
	return fmt.Sprintf("%d%%", int(p.Fraction()*100))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatTime renders d as m:ss, or h:mm:ss past an hour.
func formatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// renderProgress draws a width-cell seek bar with a knob at position.
func renderProgress(position, duration time.Duration, width int) string {
	if width <= 0 {
		return ""
	}
	knob := 0
	if duration > 0 {
		knob = int(float64(width-1) * float64(min(max(position, 0), duration)) / float64(duration))
	}
	return strings.Repeat("━", knob) + "●" + strings.Repeat("─", width-1-knob)
}

func (ui *UI) renderProgressLine(snap player.Snapshot) string {
	const barWidth = 48
	knobColor := ui.colors.highlight.String()
	if snap.Scrubbing {
		knobColor = ui.colors.helpHotkey.String()
	}
	duration := "--:--"
	if snap.Duration > 0 {
		duration = formatTime(snap.Duration)
	}
	return fmt.Sprintf("%s [%s]%s[-] %s  %s",
		formatTime(snap.Position),
		knobColor, renderProgress(snap.Position, snap.Duration, barWidth),
		duration, formatRate(snap.Rate))
}

func (ui *UI) togglePlay() {
	if err := ui.shell.TogglePlay(); err != nil && !errors.Is(err, player.ErrNotLoaded) {
		ui.showError(err)
	}
	ui.Refresh()
}

func (ui *UI) skip(delta time.Duration) {
	if err := ui.shell.Skip(delta); err != nil {
		log.Debug().Err(err).Msg("Skip ignored")
	}
	ui.Refresh()
}

// scrub moves the pending seek position by delta, entering scrub mode on
// the first step. Nothing is sought until the scrub is committed.
func (ui *UI) scrub(delta time.Duration) {
	if !ui.shell.IsLoaded() {
		return
	}
	if !ui.shell.Scrubbing() {
		ui.shell.BeginScrub()
	}
	ui.shell.Scrub(ui.shell.CurrentTime() + delta)
	ui.Refresh()
}

func (ui *UI) commitScrub() {
	if !ui.shell.Scrubbing() {
		return
	}
	if err := ui.shell.EndScrub(); err != nil {
		log.Debug().Err(err).Msg("Seek failed")
	}
	ui.Refresh()
}

func (ui *UI) cycleRate() {
	rate := ui.shell.CycleRate()
	log.Debug().Float64("rate", rate).Msg("Playback rate changed")
	ui.SaveConfig()
	ui.Refresh()
}

func (ui *UI) toggleSkipSilence() {
	ui.shell.SetSkipSilence(!ui.shell.SkipSilence())
	ui.SaveConfig()
	ui.Refresh()
}

func (ui *UI) toggleOffline() {
	status := ui.shell.VaultStatus(ui.ctx)
	go func() {
		var err error
		switch status {
		case vault.StatusSaved:
			err = ui.shell.RemoveOffline(ui.ctx)
		case vault.StatusDownloading:
			return
		default:
			err = ui.shell.SaveOffline(ui.ctx)
		}
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Warn().Err(err).Msg("Offline toggle failed")
		if errors.Is(err, player.ErrNotDownloadable) || errors.Is(err, player.ErrNoEpisode) {
			ui.app.QueueUpdateDraw(func() {
				ui.showInfoModal("Offline", "This episode can't be saved for offline listening.")
			})
		}
	}()
}

func (ui *UI) globalInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.stop()
			return nil
		case ' ':
			ui.togglePlay()
			return nil
		case '<', ',':
			ui.scrub(-ScrubStep)
			return nil
		case '>', '.':
			ui.scrub(ScrubStep)
			return nil
		case 'r', 'R':
			ui.cycleRate()
			return nil
		case '+', '=':
			ui.adjustVolume(VolumeStep)
			return nil
		case '-', '_':
			ui.adjustVolume(-VolumeStep)
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		case 's', 'S':
			ui.toggleSkipSilence()
			return nil
		case 'd', 'D':
			ui.toggleOffline()
			return nil
		case 'k', 'K':
			ui.showVaultModal()
			return nil
		case '?':
			ui.showHelpModal()
			return nil
		case 'a', 'A':
			ui.showAboutModal()
			return nil
		}
	case tcell.KeyEnter:
		ui.commitScrub()
		return nil
	case tcell.KeyEscape:
		if ui.shell.Scrubbing() {
			ui.shell.CancelScrub()
			ui.Refresh()
			return nil
		}
		ui.stop()
		return nil
	case tcell.KeyRight:
		ui.skip(SkipStep)
		return nil
	case tcell.KeyLeft:
		ui.skip(-SkipStep)
		return nil
	}
	return event
}
