package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/glebovdev/podvault-cli/internal/api"
	"github.com/glebovdev/podvault-cli/internal/audio"
	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/glebovdev/podvault-cli/internal/cache"
	"github.com/glebovdev/podvault-cli/internal/config"
	"github.com/glebovdev/podvault-cli/internal/episode"
	"github.com/glebovdev/podvault-cli/internal/player"
	"github.com/glebovdev/podvault-cli/internal/service"
	"github.com/glebovdev/podvault-cli/internal/ui"
	"github.com/glebovdev/podvault-cli/internal/vault"
	"github.com/glebovdev/podvault-cli/internal/visualizer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	versionFlag  = flag.Bool("version", false, "Show version information")
	debugFlag    = flag.Bool("debug", false, "Enable debug logging")
	episodeFlag  = flag.String("episode", "", "Episode ID to open (defaults to the last one played)")
	urlFlag      = flag.String("url", "", "Play a direct audio URL instead of an API episode")
	streamFlag   = flag.String("stream", "", "Secure stream endpoint for the -url episode")
	titleFlag    = flag.String("title", "", "Title shown for a -url episode")
	autoplayFlag = flag.Bool("autoplay", true, "Start playback as soon as the episode loads")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
		fmt.Fprintf(os.Stderr, "API token is read from $%s when set.\n", config.TokenEnv)
	}
}

func setupLogging() {
	if !*debugFlag {
		// Avoid TUI corruption by only logging errors to /dev/null
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
		if err == nil {
			log.Logger = log.Output(logFile)
		}
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	cacheDir, err := cache.GetCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(cacheDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)

	if configPath, err := config.GetConfigPath(); err == nil {
		log.Debug().Msgf("Config: %s", configPath)
	}
	log.Debug().Msgf("Cache: %s", cacheDir)
}

// openVault opens the offline store. A missing vault only disables saving.
func openVault(cfg *config.Config, blobs *blob.Registry) (*vault.Store, *vault.Gateway) {
	dir, err := vault.GetVaultDir(cfg.VaultName)
	if err != nil {
		log.Warn().Err(err).Msg("Offline vault unavailable")
		return nil, nil
	}
	store, err := vault.OpenStore(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to open offline vault")
		return nil, nil
	}
	go func() {
		if n, err := store.Prune(); err != nil {
			log.Warn().Err(err).Msg("Vault prune failed")
		} else if n > 0 {
			log.Debug().Int("removed", n).Msg("Pruned orphaned vault payloads")
		}
	}()
	return store, vault.NewGateway(store, blobs, vault.WithAuthToken(cfg.AuthToken))
}

// openCovers opens the cover cache. Without a cache dir covers are kept in
// the temp dir instead.
func openCovers() *cache.Cache {
	covers, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Cover cache unavailable, using temp dir")
		return cache.NewCacheAt(filepath.Join(os.TempDir(), cache.AppName), 0)
	}
	return covers
}

func directEpisode() *episode.Episode {
	if *urlFlag == "" && *streamFlag == "" {
		return nil
	}
	src := *urlFlag
	if src == "" {
		src = *streamFlag
	}
	return &episode.Episode{
		ID:             src,
		Title:          *titleFlag,
		AudioURL:       *urlFlag,
		StreamEndpoint: *streamFlag,
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}

	apiClient := api.NewClient(cfg.APIBaseURL, cfg.AuthToken)
	origin, err := player.NewOrigin(apiClient.BaseURL(), cfg.ProxyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	blobs := blob.NewRegistry(origin.String())
	store, gateway := openVault(cfg, blobs)

	covers := openCovers()
	episodes := service.NewEpisodeService(apiClient, covers)
	go episodes.CleanCovers()

	spectrum := ui.NewSpectrum(visualizer.DefaultBars)
	opts := player.Options{
		Graph:       audio.NewGraph(nil, audio.DefaultSampleRate),
		Blobs:       blobs,
		Origin:      origin,
		Fetcher:     apiClient,
		Streams:     apiClient,
		AuthToken:   cfg.AuthToken,
		Visualizer:  visualizer.NewLoop(visualizer.DefaultBars, spectrum.Paint),
		Volume:      cfg.VolumeFraction(),
		Rate:        cfg.PlaybackRate,
		SkipSilence: cfg.SkipSilence,
	}
	episodeID := *episodeFlag
	if episodeID == "" {
		episodeID = cfg.LastEpisode
	}
	uiOpts := ui.Options{
		Config:    cfg,
		Episodes:  episodes,
		Spectrum:  spectrum,
		Episode:   directEpisode(),
		EpisodeID: episodeID,
		Autoplay:  *autoplayFlag,
	}
	if gateway != nil {
		opts.Vault = gateway
		uiOpts.Library = gateway
	}

	shell := player.NewShell(opts)
	podUI := ui.NewUI(shell, uiOpts)
	if gateway != nil {
		gateway.OnStatus(func(string, vault.Status, vault.Progress) { podUI.Refresh() })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, cleaning up...")
		podUI.Shutdown()
	}()

	log.Info().Msg("Starting UI...")
	runErr := podUI.Run()

	shell.Close()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close vault")
		}
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Error running UI")
		os.Exit(1)
	}
	log.Info().Msg("PodVault CLI stopped")
}
