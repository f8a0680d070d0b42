package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

const (
	AppName         = "PodVault CLI"
	AppTagline      = "Terminal podcast player"
	AppDescription  = "A terminal podcast player with offline listening"
	AppProjectURL   = "https://github.com/glebovdev/podvault-cli"
	AppProjectShort = "github.com/glebovdev/podvault-cli"

	ConfigDir      = ".config/podvault"
	ConfigFileName = "config.yml"
	DefaultVolume  = 70
	MinVolume      = 0
	MaxVolume      = 100
	DefaultRate    = 1.0

	DefaultAPIBaseURL = "https://api.podvault.app"
	DefaultProxyPath  = "/api/v1/podcasts/proxy?url="
	DefaultVaultName  = "podvault-audio-v1"

	// TokenEnv overrides the configured auth token.
	TokenEnv = "PODVAULT_TOKEN"
)

// rates mirrors the transport's rate set so a hand-edited config cannot
// select a speed the player would refuse.
var rates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// NormalizeRate returns rate if it is one of the supported speeds, else 1.
func NormalizeRate(rate float64) float64 {
	for _, r := range rates {
		if r == rate {
			return rate
		}
	}
	return DefaultRate
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/podvault-cli/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Theme struct {
	Background       string `yaml:"background"`
	Foreground       string `yaml:"foreground"`
	Borders          string `yaml:"borders"`
	Highlight        string `yaml:"highlight"`
	MutedVolume      string `yaml:"muted_volume"`
	HeaderBackground string `yaml:"header_background"`
	HelpBackground   string `yaml:"help_background"`
	HelpForeground   string `yaml:"help_foreground"`
	HelpHotkey       string `yaml:"help_hotkey"`
	Visualizer       string `yaml:"visualizer"`
	SavedBadge       string `yaml:"saved_badge"`
	ErrorForeground  string `yaml:"error_foreground"`
}

type Config struct {
	Volume       int     `yaml:"volume"`
	PlaybackRate float64 `yaml:"playback_rate"`
	SkipSilence  bool    `yaml:"skip_silence"`
	APIBaseURL   string  `yaml:"api_base_url"`
	ProxyPath    string  `yaml:"proxy_path"`
	AuthToken    string  `yaml:"auth_token,omitempty"`
	VaultName    string  `yaml:"vault_name"`
	LastEpisode  string  `yaml:"last_episode"`
	Theme        Theme   `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return withEnv(DefaultConfig()), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return withEnv(DefaultConfig()), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return withEnv(DefaultConfig()), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return withEnv(DefaultConfig()), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.normalize()
	return withEnv(cfg), nil
}

func (c *Config) normalize() {
	c.Volume = ClampVolume(c.Volume)
	c.PlaybackRate = NormalizeRate(c.PlaybackRate)
	c.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.VaultName == "" {
		c.VaultName = DefaultVaultName
	}
}

func withEnv(c *Config) *Config {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		c.AuthToken = token
	}
	return c
}

// Save writes the configuration to disk atomically. A token that came from
// the environment is written too if it is set on c.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := renameio.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:       DefaultVolume,
		PlaybackRate: DefaultRate,
		SkipSilence:  false,
		APIBaseURL:   DefaultAPIBaseURL,
		ProxyPath:    DefaultProxyPath,
		VaultName:    DefaultVaultName,
		Theme: Theme{
			Background:       "#1a1b25",
			Foreground:       "#a3aacb",
			Borders:          "#40445b",
			Highlight:        "#ff9d65",
			MutedVolume:      "#fe0702",
			HeaderBackground: "#473533",
			HelpBackground:   "#322f45",
			HelpForeground:   "#9aa3c6",
			HelpHotkey:       "#ff9d65",
			Visualizer:       "#7aa2f7",
			SavedBadge:       "#9ece6a",
			ErrorForeground:  "#f7768e",
		},
	}
}

// VolumeFraction returns the volume as a gain in [0, 1].
func (c *Config) VolumeFraction() float64 {
	return float64(ClampVolume(c.Volume)) / MaxVolume
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
