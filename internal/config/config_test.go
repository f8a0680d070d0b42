package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Volume != DefaultVolume {
		t.Errorf("DefaultConfig().Volume = %d, want %d", cfg.Volume, DefaultVolume)
	}
	if cfg.PlaybackRate != DefaultRate {
		t.Errorf("DefaultConfig().PlaybackRate = %v, want %v", cfg.PlaybackRate, DefaultRate)
	}
	if cfg.SkipSilence {
		t.Errorf("DefaultConfig().SkipSilence = %v, want false", cfg.SkipSilence)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("DefaultConfig().APIBaseURL = %q, want %q", cfg.APIBaseURL, DefaultAPIBaseURL)
	}
	if cfg.ProxyPath != DefaultProxyPath {
		t.Errorf("DefaultConfig().ProxyPath = %q, want %q", cfg.ProxyPath, DefaultProxyPath)
	}
	if cfg.VaultName != DefaultVaultName {
		t.Errorf("DefaultConfig().VaultName = %q, want %q", cfg.VaultName, DefaultVaultName)
	}
	if cfg.LastEpisode != "" {
		t.Errorf("DefaultConfig().LastEpisode = %q, want empty string", cfg.LastEpisode)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(TokenEnv, "")

	testCfg := DefaultConfig()
	testCfg.Volume = 85
	testCfg.PlaybackRate = 1.5
	testCfg.SkipSilence = true
	testCfg.LastEpisode = "42"
	testCfg.AuthToken = "saved-token"

	if err := testCfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, ConfigDir, ConfigFileName)
	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %v, want 0600", perm)
	}

	loadedCfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loadedCfg.Volume != 85 {
		t.Errorf("Load().Volume = %d, want %d", loadedCfg.Volume, 85)
	}
	if loadedCfg.PlaybackRate != 1.5 {
		t.Errorf("Load().PlaybackRate = %v, want %v", loadedCfg.PlaybackRate, 1.5)
	}
	if !loadedCfg.SkipSilence {
		t.Error("Load().SkipSilence = false, want true")
	}
	if loadedCfg.LastEpisode != "42" {
		t.Errorf("Load().LastEpisode = %q, want %q", loadedCfg.LastEpisode, "42")
	}
	if loadedCfg.AuthToken != "saved-token" {
		t.Errorf("Load().AuthToken = %q, want %q", loadedCfg.AuthToken, "saved-token")
	}
}

func TestLoadNonExistentConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(TokenEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Logf("Load() error (expected): %v", err)
	}

	if cfg.Volume != DefaultVolume {
		t.Errorf("Load() with non-existent file returned Volume = %d, want %d", cfg.Volume, DefaultVolume)
	}
	if cfg.AuthToken != "" {
		t.Errorf("Load() with non-existent file returned AuthToken = %q, want empty string", cfg.AuthToken)
	}
}

func TestTokenEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	saved := DefaultConfig()
	saved.AuthToken = "from-file"
	if err := saved.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Setenv(TokenEnv, " from-env ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AuthToken != "from-env" {
		t.Errorf("Load().AuthToken = %q, want %q", cfg.AuthToken, "from-env")
	}
}

func TestVolumeValidation(t *testing.T) {
	tests := []struct {
		name           string
		inputVolume    int
		expectedVolume int
	}{
		{"valid volume 50", 50, 50},
		{"valid volume 0", 0, 0},
		{"valid volume 100", 100, 100},
		{"negative volume", -10, 0},
		{"volume over 100", 150, 100},
		{"volume way over 100", 1000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Setenv("HOME", tmpDir)

			testCfg := DefaultConfig()
			testCfg.Volume = tt.inputVolume

			if err := testCfg.Save(); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			loadedCfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if loadedCfg.Volume != tt.expectedVolume {
				t.Errorf("Load().Volume = %d, want %d", loadedCfg.Volume, tt.expectedVolume)
			}
		})
	}
}

func TestNormalizeRate(t *testing.T) {
	tests := []struct {
		rate, want float64
	}{
		{0.5, 0.5},
		{0.75, 0.75},
		{1, 1},
		{1.25, 1.25},
		{2, 2},
		{0, 1},
		{1.1, 1},
		{3, 1},
		{-1, 1},
	}
	for _, tt := range tests {
		if got := NormalizeRate(tt.rate); got != tt.want {
			t.Errorf("NormalizeRate(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestLoadNormalizesFields(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configDir := filepath.Join(tmpDir, ConfigDir)
	_ = os.MkdirAll(configDir, 0755)
	yml := []byte("volume: 70\nplayback_rate: 3\napi_base_url: \"https://api.example/ \"\nvault_name: \"\"\n")
	_ = os.WriteFile(filepath.Join(configDir, ConfigFileName), yml, 0644)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PlaybackRate != DefaultRate {
		t.Errorf("Load().PlaybackRate = %v, want %v", cfg.PlaybackRate, DefaultRate)
	}
	if cfg.APIBaseURL != "https://api.example" {
		t.Errorf("Load().APIBaseURL = %q, want %q", cfg.APIBaseURL, "https://api.example")
	}
	if cfg.VaultName != DefaultVaultName {
		t.Errorf("Load().VaultName = %q, want %q", cfg.VaultName, DefaultVaultName)
	}
	if cfg.ProxyPath != DefaultProxyPath {
		t.Errorf("Load().ProxyPath = %q, want default kept", cfg.ProxyPath)
	}
}

func TestVolumeFraction(t *testing.T) {
	tests := []struct {
		volume int
		want   float64
	}{
		{0, 0},
		{50, 0.5},
		{100, 1},
		{150, 1},
	}
	for _, tt := range tests {
		cfg := &Config{Volume: tt.volume}
		if got := cfg.VolumeFraction(); got != tt.want {
			t.Errorf("VolumeFraction() with volume %d = %v, want %v", tt.volume, got, tt.want)
		}
	}
}

func TestThemeDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Logf("Load() error (expected): %v", err)
	}

	if cfg.Theme.Background != "#1a1b25" {
		t.Errorf("Theme.Background = %q, want %q", cfg.Theme.Background, "#1a1b25")
	}
	if cfg.Theme.Highlight != "#ff9d65" {
		t.Errorf("Theme.Highlight = %q, want %q", cfg.Theme.Highlight, "#ff9d65")
	}
	if cfg.Theme.MutedVolume != "#fe0702" {
		t.Errorf("Theme.MutedVolume = %q, want %q", cfg.Theme.MutedVolume, "#fe0702")
	}
	if cfg.Theme.Visualizer == "" {
		t.Error("Theme.Visualizer is empty")
	}
}

func TestThemePersistence(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	testCfg := DefaultConfig()
	testCfg.Theme.Background = "black"
	testCfg.Theme.Visualizer = "green"

	if err := testCfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loadedCfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loadedCfg.Theme.Background != "black" {
		t.Errorf("Theme.Background = %q, want %q", loadedCfg.Theme.Background, "black")
	}
	if loadedCfg.Theme.Visualizer != "green" {
		t.Errorf("Theme.Visualizer = %q, want %q", loadedCfg.Theme.Visualizer, "green")
	}
}

func TestGetColor(t *testing.T) {
	tests := []struct {
		name     string
		colorStr string
		wantDflt bool
	}{
		{"empty string returns default", "", true},
		{"default keyword returns default", "default", true},
		{"named color red", "red", false},
		{"hex color", "#FF0000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetColor(tt.colorStr)
			if (result == 0) != tt.wantDflt {
				t.Errorf("GetColor(%q) = %v, want default %v", tt.colorStr, result, tt.wantDflt)
			}
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configDir := filepath.Join(tmpDir, ConfigDir)
	_ = os.MkdirAll(configDir, 0755)
	configPath := filepath.Join(configDir, ConfigFileName)

	invalidYAML := []byte("this is not: valid: yaml: [")
	_ = os.WriteFile(configPath, invalidYAML, 0644)

	cfg, err := Load()
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}

	if cfg.Volume != DefaultVolume {
		t.Errorf("Load() with invalid YAML returned Volume = %d, want default %d", cfg.Volume, DefaultVolume)
	}
}

func TestGetConfigPath(t *testing.T) {
	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if !filepath.IsAbs(path) {
		t.Errorf("GetConfigPath() = %q, want absolute path", path)
	}
	if filepath.Base(filepath.Dir(path)) != "podvault" {
		t.Errorf("GetConfigPath() = %q, want podvault directory", path)
	}
}
