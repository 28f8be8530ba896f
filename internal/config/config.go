// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/parley/internal/instance"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete parley configuration.
type Config struct {
	Engine    EngineConfig     `toml:"engine"`
	Instances []InstanceConfig `toml:"instance"`
}

// EngineConfig holds engine-wide settings.
type EngineConfig struct {
	// DataDir is the root for the SQLite store and notebooks.
	DataDir string `toml:"data_dir"`

	// InstallPrefix is where managed server releases are installed.
	InstallPrefix string `toml:"install_prefix"`

	// CacheDir holds downloaded release archives.
	CacheDir string `toml:"cache_dir"`

	// Username and FullName feed the identity system frame when an
	// instance's share_name policy asks for them.
	Username string `toml:"username"`
	FullName string `toml:"full_name"`
}

// InstanceConfig is the TOML shape of one backend instance.
type InstanceConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Flavour string `toml:"flavour"`
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`

	ModelDir string            `toml:"model_dir"`
	Env      map[string]string `toml:"env"`

	DefaultModel string `toml:"default_model"`
	TitleModel   string `toml:"title_model"`

	Temperature float64 `toml:"temperature"`
	Seed        int     `toml:"seed"`
	NumCtx      int     `toml:"num_ctx"`
	KeepAlive   int     `toml:"keep_alive"`

	OverrideParameters   bool   `toml:"override_parameters"`
	Think                bool   `toml:"think"`
	Expose               bool   `toml:"expose"`
	ShareName            string `toml:"share_name"`
	ShowResponseMetadata bool   `toml:"show_response_metadata"`
}

// ToInstance converts the TOML shape into the domain type.
func (ic InstanceConfig) ToInstance() instance.Instance {
	return instance.Instance{
		ID:                   ic.ID,
		Name:                 ic.Name,
		Flavour:              instance.Flavour(ic.Flavour),
		BaseURL:              ic.BaseURL,
		Token:                ic.Token,
		ModelDir:             ic.ModelDir,
		Env:                  ic.Env,
		DefaultModel:         ic.DefaultModel,
		TitleModel:           ic.TitleModel,
		Temperature:          ic.Temperature,
		Seed:                 ic.Seed,
		NumCtx:               ic.NumCtx,
		KeepAlive:            ic.KeepAlive,
		OverrideParameters:   ic.OverrideParameters,
		Think:                ic.Think,
		Expose:               ic.Expose,
		ShareName:            instance.ShareName(ic.ShareName),
		ShowResponseMetadata: ic.ShowResponseMetadata,
	}
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values: one managed
// instance on the conventional local port.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".parley")

	return &Config{
		Engine: EngineConfig{
			DataDir:       dataDir,
			InstallPrefix: filepath.Join(dataDir, "ollama"),
			CacheDir:      filepath.Join(dataDir, "cache"),
		},
		Instances: []InstanceConfig{
			{
				ID:          "local",
				Name:        "Local",
				Flavour:     string(instance.FlavourManaged),
				BaseURL:     "http://127.0.0.1:11434",
				ModelDir:    filepath.Join(dataDir, "models"),
				Temperature: 0.7,
				NumCtx:      2048,
				KeepAlive:   300,
				ShareName:   string(instance.ShareNone),
			},
		},
	}
}

// fillDefaults fills missing values in a decoded config.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Engine.DataDir == "" {
		cfg.Engine.DataDir = defaults.Engine.DataDir
	}
	if cfg.Engine.InstallPrefix == "" {
		cfg.Engine.InstallPrefix = filepath.Join(cfg.Engine.DataDir, "ollama")
	}
	if cfg.Engine.CacheDir == "" {
		cfg.Engine.CacheDir = filepath.Join(cfg.Engine.DataDir, "cache")
	}

	for i := range cfg.Instances {
		ic := &cfg.Instances[i]
		if ic.Flavour == "" {
			ic.Flavour = string(instance.FlavourExternal)
		}
		if ic.ShareName == "" {
			ic.ShareName = string(instance.ShareNone)
		}
		if ic.KeepAlive == 0 {
			ic.KeepAlive = 300
		}
		if ic.Flavour == string(instance.FlavourManaged) && ic.ModelDir == "" {
			ic.ModelDir = filepath.Join(cfg.Engine.DataDir, "models")
		}
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the parley configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// ConfigPath returns the path to the TOML config file, honouring the
// PARLEY_CONFIG override.
func ConfigPath() (string, error) {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the configuration from the config file, falling back to
// defaults when it does not exist. Environment overrides are applied
// last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to the default config file with
// restrictive permissions; tokens live in this file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# parley configuration file")
	fmt.Fprintln(file, "# Generated by parley - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// ENV OVERRIDES + VALIDATION
// =============================================================================

// ApplyEnvOverrides applies PARLEY_* environment variables over the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PARLEY_DATA_DIR"); v != "" {
		c.Engine.DataDir = v
	}
	if v := os.Getenv("PARLEY_INSTALL_PREFIX"); v != "" {
		c.Engine.InstallPrefix = v
	}
	if v := os.Getenv("PARLEY_CACHE_DIR"); v != "" {
		c.Engine.CacheDir = v
	}
	if v := os.Getenv("PARLEY_USERNAME"); v != "" {
		c.Engine.Username = v
	}
	if v := os.Getenv("PARLEY_FULL_NAME"); v != "" {
		c.Engine.FullName = v
	}
}

// Validate checks the configuration for problems.
func (c *Config) Validate() error {
	if c.Engine.DataDir == "" {
		return fmt.Errorf("engine.data_dir must not be empty")
	}

	seen := make(map[string]bool, len(c.Instances))
	for _, ic := range c.Instances {
		if ic.ID == "" {
			return fmt.Errorf("instance %q: id must not be empty", ic.Name)
		}
		if seen[ic.ID] {
			return fmt.Errorf("duplicate instance id %q", ic.ID)
		}
		seen[ic.ID] = true

		inst := ic.ToInstance()
		if err := inst.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Instance returns the configured instance with the given id.
func (c *Config) Instance(id string) (instance.Instance, bool) {
	for _, ic := range c.Instances {
		if ic.ID == id {
			return ic.ToInstance(), true
		}
	}
	return instance.Instance{}, false
}
