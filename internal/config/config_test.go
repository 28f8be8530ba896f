// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/instance"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
[engine]
data_dir = "/tmp/parley-test"
username = "ada"

[[instance]]
id = "work"
name = "Workstation"
flavour = "external"
base_url = "http://10.0.0.5:11434"
default_model = "qwen3:8b"
think = true
share_name = "username"

[[instance]]
id = "cloud"
name = "Hosted"
flavour = "cloud"
base_url = "https://api.example.com"
token = "sk-test"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.DataDir != "/tmp/parley-test" {
		t.Errorf("data_dir = %q", cfg.Engine.DataDir)
	}
	if cfg.Engine.InstallPrefix != filepath.Join("/tmp/parley-test", "ollama") {
		t.Errorf("install_prefix default = %q", cfg.Engine.InstallPrefix)
	}
	if len(cfg.Instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(cfg.Instances))
	}

	work, ok := cfg.Instance("work")
	if !ok {
		t.Fatal("instance 'work' missing")
	}
	if work.Flavour != instance.FlavourExternal {
		t.Errorf("flavour = %q", work.Flavour)
	}
	if !work.Think {
		t.Error("think flag lost")
	}
	if work.ShareName != instance.ShareUsername {
		t.Errorf("share_name = %q", work.ShareName)
	}
	if work.KeepAlive != 300 {
		t.Errorf("keep_alive default = %d, want 300", work.KeepAlive)
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	path := writeConfig(t, `
[[instance]]
id = "a"
flavour = "external"
base_url = "http://x"

[[instance]]
id = "a"
flavour = "external"
base_url = "http://y"
`)

	if _, err := LoadFromPath(path); err == nil {
		t.Error("duplicate instance ids accepted")
	}
}

func TestLoadRejectsCloudWithoutToken(t *testing.T) {
	path := writeConfig(t, `
[[instance]]
id = "c"
flavour = "cloud"
base_url = "https://api.example.com"
`)

	if _, err := LoadFromPath(path); err == nil {
		t.Error("cloud instance without token accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_DATA_DIR", "/custom/data")
	t.Setenv("PARLEY_USERNAME", "grace")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Engine.DataDir != "/custom/data" {
		t.Errorf("data_dir = %q", cfg.Engine.DataDir)
	}
	if cfg.Engine.Username != "grace" {
		t.Errorf("username = %q", cfg.Engine.Username)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Engine.DataDir = t.TempDir()
	cfg.Engine.Username = "ada"
	cfg.Instances[0].DefaultModel = "llama3.2:latest"

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Engine.Username != "ada" {
		t.Errorf("username = %q", loaded.Engine.Username)
	}
	if loaded.Instances[0].DefaultModel != "llama3.2:latest" {
		t.Errorf("default_model = %q", loaded.Instances[0].DefaultModel)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	initial := `
[engine]
data_dir = "` + dir + `"
username = "before"
`
	if err := os.WriteFile(path, []byte(initial), 0600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	updated := `
[engine]
data_dir = "` + dir + `"
username = "after"
`
	if err := os.WriteFile(path, []byte(updated), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Engine.Username != "after" {
			t.Errorf("reloaded username = %q", cfg.Engine.Username)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload delivered")
	}
}

func TestWatchIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\ndata_dir = \""+dir+"\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	calls := make(chan struct{}, 1)
	w, err := Watch(path, func(*Config) { calls <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("not = [valid toml"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-calls:
		t.Error("reload fired for an unparseable config")
	case <-time.After(time.Second):
	}
}
