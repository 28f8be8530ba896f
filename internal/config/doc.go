// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for parley.
//
// Configuration is a single TOML file with an [engine] block and one
// [[instance]] block per backend endpoint, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: top-level configuration ([engine] + [[instance]])
//   - EngineConfig: engine-wide paths and identity
//   - InstanceConfig: TOML shape of one backend instance
//   - Watcher: fsnotify-based hot reload
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PARLEY_*)
//   - ~/.parley/config.toml (or PARLEY_CONFIG)
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access instances:
//
//	inst, ok := cfg.Instance("local")
package config
