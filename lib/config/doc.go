// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the switchboard daemon configuration.
//
// Configuration is loaded from a single file specified by either the
// SWITCHBOARD_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search.
//
// Files are YAML. Files ending in .json or .jsonc are read as JSON with
// comments and trailing commas allowed; both formats share one schema.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without an explicit
// production section logs at warn level.
//
// ${VAR} and ${VAR:-default} patterns are expanded in addresses and
// socket paths after loading. No environment variable overrides a
// config value directly.
//
// Key exports:
//
//   - [Config] -- pool, shutdown, control, metrics, and listeners
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends on no other switchboard packages.
package config
