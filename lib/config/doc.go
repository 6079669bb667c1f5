// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the studio
// server and terminal client.
//
// Configuration is loaded from a single file specified by either the
// STUDIO_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${STUDIO_ROOT}, and ${VAR:-default} patterns are expanded.
//
// This package depends on no other studio packages.
package config
