// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for studio
// binaries.
//
// Version information is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/agentstudio/studio/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// The values default to "unknown" and "0.1.0-dev" in development
// builds and test runs.
package version
