// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for studio binaries:
// fatal error reporting before the structured logger exists, and the
// logger constructors both binaries share.
package process
