// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package service runs the studio HTTP listener.
//
// [HTTPServer] binds a TCP address, signals readiness through
// [HTTPServer.Ready], and on context cancellation drains in-flight
// requests for a bounded time before force-closing the event streams
// that remain open.
package service
