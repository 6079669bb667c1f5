// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the studio's CBOR configuration.
//
// JSON is the format of everything that crosses the network: chat
// requests, stream events, non-streaming responses. CBOR is the format
// of what the studio keeps for itself, currently persisted
// transcripts. Types shared by both carry `json` tags only;
// fxamacker/cbor falls back to them when no `cbor` tag is present.
//
// Encoding is Core Deterministic (RFC 8949 §4.2), so a transcript
// saved twice produces identical bytes. Decoding into an any target
// produces map[string]any, the same shape encoding/json produces, so
// message content decoded from either format normalizes identically.
package codec
