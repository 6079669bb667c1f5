// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package shape normalizes the wire shapes an agent runtime uses for
// messages and message chunks into the canonical [message.Message].
//
// Two shapes are recognized, tried in priority order:
//
//   - Flat: an object whose "type" is one of ai, human, system, tool,
//     or AIMessageChunk, with sibling content/tool_calls/... fields.
//     The canonical JSON encoding of message.Message is this shape.
//   - Constructor: a serialized-class envelope with lc: 1,
//     type: "constructor", an id path whose last element names the
//     concrete class, and the real fields under "kwargs".
//
// Anything else is unrecognized: [Normalize] reports ok=false and the
// caller skips the item. Normalization never fails loudly. A nested
// value that only looks like JSON (a content string starting with
// "[") is decoded when it parses as structured parts and kept as its
// literal text otherwise.
//
// [FindMessages] is a compatibility shim for orchestration layers that
// bury a "messages" array somewhere inside a state snapshot. It walks
// the object graph with depth and width bounds so that pathological
// payloads cannot drive unbounded recursion.
package shape
