// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream turns an agent runtime's mode-tagged stream into the
// ordered event sequence the studio sends to its clients.
//
// A [Source] yields [Item] values tagged with a mode. The
// [Multiplexer] dispatches on the mode:
//
//   - "messages": a [chunk, metadata] pair. Chunks produced inside a
//     suppressed graph node (tool execution by default) are dropped.
//     The rest are normalized and emitted as "messages".
//   - "updates": a state snapshot. A top-level "messages" array is
//     normalized in place and the snapshot emitted as "updates". A
//     snapshot without one is scanned for nested "messages" arrays;
//     anything found is emitted as "messages/complete" before the
//     original snapshot is forwarded unchanged.
//   - anything else is forwarded under an event named after the mode.
//
// When the source ends the multiplexer emits "error" if the source
// failed, "files" if the project changed, and always exactly one
// "done". A [Collector] reconstructs the turn's complete messages from
// the same events for persistence.
package stream
