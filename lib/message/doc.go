// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package message defines the canonical representation of one
// conversation message and its sub-parts: content (a plain string or
// an ordered list of structured parts), completed tool calls, and
// partial tool-call chunks streamed while the model is still writing
// arguments.
//
// Every other package in the streaming core speaks this model. The
// shape normalizer produces it from the agent runtime's various wire
// shapes; the multiplexer serializes it onto the wire; the client
// reducer folds it into conversation state.
//
// The canonical JSON encoding carries a "type" discriminator
// ("ai", "human", "system", "tool", or "AIMessageChunk") alongside the
// role, so canonical messages are themselves a recognized flat shape
// and normalizing them again is a no-op.
//
// A [Message] with Chunk set is a partial rendering of an assistant
// turn. Once the complete assistant message with tool calls exists,
// partial renderings are superseded, never merged into it.
package message
