// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse implements the line-oriented text transport between the
// studio server and its clients.
//
// Every frame is exactly
//
//	event: <name>\n
//	data: <JSON>\n
//	\n
//
// [Writer] produces frames on an HTTP response, sending the streaming
// headers once before the first frame and flushing after every frame
// so the first byte is never delayed by buffering. A JSON payload that
// contains raw newlines is spread across several data: lines.
//
// [Parser] consumes the same framing incrementally from arbitrary byte
// chunks. Bytes are decoded as UTF-8 with a streaming decoder that
// carries an incomplete trailing sequence over to the next chunk, so
// a multi-byte character split across two network reads decodes
// correctly. Frames without a data: line are ignored, frames without
// an event: line are named "message", and a frame whose data is not
// valid JSON is logged and skipped. [Scanner] wraps a Parser around an
// [io.Reader] with the iteration shape of bufio.Scanner.
package sse

import "encoding/json"

// Event is one parsed frame.
type Event struct {
	// Name is the frame's event name, "message" when the frame did
	// not set one.
	Name string

	// Data is the frame's JSON payload with multiple data: lines
	// joined by newlines.
	Data json.RawMessage
}

// DefaultEventName is the name of a frame that carries no event: line.
const DefaultEventName = "message"
