// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Stream modes with dedicated handling. Any other mode is forwarded
// unchanged under an event named after it.
const (
	ModeMessages = "messages"
	ModeUpdates  = "updates"
)

// Item is one element of an agent runtime's stream.
//
// Payload is usually decoded JSON (map[string]any, []any, string,
// float64, bool, nil) or an undecoded json.RawMessage. A []byte
// payload is a transport framing artifact and is skipped.
type Item struct {
	Mode    string
	Payload any
}

// Source yields stream items. Next returns io.EOF when the stream is
// complete. The multiplexer calls Close exactly once when it stops
// reading, even if iteration ended early.
type Source interface {
	Next(ctx context.Context) (Item, error)
	Close() error
}

// sliceSource replays a fixed list of items.
type sliceSource struct {
	items  []Item
	offset int
}

// FromItems returns a Source that yields items in order.
func FromItems(items ...Item) Source {
	return &sliceSource{items: items}
}

func (source *sliceSource) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if source.offset >= len(source.items) {
		return Item{}, io.EOF
	}
	item := source.items[source.offset]
	source.offset++
	return item, nil
}

func (source *sliceSource) Close() error { return nil }

// ItemsFromObject converts a single JSON object whose keys are modes
// into items, one per key, in document order. This is the batch form
// some runtimes return in place of an async stream.
func ItemsFromObject(data []byte) ([]Item, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("stream: reading mode object: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("stream: mode object must be a JSON object, got %v", token)
	}

	var items []Item
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("stream: reading mode name: %w", err)
		}
		mode, _ := keyToken.(string)
		var payload json.RawMessage
		if err := decoder.Decode(&payload); err != nil {
			return nil, fmt.Errorf("stream: reading %q payload: %w", mode, err)
		}
		items = append(items, Item{Mode: mode, Payload: payload})
	}
	if _, err := decoder.Token(); err != nil {
		return nil, fmt.Errorf("stream: closing mode object: %w", err)
	}
	return items, nil
}
