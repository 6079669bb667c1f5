// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentstudio/studio/lib/codec"
)

// Content is a message body: either a plain string or an ordered list
// of structured parts. Parts are kept as decoded JSON values (usually
// map[string]any with a "type" key) because the core only needs their
// text; everything else passes through untouched.
//
// The zero value is the empty string.
type Content struct {
	text  string
	parts []any
}

// Text returns string content.
func Text(text string) Content {
	return Content{text: text}
}

// Parts returns structured content. A nil or empty list still encodes
// as a JSON array.
func Parts(parts ...any) Content {
	if parts == nil {
		parts = []any{}
	}
	return Content{parts: parts}
}

// TextPart builds the structured part for a run of text.
func TextPart(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// HasParts reports whether the content is structured.
func (content Content) HasParts() bool {
	return content.parts != nil
}

// Parts returns the structured parts, or nil for string content.
func (content Content) Parts() []any {
	return content.parts
}

// IsEmpty reports whether the content flattens to the empty string
// and carries no parts.
func (content Content) IsEmpty() bool {
	return content.text == "" && len(content.parts) == 0
}

// String flattens the content to text. String parts and parts with a
// string "text" field contribute their text in order; other parts
// (images, tool references) contribute nothing.
func (content Content) String() string {
	if content.parts == nil {
		return content.text
	}
	var builder strings.Builder
	for _, part := range content.parts {
		switch typed := part.(type) {
		case string:
			builder.WriteString(typed)
		case map[string]any:
			if text, ok := typed["text"].(string); ok {
				builder.WriteString(text)
			}
		}
	}
	return builder.String()
}

// Append concatenates delta onto content. Two strings concatenate as
// strings. If either side is structured the result is structured, with
// string sides converted to a single text part.
func (content Content) Append(delta Content) Content {
	if content.parts == nil && delta.parts == nil {
		return Text(content.text + delta.text)
	}
	parts := make([]any, 0, len(content.parts)+len(delta.parts)+1)
	parts = append(parts, content.asParts()...)
	parts = append(parts, delta.asParts()...)
	return Content{parts: parts}
}

func (content Content) asParts() []any {
	if content.parts != nil {
		return content.parts
	}
	if content.text == "" {
		return nil
	}
	return []any{TextPart(content.text)}
}

func (content Content) clone() Content {
	if content.parts == nil {
		return content
	}
	return Content{text: content.text, parts: append([]any{}, content.parts...)}
}

// MarshalJSON encodes string content as a JSON string and structured
// content as a JSON array.
func (content Content) MarshalJSON() ([]byte, error) {
	if content.parts != nil {
		return json.Marshal(content.parts)
	}
	return json.Marshal(content.text)
}

// UnmarshalJSON accepts a string, an array of parts, or null. Any
// other JSON value is kept as its literal text.
func (content *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*content = Content{}
	case trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("message: content string: %w", err)
		}
		*content = Text(text)
	case trimmed[0] == '[':
		var parts []any
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("message: content parts: %w", err)
		}
		*content = Parts(parts...)
	default:
		*content = Text(string(trimmed))
	}
	return nil
}

// MarshalCBOR mirrors MarshalJSON for the transcript store.
func (content Content) MarshalCBOR() ([]byte, error) {
	if content.parts != nil {
		return codec.Marshal(content.parts)
	}
	return codec.Marshal(content.text)
}

// UnmarshalCBOR mirrors UnmarshalJSON for the transcript store.
func (content *Content) UnmarshalCBOR(data []byte) error {
	var text string
	if err := codec.Unmarshal(data, &text); err == nil {
		*content = Text(text)
		return nil
	}
	var parts []any
	if err := codec.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message: content cbor: %w", err)
	}
	*content = Parts(parts...)
	return nil
}
