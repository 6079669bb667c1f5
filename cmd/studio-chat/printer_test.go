// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/agentstudio/studio/lib/conversation"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/wire"
)

func TestPrinterStreamsTurn(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	var display *printer
	reducer := conversation.New(conversation.WithFilesChanged(func(files wire.Files) {
		display.files(files)
	}))
	reducer.BeginTurn(message.Message{Role: message.RoleUser, Content: message.Text("fix it")})
	display = newPrinter(&out, reducer)

	events := []sse.Event{
		{Name: wire.EventMessages, Data: []byte(`[{"type":"AIMessageChunk","id":"a1","content":"Fix"},{}]`)},
		{Name: wire.EventMessages, Data: []byte(`[{"type":"AIMessageChunk","id":"a1","content":"ing"},{}]`)},
		{Name: wire.EventMessages, Data: []byte(`[{"type":"AIMessageChunk","id":"a1","content":"",` +
			`"tool_call_chunks":[{"id":"c1","name":"write_file","args":"{\"path\":\"a.go\"}","index":0}]},{}]`)},
		// Chunks already rendered a1, so its complete version is dropped.
		{Name: wire.EventMessagesComplete, Data: []byte(`[` +
			`{"type":"ai","id":"a1","content":"Fixing (final)"},` +
			`{"type":"tool","id":"t1","name":"write_file","content":"ok\nmore","tool_call_id":"c1"}]`)},
		{Name: wire.EventFiles, Data: []byte(`{"a.go":{"code":"x"},"b.go":{"deleted":true}}`)},
		{Name: wire.EventError, Data: []byte(`{"error":"model overloaded"}`)},
		{Name: wire.EventDone, Data: []byte(`{}`)},
	}
	for _, event := range events {
		reducer.Apply(event)
		display.refresh()
	}
	display.finish()

	want := "Fixing\n" +
		"  -> write_file({\"path\":\"a.go\"})\n" +
		"  [write_file result] ok ...\n" +
		"  files written: a.go\n" +
		"  files deleted: b.go\n" +
		"! model overloaded\n"
	if got := out.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}

func TestPrinterMarksInterruptedTurn(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	reducer := conversation.New()
	reducer.BeginTurn(message.Message{Role: message.RoleUser, Content: message.Text("hi")})
	display := newPrinter(&out, reducer)

	reducer.Apply(sse.Event{Name: wire.EventMessages, Data: []byte(`[{"type":"AIMessageChunk","id":"a1","content":"Hel"},{}]`)})
	display.refresh()
	reducer.Abort()
	display.finish()

	if got, want := out.String(), "Hel\n(interrupted)\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPrinterWaitsForToolNameToSettle(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	reducer := conversation.New()
	reducer.BeginTurn(message.Message{Role: message.RoleUser, Content: message.Text("find q")})
	display := newPrinter(&out, reducer)

	for _, data := range []string{
		`[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"id":"c1","name":"sea","index":0}]},{}]`,
		`[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"name":"rch","args":"{\"q\":","index":0}]},{}]`,
		`[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"args":"1}","index":0}]},{}]`,
	} {
		reducer.Apply(sse.Event{Name: wire.EventMessages, Data: []byte(data)})
		display.refresh()
	}
	reducer.Apply(sse.Event{Name: wire.EventDone, Data: []byte(`{}`)})
	display.finish()

	if got, want := out.String(), "  -> search({\"q\":1})\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
