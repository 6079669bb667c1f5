// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"

	"github.com/agentstudio/studio/lib/message"
)

func TestCollectorAssemblesChunks(t *testing.T) {
	t.Parallel()

	collector := NewCollector([]string{"write_file"})
	collector.AddChunk(message.Message{ID: "m1", Role: message.RoleAssistant, Chunk: true, Content: message.Text("Writing ")})
	collector.AddChunk(message.Message{ID: "m1", Role: message.RoleAssistant, Chunk: true, Content: message.Text("it"),
		ToolCallChunks: []message.ToolCallChunk{{Index: 1, ID: "c1", Name: "default_api:write_file", Arguments: `{"path":`}}})
	collector.AddChunk(message.Message{ID: "m1", Role: message.RoleAssistant, Chunk: true,
		ToolCallChunks: []message.ToolCallChunk{{Index: 1, Arguments: `"a.go"}`}}})

	messages := collector.Messages()
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	got := messages[0]
	if got.Chunk {
		t.Error("collected message is still marked as a chunk")
	}
	if got.Text() != "Writing it" {
		t.Errorf("text = %q", got.Text())
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Function.Name != "write_file" ||
		got.ToolCalls[0].Function.Arguments != `{"path":"a.go"}` || got.ToolCalls[0].ID != "c1" {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
}

func TestCollectorKeepsSplitNameWithoutTools(t *testing.T) {
	t.Parallel()

	collector := NewCollector(nil)
	for _, chunk := range []message.ToolCallChunk{
		{Index: 0, ID: "c1", Name: "sea"},
		{Index: 0, Name: "rch", Arguments: `{"q":`},
		{Index: 0, Arguments: "1}"},
	} {
		collector.AddChunk(message.Message{ID: "m1", Role: message.RoleAssistant, Chunk: true,
			ToolCallChunks: []message.ToolCallChunk{chunk}})
	}

	messages := collector.Messages()
	if len(messages) != 1 || len(messages[0].ToolCalls) != 1 {
		t.Fatalf("messages = %+v", messages)
	}
	if call := messages[0].ToolCalls[0]; call.Function.Name != "search" || call.Function.Arguments != `{"q":1}` {
		t.Errorf("tool call = %+v", call)
	}
}

func TestCollectorCompleteSupersedesChunks(t *testing.T) {
	t.Parallel()

	collector := NewCollector(nil)
	collector.AddComplete(message.Message{ID: "u1", Role: message.RoleUser, Content: message.Text("hi")})
	collector.AddChunk(message.Message{ID: "a1", Role: message.RoleAssistant, Chunk: true, Content: message.Text("Hel")})
	collector.AddComplete(message.Message{ID: "a1", Role: message.RoleAssistant, Content: message.Text("Hello")})
	collector.AddChunk(message.Message{ID: "a1", Role: message.RoleAssistant, Chunk: true, Content: message.Text("!!")})
	collector.AddComplete(message.Message{Role: message.RoleSystem, Content: message.Text("no id")})

	messages := collector.Messages()
	if len(messages) != 2 {
		t.Fatalf("got %+v, want u1 and a1", messages)
	}
	if messages[0].ID != "u1" || messages[1].ID != "a1" {
		t.Errorf("order = %s, %s; want first-seen order", messages[0].ID, messages[1].ID)
	}
	if messages[1].Text() != "Hello" {
		t.Errorf("a1 = %q, want the complete version", messages[1].Text())
	}
	if collector.Len() != 2 {
		t.Errorf("Len = %d", collector.Len())
	}
}
