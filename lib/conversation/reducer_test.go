// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/wire"
)

func event(name, data string) sse.Event {
	return sse.Event{Name: name, Data: json.RawMessage(data)}
}

func chunk(id, text string) sse.Event {
	return event(wire.EventMessages,
		fmt.Sprintf(`[{"type":"AIMessageChunk","id":%q,"content":%q},{"langgraph_node":"agent"}]`, id, text))
}

func complete(messages ...string) sse.Event {
	data := "["
	for i, entry := range messages {
		if i > 0 {
			data += ","
		}
		data += entry
	}
	return event(wire.EventMessagesComplete, data+"]")
}

func newTurn(t *testing.T, options ...Option) *Reducer {
	t.Helper()
	reducer := New(options...)
	reducer.BeginTurn(message.Message{ID: "u1", Role: message.RoleUser, Content: message.Text("say hello")})
	return reducer
}

func TestEndToEndChunksThenDuplicateComplete(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	events := []sse.Event{
		chunk("a1", "Hel"),
		chunk("a1", "lo"),
		complete(`{"type":"ai","id":"a1","content":"Hello"}`),
		event(wire.EventDone, `{}`),
	}
	for i, event := range events {
		finished := reducer.Apply(event)
		if want := i == len(events)-1; finished != want {
			t.Errorf("Apply(%s) finished = %v, want %v", event.Name, finished, want)
		}
	}

	turn := reducer.TurnMessages()
	if len(turn) != 1 {
		t.Fatalf("turn = %+v, want exactly one assistant message", turn)
	}
	if turn[0].Role != message.RoleAssistant || turn[0].Text() != "Hello" {
		t.Errorf("assistant = %+v", turn[0])
	}
	if !reducer.Finished() {
		t.Error("turn not finished after done")
	}
	if all := reducer.Messages(); len(all) != 2 || all[0].ID != "u1" {
		t.Errorf("conversation = %+v", all)
	}
}

func TestChunkTextWinsOverComplete(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(chunk("a1", "Hi th"))
	reducer.Apply(complete(
		`{"type":"ai","id":"a1","content":"Hi there"}`,
		`{"type":"tool","id":"t1","content":"ok","tool_call_id":"c1","name":"ls"}`,
	))

	turn := reducer.TurnMessages()
	if len(turn) != 2 {
		t.Fatalf("turn = %+v, want chunked assistant plus tool result", turn)
	}
	if turn[0].Text() != "Hi th" {
		t.Errorf("assistant text = %q, want the chunk-accumulated text", turn[0].Text())
	}
	if turn[1].Role != message.RoleTool || turn[1].ToolCallID != "c1" {
		t.Errorf("non-assistant message in the batch was not applied: %+v", turn[1])
	}
}

func TestCompleteAppliedWithoutChunks(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(event(wire.EventMessagesPartial, `[{"type":"ai","id":"a1","content":"draft"}]`))
	reducer.Apply(complete(`{"type":"ai","id":"a1","content":"final"}`))

	turn := reducer.TurnMessages()
	if len(turn) != 1 || turn[0].Text() != "final" {
		t.Errorf("turn = %+v, want a1 replaced in place with \"final\"", turn)
	}
}

func TestDedupPolicies(t *testing.T) {
	t.Parallel()

	events := []sse.Event{
		chunk("a1", "first"),
		complete(`{"type":"ai","id":"a1","content":"first"}`, `{"type":"ai","id":"a2","content":"second"}`),
	}

	tests := []struct {
		policy DedupPolicy
		want   []string
	}{
		{DedupByTurn, []string{"first"}},
		{DedupByMessageID, []string{"first", "second"}},
	}
	for _, test := range tests {
		t.Run(test.policy.String(), func(t *testing.T) {
			t.Parallel()
			reducer := newTurn(t, WithPolicy(test.policy))
			for _, event := range events {
				reducer.Apply(event)
			}
			var got []string
			for _, entry := range reducer.TurnMessages() {
				got = append(got, entry.Text())
			}
			if fmt.Sprint(got) != fmt.Sprint(test.want) {
				t.Errorf("texts = %q, want %q", got, test.want)
			}
		})
	}
}

func TestParseDedupPolicy(t *testing.T) {
	t.Parallel()

	for _, policy := range []DedupPolicy{DedupByTurn, DedupByMessageID} {
		parsed, ok := ParseDedupPolicy(policy.String())
		if !ok || parsed != policy {
			t.Errorf("ParseDedupPolicy(%q) = %v, %v", policy.String(), parsed, ok)
		}
	}
	if _, ok := ParseDedupPolicy("sometimes"); ok {
		t.Error("unknown policy accepted")
	}
}

func TestUpdatesReplaceTurnMessages(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(chunk("a1", "Let me check"))
	reducer.Apply(event(wire.EventUpdates, `{"messages":[
		{"type":"human","id":"u1","content":"say hello"},
		{"type":"ai","id":"a1","content":"Let me check","tool_calls":[{"id":"c1","function":{"name":"ls","arguments":"{}"}}]},
		{"type":"tool","id":"t1","content":"README.md","tool_call_id":"c1","name":"ls"}
	]}`))

	all := reducer.Messages()
	if len(all) != 3 {
		t.Fatalf("conversation = %+v, want user, assistant, tool (user not duplicated)", all)
	}
	if len(all[1].ToolCalls) != 1 || all[1].ToolCalls[0].Function.Name != "ls" {
		t.Errorf("assistant tool calls = %+v", all[1].ToolCalls)
	}
	if all[2].Role != message.RoleTool {
		t.Errorf("last = %+v, want tool result", all[2])
	}

	// A snapshot without messages changes nothing.
	reducer.Apply(event(wire.EventUpdates, `{"step":2}`))
	reducer.Apply(event(wire.EventUpdates, `[1,2,3]`))
	if got := len(reducer.Messages()); got != 3 {
		t.Errorf("conversation has %d messages after opaque snapshots, want 3", got)
	}
}

func TestToolCallChunksAssembled(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t, WithTools([]string{"write_file"}))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"index":0,"id":"c1","name":"default_api:write","args":""}]}]`))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"index":0,"name":"_file","args":"{\"a\":"}]}]`))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"index":0,"args":"1}"}]}]`))

	turn := reducer.TurnMessages()
	if len(turn) != 1 {
		t.Fatalf("turn = %+v", turn)
	}
	calls := turn[0].ToolCalls
	if len(calls) != 1 {
		t.Fatalf("tool calls = %+v, want one", calls)
	}
	if calls[0].Function.Name != "write_file" || calls[0].Function.Arguments != `{"a":1}` || calls[0].ID != "c1" {
		t.Errorf("tool call = %+v", calls[0])
	}
	if len(turn[0].ToolCallChunks) != 0 {
		t.Error("partial chunks kept alongside the assembled calls")
	}
}

func TestToolNameSplitWithoutAdvertisedTools(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"index":1,"id":"c1","name":"sea","args":""}]}]`))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"index":1,"name":"rch","args":"{\"q\":"}]}]`))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","id":"a1","content":"","tool_call_chunks":[{"index":1,"args":"1}"}]}]`))

	turn := reducer.TurnMessages()
	if len(turn) != 1 || len(turn[0].ToolCalls) != 1 {
		t.Fatalf("turn = %+v", turn)
	}
	call := turn[0].ToolCalls[0]
	if call.ID != "c1" || call.Function.Name != "search" || call.Function.Arguments != `{"q":1}` {
		t.Errorf("tool call = %+v", call)
	}
}

func TestErrorEventAppendsSystemMessage(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(chunk("a1", "partial"))
	if finished := reducer.Apply(event(wire.EventError, `{"error":"model overloaded"}`)); finished {
		t.Error("error event finished the turn")
	}

	turn := reducer.TurnMessages()
	if len(turn) != 2 {
		t.Fatalf("turn = %+v", turn)
	}
	if turn[0].Text() != "partial" {
		t.Errorf("streamed text replaced: %q", turn[0].Text())
	}
	if turn[1].Role != message.RoleSystem || turn[1].Text() != "model overloaded" {
		t.Errorf("system message = %+v", turn[1])
	}

	if !reducer.Apply(event(wire.EventDone, `null`)) {
		t.Error("done did not finish the turn")
	}
}

func TestFilesEventNotifiesCollaborator(t *testing.T) {
	t.Parallel()

	var got wire.Files
	reducer := newTurn(t, WithFilesChanged(func(files wire.Files) {
		got = files
	}))
	reducer.Apply(event(wire.EventFiles, `{"src/app.go":{"code":"package app\n"},"old.go":{"code":"","deleted":true}}`))

	if got["src/app.go"].Code != "package app\n" || !got["old.go"].Deleted {
		t.Errorf("files = %+v", got)
	}
	if len(reducer.TurnMessages()) != 0 {
		t.Error("files event folded into the conversation")
	}
}

func TestNothingFoldedAfterDone(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(chunk("a1", "done soon"))
	reducer.Apply(event(wire.EventDone, `{}`))
	reducer.Apply(chunk("a1", " and more"))
	reducer.Apply(event(wire.EventError, `{"error":"late"}`))

	turn := reducer.TurnMessages()
	if len(turn) != 1 || turn[0].Text() != "done soon" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestAbortKeepsPartialText(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(chunk("a1", "Hel"))
	reducer.Abort()
	reducer.Apply(chunk("a1", "lo"))
	reducer.AppendSystem("connection closed")

	turn := reducer.TurnMessages()
	if len(turn) != 1 || turn[0].Text() != "Hel" {
		t.Errorf("turn = %+v, want only the partial chunk", turn)
	}
	if !reducer.Aborted() || !reducer.Finished() {
		t.Error("abort not recorded")
	}
}

func TestMalformedEventsIgnored(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t)
	reducer.Apply(event(wire.EventMessages, `{"not":"a pair"}`))
	reducer.Apply(event(wire.EventMessages, `[{"unknown":"shape"}]`))
	reducer.Apply(event(wire.EventMessagesComplete, `{"type":"ai"}`))
	reducer.Apply(event(wire.EventFiles, `[]`))
	reducer.Apply(event("heartbeat", `{}`))

	if turn := reducer.TurnMessages(); len(turn) != 0 {
		t.Errorf("turn = %+v, want nothing folded", turn)
	}
	if reducer.Finished() {
		t.Error("malformed events finished the turn")
	}
}

func TestChunksWithoutIDShareOne(t *testing.T) {
	t.Parallel()

	next := 0
	reducer := newTurn(t, WithIDGenerator(func() string {
		next++
		return fmt.Sprintf("id-%d", next)
	}))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","content":"a"}]`))
	reducer.Apply(event(wire.EventMessages, `[{"type":"AIMessageChunk","content":"b"}]`))

	turn := reducer.TurnMessages()
	if len(turn) != 1 || turn[0].Text() != "ab" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestConcurrentReadersDuringApply(t *testing.T) {
	t.Parallel()

	reducer := newTurn(t, WithHistory(nil))
	var group sync.WaitGroup
	group.Add(1)
	go func() {
		defer group.Done()
		for range 200 {
			reducer.Apply(chunk("a1", "x"))
		}
		reducer.Apply(event(wire.EventDone, `{}`))
	}()
	for !reducer.Finished() {
		for _, entry := range reducer.Messages() {
			_ = entry.Text()
		}
	}
	group.Wait()

	if got := len(reducer.TurnMessages()[0].Text()); got != 200 {
		t.Errorf("text length = %d, want 200", got)
	}
}

func TestHistoryIsPriorTurns(t *testing.T) {
	t.Parallel()

	reducer := New(WithHistory([]message.Message{
		{ID: "u0", Role: message.RoleUser, Content: message.Text("earlier")},
		{ID: "a0", Role: message.RoleAssistant, Content: message.Text("reply")},
	}))
	if !reducer.Finished() {
		t.Error("a reducer with no open turn should report finished")
	}
	stored := reducer.BeginTurn(message.Message{Role: message.RoleUser, Content: message.Text("next")})
	if stored.ID == "" {
		t.Error("BeginTurn did not assign an id")
	}
	// A complete assistant message reusing an old id is appended to
	// this turn rather than rewriting history.
	reducer.Apply(complete(`{"type":"ai","id":"a0","content":"new reply"}`))
	all := reducer.Messages()
	if len(all) != 4 || all[1].Text() != "reply" || all[3].Text() != "new reply" {
		t.Errorf("conversation = %+v", all)
	}
}
