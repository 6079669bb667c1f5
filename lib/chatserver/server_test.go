// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package chatserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentstudio/studio/lib/agentruntime"
	"github.com/agentstudio/studio/lib/chatclient"
	"github.com/agentstudio/studio/lib/conversation"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/projectfs"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/stream"
	"github.com/agentstudio/studio/lib/transcriptstore"
	"github.com/agentstudio/studio/lib/ttlcache"
	"github.com/agentstudio/studio/lib/wire"
)

const editScript = `{
	"steps": [
		{"mode": "messages", "payload": [{"type": "AIMessageChunk", "id": "a1", "content": "Looking"}, {"langgraph_node": "agent"}]},
		{"mode": "messages", "payload": [{"type": "tool", "id": "t1", "content": "hidden", "tool_call_id": "c1"}, {"langgraph_node": "tools"}]},
		{"write_file": {"path": "main.go", "code": "package main\n"}},
		{"delete_file": "old.txt"},
		{"mode": "updates", "payload": {"agent": {"messages": [
			{"type": "ai", "id": "a1", "content": "", "tool_calls": [{"id": "c1", "name": "write_file", "args": {"path": "main.go"}}]},
			{"type": "tool", "id": "t1", "content": "wrote main.go", "tool_call_id": "c1"},
			{"type": "ai", "id": "a2", "content": "Created main.go"},
		]}}},
	],
}`

type fixture struct {
	server      *Server
	project     *projectfs.Project
	transcripts *transcriptstore.Store
	loads       *atomic.Int32
}

type countingFactory struct {
	factory *agentruntime.Factory
	loads   *atomic.Int32
}

func (factory countingFactory) New(ctx context.Context, model string) (agentruntime.Runtime, error) {
	factory.loads.Add(1)
	return factory.factory.New(ctx, model)
}

func newFixture(t *testing.T, script string) fixture {
	t.Helper()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "old.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	project, err := projectfs.Open(root, projectfs.Options{})
	if err != nil {
		t.Fatalf("projectfs.Open: %v", err)
	}
	transcripts, err := transcriptstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("transcriptstore.Open: %v", err)
	}

	factory := &agentruntime.Factory{}
	if script != "" {
		factory.ScriptPath = filepath.Join(t.TempDir(), "turn.jsonc")
		if err := os.WriteFile(factory.ScriptPath, []byte(script), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	loads := new(atomic.Int32)

	threads := 0
	server := New(Config{
		Multiplexer: stream.New(stream.Config{}),
		Factory:     countingFactory{factory: factory, loads: loads},
		Runtimes:    ttlcache.New[string, agentruntime.Runtime](time.Minute),
		Project:     project,
		Transcripts: transcripts,
		NewThreadID: func() string {
			threads++
			return "thread-" + string(rune('0'+threads))
		},
	})
	return fixture{server: server, project: project, transcripts: transcripts, loads: loads}
}

func postChat(t *testing.T, handler http.Handler, request wire.ChatRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)))
	return recorder
}

func userTurn(text string) []message.Message {
	return []message.Message{{ID: "u1", Role: message.RoleUser, Content: message.Text(text)}}
}

func TestStreamingTurnThroughClient(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, "")
	httpServer := httptest.NewServer(fixture.server)
	defer httpServer.Close()

	var files wire.Files
	reducer := conversation.New(conversation.WithFilesChanged(func(changed wire.Files) { files = changed }))
	var names []string
	err := chatclient.New(httpServer.URL).SendTurn(context.Background(), reducer,
		message.Message{Role: message.RoleUser, Content: message.Text("hello there world")},
		chatclient.Settings{ThreadID: "t-echo", Model: agentruntime.ModelEcho},
		func(event sse.Event) { names = append(names, event.Name) })
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	want := []string{
		wire.EventMessages, wire.EventMessages, wire.EventMessages,
		wire.EventMessagesComplete, wire.EventUpdates, wire.EventDone,
	}
	if !slices.Equal(names, want) {
		t.Errorf("events = %v, want %v", names, want)
	}
	if files != nil {
		t.Errorf("files = %v, want no files event", files)
	}

	messages := reducer.Messages()
	if len(messages) != 2 {
		t.Fatalf("messages = %+v, want user and assistant", messages)
	}
	if messages[1].Role != message.RoleAssistant || messages[1].Text() != "hello there world" {
		t.Errorf("assistant = %+v", messages[1])
	}

	transcript, err := fixture.transcripts.Load("t-echo")
	if err != nil {
		t.Fatalf("Load transcript: %v", err)
	}
	if len(transcript.Messages) != 2 || transcript.Model != agentruntime.ModelEcho {
		t.Errorf("transcript = %+v", transcript)
	}
}

func TestStreamingTurnReportsFiles(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, editScript)
	recorder := postChat(t, fixture.server, wire.ChatRequest{
		ThreadID: "t-edit",
		Messages: userTurn("add a main"),
		Tools:    []string{"write_file"},
		Stream:   true,
	})

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body)
	}
	if contentType := recorder.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Errorf("Content-Type = %q", contentType)
	}
	if thread := recorder.Header().Get(ThreadHeader); thread != "t-edit" {
		t.Errorf("%s = %q", ThreadHeader, thread)
	}

	var events []sse.Event
	scanner := sse.NewScanner(recorder.Body, nil)
	for scanner.Next() {
		events = append(events, scanner.Event())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning: %v", err)
	}

	var names []string
	for _, event := range events {
		names = append(names, event.Name)
	}
	// The chunk from the tools node is suppressed.
	want := []string{wire.EventMessages, wire.EventMessagesComplete, wire.EventUpdates, wire.EventFiles, wire.EventDone}
	if !slices.Equal(names, want) {
		t.Fatalf("events = %v, want %v", names, want)
	}

	var files wire.Files
	if err := json.Unmarshal(events[3].Data, &files); err != nil {
		t.Fatalf("decoding files: %v", err)
	}
	if files["main.go"].Code != "package main\n" {
		t.Errorf("main.go = %+v", files["main.go"])
	}
	if !files["old.txt"].Deleted {
		t.Errorf("old.txt = %+v, want deleted", files["old.txt"])
	}
}

func TestNonStreamingTurn(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, editScript)
	httpServer := httptest.NewServer(fixture.server)
	defer httpServer.Close()

	response, err := chatclient.New(httpServer.URL).Send(context.Background(), wire.ChatRequest{
		Messages: userTurn("add a main"),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if response.Message == nil || response.Message.ID != "a2" || response.Message.Text() != "Created main.go" {
		t.Errorf("message = %+v", response.Message)
	}
	if len(response.ToolResults) != 1 || response.ToolResults[0].ToolCallID != "c1" {
		t.Errorf("toolResults = %+v", response.ToolResults)
	}
	if _, ok := response.UpdatedFiles["main.go"]; !ok {
		t.Errorf("updatedFiles = %v", response.UpdatedFiles)
	}

	// The server assigned the thread id and persisted the turn.
	threads, err := fixture.transcripts.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(threads, []string{"thread-1"}) {
		t.Errorf("threads = %v", threads)
	}
}

func TestNonStreamingSourceError(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, `{"steps": [{"error": "model overloaded"}]}`)
	recorder := postChat(t, fixture.server, wire.ChatRequest{Messages: userTurn("hi")})

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", recorder.Code)
	}
	if text := wire.ErrorText(recorder.Body.Bytes()); text != "model overloaded" {
		t.Errorf("error = %q", text)
	}
}

func TestStreamingSourceErrorIsInBand(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, `{"steps": [{"error": "model overloaded"}]}`)
	httpServer := httptest.NewServer(fixture.server)
	defer httpServer.Close()

	reducer := conversation.New()
	err := chatclient.New(httpServer.URL).SendTurn(context.Background(), reducer,
		message.Message{Role: message.RoleUser, Content: message.Text("hi")}, chatclient.Settings{}, nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	messages := reducer.Messages()
	last := messages[len(messages)-1]
	if last.Role != message.RoleSystem || !strings.Contains(last.Text(), "model overloaded") {
		t.Errorf("last message = %+v, want system error", last)
	}
}

func TestRejectsBadRequests(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, "")
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed", body: `{"messages":`, want: "invalid request body"},
		{name: "no messages", body: `{"messages": []}`, want: "messages must not be empty"},
		{name: "bad thread", body: `{"thread_id": "../etc", "messages": [{"role": "user", "content": "x"}]}`, want: "invalid thread id"},
		{name: "unknown model", body: `{"model": "gpt-x", "messages": [{"role": "user", "content": "x"}]}`, want: "unknown model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			fixture.server.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))
			if recorder.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", recorder.Code)
			}
			if text := wire.ErrorText(recorder.Body.Bytes()); !strings.Contains(text, tt.want) {
				t.Errorf("error = %q, want %q", text, tt.want)
			}
		})
	}
}

func TestRuntimeIsCachedPerModel(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, "")
	for range 3 {
		recorder := postChat(t, fixture.server, wire.ChatRequest{Model: agentruntime.ModelEcho, Messages: userTurn("hi")})
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d", recorder.Code)
		}
	}
	if loads := fixture.loads.Load(); loads != 1 {
		t.Errorf("runtime loads = %d, want 1", loads)
	}
}

func TestThreadEndpoints(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, "")
	postChat(t, fixture.server, wire.ChatRequest{ThreadID: "t-1", Model: agentruntime.ModelEcho, Messages: userTurn("hi"), Stream: true})

	recorder := httptest.NewRecorder()
	fixture.server.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	var list struct {
		Threads []string `json:"threads"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if !slices.Equal(list.Threads, []string{"t-1"}) {
		t.Errorf("threads = %v", list.Threads)
	}

	recorder = httptest.NewRecorder()
	fixture.server.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/threads/t-1", nil))
	var transcript transcriptstore.Transcript
	if err := json.Unmarshal(recorder.Body.Bytes(), &transcript); err != nil {
		t.Fatalf("decoding transcript: %v", err)
	}
	if transcript.ThreadID != "t-1" || len(transcript.Messages) != 2 {
		t.Errorf("transcript = %+v", transcript)
	}

	recorder = httptest.NewRecorder()
	fixture.server.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/threads/missing", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("missing thread status = %d, want 404", recorder.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, "")
	recorder := httptest.NewRecorder()
	fixture.server.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK || recorder.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", recorder.Code, recorder.Body)
	}
}

func TestClientDisconnectStillPersists(t *testing.T) {
	t.Parallel()

	fixture := newFixture(t, `{"steps": [
		{"mode": "messages", "payload": [{"type": "AIMessageChunk", "id": "a1", "content": "partial"}, {}]},
		{"delay": "1h"},
	]}`)
	httpServer := httptest.NewServer(fixture.server)
	defer httpServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	reducer := conversation.New()
	err := chatclient.New(httpServer.URL).SendTurn(ctx, reducer,
		message.Message{Role: message.RoleUser, Content: message.Text("hi")},
		chatclient.Settings{ThreadID: "t-drop"},
		func(event sse.Event) { cancel() })
	if !errors.Is(err, chatclient.ErrAborted) {
		t.Fatalf("SendTurn = %v, want ErrAborted", err)
	}

	// Persistence happens after the server notices the disconnect.
	for {
		transcript, err := fixture.transcripts.Load("t-drop")
		if err == nil {
			if len(transcript.Messages) != 2 || transcript.Messages[1].Text() != "partial" {
				t.Errorf("transcript = %+v", transcript.Messages)
			}
			return
		}
		select {
		case <-t.Context().Done():
			t.Fatal("transcript never persisted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
