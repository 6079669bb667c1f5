// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package transcriptstore

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/agentstudio/studio/lib/clock"
	"github.com/agentstudio/studio/lib/message"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleMessages() []message.Message {
	long := strings.Repeat("The build failed because the import path was wrong. ", 40)
	return []message.Message{
		{ID: "u1", Role: message.RoleUser, Content: message.Text("why did the build fail?")},
		{ID: "a1", Role: message.RoleAssistant, Content: message.Parts(message.TextPart(long)),
			ToolCalls: []message.ToolCall{{ID: "c1", Type: message.ToolCallType,
				Function: message.FunctionCall{Name: "read_file", Arguments: `{"path":"go.mod"}`}}}},
		{ID: "t1", Role: message.RoleTool, Name: "read_file", ToolCallID: "c1",
			Content: message.Text("module example"), Status: message.StatusSuccess,
			Artifact: map[string]any{"bytes": uint64(14)}},
	}
}

func openStore(t *testing.T, options ...Option) *Store {
	t.Helper()
	options = append([]Option{WithClock(clock.Fake(epoch))}, options...)
	store, err := Open(filepath.Join(t.TempDir(), "transcripts"), options...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			t.Parallel()
			store := openStore(t, WithCompression(compression))
			original := Transcript{ThreadID: "thread-1", Model: "scripted", Messages: sampleMessages()}
			if err := store.Save(original); err != nil {
				t.Fatalf("Save: %v", err)
			}

			loaded, err := store.Load("thread-1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Model != "scripted" || !loaded.UpdatedAt.Equal(epoch) {
				t.Errorf("header fields = %q, %v", loaded.Model, loaded.UpdatedAt)
			}
			if len(loaded.Messages) != 3 {
				t.Fatalf("messages = %+v", loaded.Messages)
			}
			assistant := loaded.Messages[1]
			if !assistant.Content.HasParts() || assistant.Text() != original.Messages[1].Text() {
				t.Errorf("assistant content lost its parts: %+v", assistant.Content)
			}
			if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Arguments != `{"path":"go.mod"}` {
				t.Errorf("tool calls = %+v", assistant.ToolCalls)
			}
			tool := loaded.Messages[2]
			if tool.Role != message.RoleTool || tool.ToolCallID != "c1" || tool.Status != message.StatusSuccess {
				t.Errorf("tool message = %+v", tool)
			}
			if artifact, ok := tool.Artifact.(map[string]any); !ok || artifact["bytes"] != uint64(14) {
				t.Errorf("artifact = %#v", tool.Artifact)
			}
		})
	}
}

func TestCompressionShrinksFile(t *testing.T) {
	t.Parallel()

	sizes := map[Compression]int64{}
	for _, compression := range []Compression{CompressionNone, CompressionZstd} {
		store := openStore(t, WithCompression(compression))
		if err := store.Save(Transcript{ThreadID: "t", Messages: sampleMessages()}); err != nil {
			t.Fatal(err)
		}
		info, err := os.Stat(store.path("t"))
		if err != nil {
			t.Fatal(err)
		}
		sizes[compression] = info.Size()
	}
	if sizes[CompressionZstd] >= sizes[CompressionNone] {
		t.Errorf("zstd file %d bytes, uncompressed %d", sizes[CompressionZstd], sizes[CompressionNone])
	}
}

func TestIncompressibleStoredPlain(t *testing.T) {
	t.Parallel()

	store := openStore(t, WithCompression(CompressionLZ4))
	if err := store.Save(Transcript{ThreadID: "tiny"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(store.path("tiny"))
	if err != nil {
		t.Fatal(err)
	}
	if Compression(data[len(magic)+1]) != CompressionNone {
		t.Errorf("header compression = %d, want none for a tiny body", data[len(magic)+1])
	}
	if _, err := store.Load("tiny"); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	first := sampleMessages()[:2]
	if _, err := store.Merge("thread", "scripted", first); err != nil {
		t.Fatal(err)
	}

	revised := message.Message{ID: "a1", Role: message.RoleAssistant, Content: message.Text("short answer")}
	anonymous := message.Message{Role: message.RoleSystem, Content: message.Text("note")}
	merged, err := store.Merge("thread", "", []message.Message{first[0], revised, sampleMessages()[2], anonymous})
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, stored := range merged.Messages {
		ids = append(ids, stored.ID)
	}
	if want := []string{"u1", "a1", "t1", ""}; !slices.Equal(ids, want) {
		t.Errorf("ids = %q, want %q", ids, want)
	}
	if merged.Messages[1].Text() != "short answer" {
		t.Errorf("a1 not replaced in place: %q", merged.Messages[1].Text())
	}
	if merged.Model != "scripted" {
		t.Errorf("model = %q, empty model should keep the stored one", merged.Model)
	}

	loaded, err := store.Load("thread")
	if err != nil || len(loaded.Messages) != 4 {
		t.Errorf("Load after Merge = %d messages, %v", len(loaded.Messages), err)
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	for _, id := range []string{"b", "a", "c"} {
		if err := store.Save(Transcript{ThreadID: id}); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(store.directory, "stray.txt"), []byte("x"), 0o644)

	threads, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(threads, []string{"a", "b", "c"}) {
		t.Errorf("List = %v", threads)
	}

	if err := store.Delete("b"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("b"); err != nil {
		t.Errorf("deleting a missing transcript: %v", err)
	}
	if _, err := store.Load("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load deleted = %v, want ErrNotFound", err)
	}
}

func TestInvalidThreadIDs(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	for _, id := range []string{"", "..", "../escape", "a/b", "with space", strings.Repeat("x", 129)} {
		if err := store.Save(Transcript{ThreadID: id}); err == nil {
			t.Errorf("Save(%q) succeeded", id)
		}
		if _, err := store.Load(id); err == nil {
			t.Errorf("Load(%q) succeeded", id)
		}
	}
}

func TestCorruptFiles(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	if err := store.Save(Transcript{ThreadID: "good", Messages: sampleMessages()}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(store.path("good"))
	if err != nil {
		t.Fatal(err)
	}

	corruptions := map[string][]byte{
		"magic":     append([]byte("XXXX"), data[4:]...),
		"version":   append(append([]byte(magic), 9), data[5:]...),
		"truncated": data[:len(data)/2],
		"short":     []byte("ST"),
	}
	for name, corrupt := range corruptions {
		if err := os.WriteFile(store.path(name), corrupt, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := store.Load(name); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Load(%s) = %v, want a decode error", name, err)
		}
	}
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(compression.String())
		if err != nil || parsed != compression {
			t.Errorf("ParseCompression(%q) = %v, %v", compression.String(), parsed, err)
		}
	}
	if parsed, err := ParseCompression(""); err != nil || parsed != CompressionZstd {
		t.Errorf("empty name = %v, %v; want the zstd default", parsed, err)
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("unknown compression accepted")
	}
}
