// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/shape"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/wire"
)

// DefaultSuppressNodes are the graph nodes whose message chunks never
// reach the wire.
var DefaultSuppressNodes = []string{"tools"}

// snapshotNamespace seeds the deterministic ids given to snapshot
// messages that arrive without one.
var snapshotNamespace = uuid.MustParse("5b0f7c52-3c1e-4d0f-9a57-7f2b6d1c9e40")

// Config configures a Multiplexer.
type Config struct {
	Logger *slog.Logger

	// SuppressNodes lists the metadata langgraph_node (or name) values
	// whose chunks are dropped. Nil means [DefaultSuppressNodes]; an
	// empty non-nil slice suppresses nothing.
	SuppressNodes []string

	// ScanLimits bound the nested search of snapshots without a
	// top-level messages array.
	ScanLimits shape.ScanLimits

	// NewID generates ids for chunks that arrive without one. Defaults
	// to uuid.NewString.
	NewID func() string
}

// Turn carries the per-request collaborators of one [Multiplexer.Run].
type Turn struct {
	// Tools is the tool set advertised for this turn. The collector
	// resolves streamed tool-call names against it.
	Tools []string

	// Changes reports the project files modified during the turn. It
	// is called once after the source ends. Nil means no file
	// tracking.
	Changes func(ctx context.Context) (wire.Files, error)

	// Persist receives the collected complete messages after the
	// stream ends, including when the client disconnected. Nil means
	// no persistence.
	Persist func(ctx context.Context, messages []message.Message) error
}

// Summary describes a finished run.
type Summary struct {
	// Events is the number of events written to the sink.
	Events int

	// Messages are the complete messages reconstructed by the
	// collector.
	Messages []message.Message

	// Files is the payload of the files event, if one was sent.
	Files wire.Files

	// SourceErr is the error that ended the source early, if any. It
	// was reported to the client as an error event.
	SourceErr error
}

// Multiplexer converts mode-tagged stream items into wire events. A
// Multiplexer holds only configuration and is safe for concurrent use;
// each Run keeps its state on the stack.
type Multiplexer struct {
	logger   *slog.Logger
	suppress map[string]struct{}
	limits   shape.ScanLimits
	newID    func() string
}

// New creates a Multiplexer.
func New(config Config) *Multiplexer {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	nodes := config.SuppressNodes
	if nodes == nil {
		nodes = DefaultSuppressNodes
	}
	suppress := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		suppress[node] = struct{}{}
	}
	newID := config.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Multiplexer{
		logger:   logger,
		suppress: suppress,
		limits:   config.ScanLimits,
		newID:    newID,
	}
}

// run is the state of one Run call.
type run struct {
	*Multiplexer
	sink      Sink
	collector *Collector
	events    int

	// chunkID is the id given to consecutive chunks that arrive
	// without one. It is cleared when a non-chunk event is emitted so
	// the next assistant message starts a new id.
	chunkID string
}

// Run drains source, writing events to sink, and returns once the
// stream is finished. Unless the context is cancelled or the sink
// fails, the last event written is always "done".
//
// The returned error is non-nil only when the client can no longer be
// reached: the context was cancelled or a sink write failed. A failing
// source is reported in-band as an error event and in
// [Summary.SourceErr].
func (multiplexer *Multiplexer) Run(ctx context.Context, source Source, sink Sink, turn Turn) (Summary, error) {
	defer source.Close()

	state := &run{
		Multiplexer: multiplexer,
		sink:        sink,
		collector:   NewCollector(turn.Tools),
	}
	var summary Summary

	var sinkErr error
	for {
		item, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				summary.SourceErr = err
			}
			break
		}
		if sinkErr = state.dispatch(item); sinkErr != nil {
			break
		}
	}

	ctxErr := ctx.Err()
	if sinkErr == nil && ctxErr == nil {
		sinkErr = state.finish(ctx, turn, &summary)
	}

	summary.Events = state.events
	summary.Messages = state.collector.Messages()

	if turn.Persist != nil {
		// The client going away does not cancel persistence of what
		// was already produced.
		if err := turn.Persist(context.WithoutCancel(ctx), summary.Messages); err != nil {
			multiplexer.logger.Error("persisting transcript failed",
				"messages", len(summary.Messages), "error", err)
		}
	}

	switch {
	case sinkErr != nil:
		return summary, sinkErr
	case ctxErr != nil:
		return summary, ctxErr
	}
	return summary, nil
}

// finish writes the terminal events: error, files, done.
func (state *run) finish(ctx context.Context, turn Turn, summary *Summary) error {
	if summary.SourceErr != nil {
		state.logger.Warn("agent stream failed", "error", summary.SourceErr)
		if err := state.emit(wire.EventError, wire.ErrorPayload{Error: summary.SourceErr.Error()}); err != nil {
			return err
		}
	}
	if turn.Changes != nil {
		files, err := turn.Changes(ctx)
		if err != nil {
			state.logger.Warn("collecting changed files failed", "error", err)
		}
		if len(files) > 0 {
			summary.Files = files
			if err := state.emit(wire.EventFiles, files); err != nil {
				return err
			}
		}
	}
	return state.emit(wire.EventDone, struct{}{})
}

func (state *run) emit(name string, data any) error {
	if err := state.sink.WriteEvent(name, data); err != nil {
		return fmt.Errorf("stream: writing %s event: %w", name, err)
	}
	state.events++
	return nil
}

// dispatch handles one item. Only sink failures are returned; items
// that cannot be understood are logged and dropped.
func (state *run) dispatch(item Item) error {
	payload := item.Payload
	switch typed := payload.(type) {
	case []byte:
		return nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(typed, &decoded); err != nil {
			state.logger.Warn("dropping undecodable stream item", "mode", item.Mode, "error", err)
			return nil
		}
		payload = decoded
	}

	switch item.Mode {
	case ModeMessages:
		return state.messages(payload)
	case ModeUpdates:
		return state.updates(payload)
	}
	if !sse.ValidEventName(item.Mode) {
		state.logger.Warn("dropping stream item with an unframeable mode", "mode", item.Mode)
		return nil
	}
	state.chunkID = ""
	return state.emit(item.Mode, payload)
}

func (state *run) messages(payload any) error {
	tuple, ok := payload.([]any)
	if !ok || len(tuple) == 0 || len(tuple) > 2 {
		state.logger.Debug("dropping messages item that is not a [chunk, metadata] pair")
		return nil
	}
	metadata := map[string]any{}
	if len(tuple) == 2 {
		if object, ok := tuple[1].(map[string]any); ok {
			metadata = object
		}
	}
	if state.suppressed(metadata) {
		return nil
	}

	chunk, ok := shape.Normalize(tuple[0])
	if !ok {
		state.logger.Debug("dropping unrecognized message chunk")
		return nil
	}
	if chunk.ID == "" {
		if state.chunkID == "" {
			state.chunkID = state.newID()
		}
		chunk.ID = state.chunkID
	}

	if chunk.Chunk {
		state.collector.AddChunk(chunk)
	} else {
		state.collector.AddComplete(chunk)
	}
	return state.emit(wire.EventMessages, []any{chunk, metadata})
}

// suppressed reports whether metadata places a chunk inside a
// suppressed node.
func (state *run) suppressed(metadata map[string]any) bool {
	for _, key := range []string{"langgraph_node", "name"} {
		if node, ok := metadata[key].(string); ok {
			if _, hit := state.suppress[node]; hit {
				return true
			}
		}
	}
	return false
}

func (state *run) updates(payload any) error {
	state.chunkID = ""

	if snapshot, ok := payload.(map[string]any); ok {
		if entries, ok := snapshot["messages"].([]any); ok {
			messages := make([]message.Message, 0, len(entries))
			for _, entry := range entries {
				if normalized, ok := shape.NormalizeComplete(entry); ok {
					messages = append(messages, normalized)
				}
			}
			assignSnapshotIDs(messages)
			state.collector.AddComplete(messages...)

			normalized := maps.Clone(snapshot)
			normalized["messages"] = messages
			return state.emit(wire.EventUpdates, normalized)
		}
	}

	found := shape.FindMessages(payload, state.limits)
	if len(found) > 0 {
		assignSnapshotIDs(found)
		state.collector.AddComplete(found...)
		if err := state.emit(wire.EventMessagesComplete, found); err != nil {
			return err
		}
	}
	return state.emit(wire.EventUpdates, payload)
}

// assignSnapshotIDs gives id-less snapshot messages an id derived from
// their position and content, so the same message keeps its id across
// successive snapshots of a growing transcript.
func assignSnapshotIDs(messages []message.Message) {
	for i := range messages {
		if messages[i].ID != "" {
			continue
		}
		name := fmt.Sprintf("%d\x00%s\x00%s\x00%s",
			i, messages[i].Kind(), messages[i].Text(), messages[i].ToolCallID)
		messages[i].ID = uuid.NewSHA1(snapshotNamespace, []byte(name)).String()
	}
}
