// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation folds the studio's event stream into local
// conversation history.
//
// A [Reducer] owns the message list. Each user turn begins with
// [Reducer.BeginTurn]; events read off the wire are applied in order
// with [Reducer.Apply] until a "done" event or the end of the stream.
// Nothing else mutates the history: readers get copies from
// [Reducer.Messages].
package conversation

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/shape"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/toolchunk"
	"github.com/agentstudio/studio/lib/wire"
)

// DedupPolicy decides when a complete assistant message is dropped
// because chunks already rendered it.
type DedupPolicy int

const (
	// DedupByTurn drops every complete assistant message once any
	// chunk has been seen in the turn.
	DedupByTurn DedupPolicy = iota

	// DedupByMessageID drops a complete assistant message only when
	// chunks with the same id were seen.
	DedupByMessageID
)

// String returns the policy name used in configuration.
func (policy DedupPolicy) String() string {
	switch policy {
	case DedupByTurn:
		return "turn"
	case DedupByMessageID:
		return "message-id"
	}
	return "unknown"
}

// ParseDedupPolicy parses a policy name as returned by String.
func ParseDedupPolicy(name string) (DedupPolicy, bool) {
	switch name {
	case "turn", "":
		return DedupByTurn, true
	case "message-id":
		return DedupByMessageID, true
	}
	return 0, false
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the logger for dropped or malformed events.
func WithLogger(logger *slog.Logger) Option {
	return func(reducer *Reducer) { reducer.logger = logger }
}

// WithPolicy sets the duplicate-suppression policy.
func WithPolicy(policy DedupPolicy) Option {
	return func(reducer *Reducer) { reducer.policy = policy }
}

// WithTools sets the tool names advertised to the agent. Streamed
// tool calls whose name does not resolve against them are dropped.
// Without this option any name is accepted.
func WithTools(tools []string) Option {
	return func(reducer *Reducer) { reducer.tools = slices.Clone(tools) }
}

// WithFilesChanged registers the collaborator notified of "files"
// events. It is called without the reducer's lock held.
func WithFilesChanged(callback func(wire.Files)) Option {
	return func(reducer *Reducer) { reducer.filesChanged = callback }
}

// WithHistory seeds the conversation with earlier messages.
func WithHistory(messages []message.Message) Option {
	return func(reducer *Reducer) { reducer.messages = message.CloneAll(messages) }
}

// WithIDGenerator replaces uuid.NewString for messages that arrive
// without an id.
func WithIDGenerator(newID func() string) Option {
	return func(reducer *Reducer) { reducer.newID = newID }
}

// Reducer is the single owner of a conversation's message list. It is
// safe for concurrent use: one goroutine applies events while others
// read snapshots.
type Reducer struct {
	logger       *slog.Logger
	policy       DedupPolicy
	tools        []string
	filesChanged func(wire.Files)
	newID        func() string

	mutex    sync.RWMutex
	messages []message.Message

	// turnStart is the index of the first message produced by the
	// current turn. Messages before it are prior history.
	turnStart int

	// chunked is set once any chunk arrived this turn; chunkedIDs
	// records which ids they carried.
	chunked    bool
	chunkedIDs map[string]struct{}

	// calls assembles streamed tool calls per assistant message id.
	calls map[string]*toolchunk.Accumulator

	// chunkID is reused for consecutive chunks that arrive without an
	// id.
	chunkID string

	finished bool
	aborted  bool
}

// New creates a Reducer.
func New(options ...Option) *Reducer {
	reducer := &Reducer{
		logger:     slog.New(slog.DiscardHandler),
		newID:      uuid.NewString,
		chunkedIDs: make(map[string]struct{}),
		calls:      make(map[string]*toolchunk.Accumulator),
		finished:   true,
	}
	for _, option := range options {
		option(reducer)
	}
	reducer.turnStart = len(reducer.messages)
	return reducer
}

// BeginTurn appends the user's message and opens a new turn. The
// message is given an id if it has none; the stored copy is returned.
func (reducer *Reducer) BeginTurn(user message.Message) message.Message {
	reducer.mutex.Lock()
	defer reducer.mutex.Unlock()

	user = user.Clone()
	if user.ID == "" {
		user.ID = reducer.newID()
	}
	reducer.messages = append(reducer.messages, user)
	reducer.turnStart = len(reducer.messages)
	reducer.chunked = false
	clear(reducer.chunkedIDs)
	clear(reducer.calls)
	reducer.chunkID = ""
	reducer.finished = false
	reducer.aborted = false
	return user.Clone()
}

// Apply folds one event into the conversation. It returns true once
// the turn is finished; events applied after that are ignored.
func (reducer *Reducer) Apply(event sse.Event) bool {
	files, notify, finished := reducer.apply(event)
	if notify && reducer.filesChanged != nil {
		reducer.filesChanged(files)
	}
	return finished
}

func (reducer *Reducer) apply(event sse.Event) (wire.Files, bool, bool) {
	reducer.mutex.Lock()
	defer reducer.mutex.Unlock()

	if reducer.finished {
		return nil, false, true
	}

	switch event.Name {
	case wire.EventMessages:
		reducer.applyChunkEvent(event.Data)
	case wire.EventMessagesComplete, wire.EventMessagesPartial:
		reducer.applyCompleteEvent(event.Name, event.Data)
	case wire.EventUpdates:
		reducer.applyUpdates(event.Data)
	case wire.EventFiles:
		var files wire.Files
		if err := json.Unmarshal(event.Data, &files); err != nil {
			reducer.logger.Warn("ignoring malformed files event", "error", err)
			return nil, false, false
		}
		return files, true, false
	case wire.EventError:
		reducer.appendSystem(wire.ErrorText(event.Data))
	case wire.EventDone:
		reducer.finished = true
	default:
		reducer.logger.Debug("ignoring event", "event", event.Name)
	}
	return nil, false, reducer.finished
}

func (reducer *Reducer) applyChunkEvent(data json.RawMessage) {
	var pair []any
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) == 0 {
		reducer.logger.Warn("ignoring malformed messages event", "error", err)
		return
	}
	incoming, ok := shape.Normalize(pair[0])
	if !ok {
		reducer.logger.Debug("ignoring unrecognized message chunk")
		return
	}
	if !incoming.Chunk {
		reducer.applyComplete(incoming)
		return
	}
	if incoming.ID == "" {
		if reducer.chunkID == "" {
			reducer.chunkID = reducer.newID()
		}
		incoming.ID = reducer.chunkID
	}

	reducer.chunked = true
	reducer.chunkedIDs[incoming.ID] = struct{}{}

	position := reducer.find(incoming.ID)
	if position < 0 {
		reducer.messages = append(reducer.messages, message.Message{
			ID:   incoming.ID,
			Role: incoming.Role,
		})
		position = len(reducer.messages) - 1
	}
	target := &reducer.messages[position]
	target.Content = target.Content.Append(incoming.Content)

	if len(incoming.ToolCallChunks) > 0 {
		accumulator, ok := reducer.calls[incoming.ID]
		if !ok {
			accumulator = toolchunk.New(reducer.tools)
			reducer.calls[incoming.ID] = accumulator
		}
		accumulator.AddAll(incoming.ToolCallChunks)
		target.ToolCalls = accumulator.Calls()
	}
}

func (reducer *Reducer) applyCompleteEvent(name string, data json.RawMessage) {
	var entries []any
	if err := json.Unmarshal(data, &entries); err != nil {
		reducer.logger.Warn("ignoring malformed event", "event", name, "error", err)
		return
	}
	for _, entry := range entries {
		complete, ok := shape.NormalizeComplete(entry)
		if !ok {
			continue
		}
		reducer.applyComplete(complete)
	}
}

// applyComplete inserts or replaces a complete message unless chunks
// already rendered it.
func (reducer *Reducer) applyComplete(complete message.Message) {
	if complete.Role == message.RoleAssistant && reducer.renderedByChunks(complete.ID) {
		return
	}
	if complete.ID == "" {
		complete.ID = reducer.newID()
	}
	if position := reducer.find(complete.ID); position >= 0 {
		reducer.messages[position] = complete
		delete(reducer.calls, complete.ID)
		return
	}
	reducer.messages = append(reducer.messages, complete)
}

func (reducer *Reducer) renderedByChunks(id string) bool {
	if reducer.policy == DedupByMessageID {
		_, ok := reducer.chunkedIDs[id]
		return ok
	}
	return reducer.chunked
}

// applyUpdates replaces this turn's messages with the snapshot's.
// Snapshot entries already in prior history are skipped.
func (reducer *Reducer) applyUpdates(data json.RawMessage) {
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// Snapshots are opaque; a non-object carries no transcript.
		return
	}
	entries, ok := snapshot["messages"].([]any)
	if !ok {
		return
	}

	prior := make(map[string]struct{}, reducer.turnStart)
	for _, existing := range reducer.messages[:reducer.turnStart] {
		if existing.ID != "" {
			prior[existing.ID] = struct{}{}
		}
	}
	replacement := make([]message.Message, 0, len(entries))
	for _, entry := range entries {
		complete, ok := shape.NormalizeComplete(entry)
		if !ok {
			continue
		}
		if _, seen := prior[complete.ID]; seen && complete.ID != "" {
			continue
		}
		if complete.ID == "" {
			complete.ID = reducer.newID()
		}
		replacement = append(replacement, complete)
	}
	reducer.messages = append(reducer.messages[:reducer.turnStart], replacement...)
	clear(reducer.calls)
}

// find returns the position of id within the current turn, or -1.
func (reducer *Reducer) find(id string) int {
	for i := len(reducer.messages) - 1; i >= reducer.turnStart; i-- {
		if reducer.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (reducer *Reducer) appendSystem(text string) {
	reducer.messages = append(reducer.messages, message.Message{
		ID:      reducer.newID(),
		Role:    message.RoleSystem,
		Content: message.Text(text),
		Status:  message.StatusError,
	})
}

// AppendSystem appends a system message describing a failure outside
// the event stream, such as a dropped connection. Ignored after Abort.
func (reducer *Reducer) AppendSystem(text string) {
	reducer.mutex.Lock()
	defer reducer.mutex.Unlock()
	if reducer.aborted {
		return
	}
	reducer.appendSystem(text)
}

// Finish ends the turn without a "done" event, as when the stream
// reached EOF.
func (reducer *Reducer) Finish() {
	reducer.mutex.Lock()
	defer reducer.mutex.Unlock()
	reducer.finished = true
}

// Abort ends the turn at the user's request. Text already applied
// stays; no later event is folded.
func (reducer *Reducer) Abort() {
	reducer.mutex.Lock()
	defer reducer.mutex.Unlock()
	reducer.finished = true
	reducer.aborted = true
}

// Finished reports whether the current turn has ended.
func (reducer *Reducer) Finished() bool {
	reducer.mutex.RLock()
	defer reducer.mutex.RUnlock()
	return reducer.finished
}

// Aborted reports whether the current turn was aborted.
func (reducer *Reducer) Aborted() bool {
	reducer.mutex.RLock()
	defer reducer.mutex.RUnlock()
	return reducer.aborted
}

// Messages returns a copy of the whole conversation.
func (reducer *Reducer) Messages() []message.Message {
	reducer.mutex.RLock()
	defer reducer.mutex.RUnlock()
	return message.CloneAll(reducer.messages)
}

// TurnMessages returns a copy of the messages produced by the current
// turn.
func (reducer *Reducer) TurnMessages() []message.Message {
	reducer.mutex.RLock()
	defer reducer.mutex.RUnlock()
	return message.CloneAll(reducer.messages[reducer.turnStart:])
}
