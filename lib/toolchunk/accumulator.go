// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolchunk assembles streamed tool-call fragments into
// complete tool calls.
//
// Models stream a tool call as a sequence of chunks sharing an index:
// the first chunks carry the function name (sometimes split across
// several chunks), later chunks carry slices of the JSON arguments.
// An [Accumulator] tracks one assistant turn. A call is materialized
// only once its name resolves against the tools advertised for the
// turn; from then on its slot only grows arguments. A record whose
// name never resolves is dropped.
//
// When the turn advertises no tools there is nothing to resolve
// against, so a name is complete once the index stops sending name
// fragments: an arguments-only chunk for the same index, or a chunk
// for another index, commits it. Until then [Accumulator.Calls]
// reports the record provisionally under a stable id.
package toolchunk

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/lib/message"
)

// DefaultPrefixes are namespace prefixes some models put in front of
// tool names. A name that does not match exactly is retried with each
// prefix stripped.
var DefaultPrefixes = []string{"default_api:"}

// Accumulator merges tool-call chunks for one assistant turn. The zero
// value is not usable; call [New].
//
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	tools    map[string]struct{}
	prefixes []string

	// calls holds materialized calls keyed by chunk index.
	calls map[int]*message.ToolCall

	// pending is the record whose name has not resolved yet. At most
	// one tool is being named at a time.
	pending *pendingCall
}

// pendingCall tracks a tool call whose name is still arriving.
type pendingCall struct {
	index     int
	id        string
	fallback  string
	name      strings.Builder
	arguments strings.Builder
}

func (pending *pendingCall) callID() string {
	if pending.id != "" {
		return pending.id
	}
	return pending.fallback
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithPrefixes replaces the namespace prefixes stripped during name
// lookup.
func WithPrefixes(prefixes ...string) Option {
	return func(accumulator *Accumulator) {
		accumulator.prefixes = prefixes
	}
}

// New creates an Accumulator that resolves names against tools, the
// set advertised for this turn. A nil tools slice accepts any name
// (the turn advertised nothing to check against); an empty non-nil
// slice accepts none.
func New(tools []string, options ...Option) *Accumulator {
	accumulator := &Accumulator{
		prefixes: DefaultPrefixes,
		calls:    make(map[int]*message.ToolCall),
	}
	if tools != nil {
		accumulator.tools = make(map[string]struct{}, len(tools))
		for _, tool := range tools {
			accumulator.tools[tool] = struct{}{}
		}
	}
	for _, option := range options {
		option(accumulator)
	}
	return accumulator
}

// Add folds one chunk into the accumulator.
func (accumulator *Accumulator) Add(chunk message.ToolCallChunk) {
	if pending := accumulator.pending; pending != nil && pending.index != chunk.Index && accumulator.open() {
		accumulator.commit()
	}

	if call, ok := accumulator.calls[chunk.Index]; ok {
		call.Function.Arguments += chunk.Arguments
		if call.ID == "" && chunk.ID != "" {
			call.ID = chunk.ID
		}
		return
	}

	pending := accumulator.pending
	switch {
	case pending != nil && pending.index == chunk.Index:
		pending.name.WriteString(chunk.Name)
		pending.arguments.WriteString(chunk.Arguments)
		if pending.id == "" {
			pending.id = chunk.ID
		}
		if accumulator.open() && chunk.Name == "" {
			accumulator.commit()
			return
		}
	case chunk.Name != "":
		// A named chunk for another slot abandons the unresolved record.
		pending = &pendingCall{index: chunk.Index, id: chunk.ID, fallback: "call_" + uuid.NewString()}
		pending.name.WriteString(chunk.Name)
		pending.arguments.WriteString(chunk.Arguments)
		accumulator.pending = pending
	default:
		// Arguments for a slot nobody has named yet have nowhere to go.
		return
	}

	if !accumulator.open() {
		accumulator.resolve()
	}
}

// open reports whether any name is accepted.
func (accumulator *Accumulator) open() bool {
	return accumulator.tools == nil
}

// commit materializes the pending record under its name as streamed.
func (accumulator *Accumulator) commit() {
	pending := accumulator.pending
	if pending == nil {
		return
	}
	accumulator.calls[pending.index] = pending.call(pending.name.String())
	accumulator.pending = nil
}

func (pending *pendingCall) call(name string) *message.ToolCall {
	return &message.ToolCall{
		ID:   pending.callID(),
		Type: message.ToolCallType,
		Function: message.FunctionCall{
			Name:      name,
			Arguments: pending.arguments.String(),
		},
	}
}

// AddAll folds chunks in order.
func (accumulator *Accumulator) AddAll(chunks []message.ToolCallChunk) {
	for _, chunk := range chunks {
		accumulator.Add(chunk)
	}
}

// resolve materializes the pending record if its name is known.
func (accumulator *Accumulator) resolve() {
	pending := accumulator.pending
	if pending == nil {
		return
	}
	name, ok := accumulator.lookup(pending.name.String())
	if !ok {
		return
	}
	accumulator.calls[pending.index] = pending.call(name)
	accumulator.pending = nil
}

// lookup matches name exactly, then with each known prefix stripped.
// Returns the advertised tool name.
func (accumulator *Accumulator) lookup(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if accumulator.open() {
		return name, true
	}
	if _, ok := accumulator.tools[name]; ok {
		return name, true
	}
	for _, prefix := range accumulator.prefixes {
		stripped, found := strings.CutPrefix(name, prefix)
		if !found {
			continue
		}
		if _, ok := accumulator.tools[stripped]; ok {
			return stripped, true
		}
	}
	return "", false
}

// Calls returns the tool calls in index order. With advertised tools
// an unresolved record is never included. Without them the record
// still being named is included as streamed so far; later calls may
// return it with a longer name under the same id.
func (accumulator *Accumulator) Calls() []message.ToolCall {
	calls := make(map[int]*message.ToolCall, len(accumulator.calls)+1)
	for index, call := range accumulator.calls {
		calls[index] = call
	}
	if pending := accumulator.pending; pending != nil && accumulator.open() {
		calls[pending.index] = pending.call(pending.name.String())
	}
	if len(calls) == 0 {
		return nil
	}
	indices := make([]int, 0, len(calls))
	for index := range calls {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	result := make([]message.ToolCall, 0, len(indices))
	for _, index := range indices {
		result = append(result, *calls[index])
	}
	return result
}

// Pending reports whether a tool is still being named.
func (accumulator *Accumulator) Pending() bool {
	return accumulator.pending != nil
}
