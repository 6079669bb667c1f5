// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/toolchunk"
)

// Collector reconstructs the complete messages of a turn from the
// events the multiplexer emits, for persistence after the stream ends.
//
// Chunks are concatenated per message id and their tool-call chunks
// assembled with a [toolchunk.Accumulator]. A complete message for an
// id replaces whatever the chunks built. Messages keep the order in
// which their id was first seen.
//
// Collector is not safe for concurrent use.
type Collector struct {
	tools    []string
	order    []string
	complete map[string]message.Message
	partial  map[string]*partialMessage
}

type partialMessage struct {
	message message.Message
	calls   *toolchunk.Accumulator
}

// NewCollector creates a Collector. tools is the tool set advertised
// for the turn; see [toolchunk.New] for the nil case.
func NewCollector(tools []string) *Collector {
	return &Collector{
		tools:    tools,
		complete: make(map[string]message.Message),
		partial:  make(map[string]*partialMessage),
	}
}

func (collector *Collector) see(id string) {
	if _, ok := collector.complete[id]; ok {
		return
	}
	if _, ok := collector.partial[id]; ok {
		return
	}
	collector.order = append(collector.order, id)
}

// AddChunk folds a chunk into the message with the same id. Chunks for
// an id that already has a complete message are ignored.
func (collector *Collector) AddChunk(chunk message.Message) {
	if chunk.ID == "" {
		return
	}
	if _, ok := collector.complete[chunk.ID]; ok {
		return
	}
	collector.see(chunk.ID)
	partial, ok := collector.partial[chunk.ID]
	if !ok {
		partial = &partialMessage{
			message: message.Message{ID: chunk.ID, Role: chunk.Role},
			calls:   toolchunk.New(collector.tools),
		}
		collector.partial[chunk.ID] = partial
	}
	partial.message.Content = partial.message.Content.Append(chunk.Content)
	partial.message.ToolCalls = append(partial.message.ToolCalls, chunk.ToolCalls...)
	partial.calls.AddAll(chunk.ToolCallChunks)
	if chunk.Status != "" {
		partial.message.Status = chunk.Status
	}
}

// AddComplete records complete messages, replacing earlier versions
// and chunk renderings with the same id.
func (collector *Collector) AddComplete(messages ...message.Message) {
	for _, complete := range messages {
		if complete.ID == "" {
			continue
		}
		collector.see(complete.ID)
		delete(collector.partial, complete.ID)
		collector.complete[complete.ID] = complete.Clone()
	}
}

// Messages returns the reconstructed messages. Chunk-built messages
// are returned as complete messages carrying their assembled tool
// calls.
func (collector *Collector) Messages() []message.Message {
	messages := make([]message.Message, 0, len(collector.order))
	for _, id := range collector.order {
		if complete, ok := collector.complete[id]; ok {
			messages = append(messages, complete.Clone())
			continue
		}
		partial := collector.partial[id]
		built := partial.message.Clone()
		built.ToolCalls = append(built.ToolCalls, partial.calls.Calls()...)
		messages = append(messages, built)
	}
	return messages
}

// Len returns the number of distinct messages seen.
func (collector *Collector) Len() int {
	return len(collector.order)
}
