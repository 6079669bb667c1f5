// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/json"
	"maps"
)

// Role identifies the author of a message. Roles are mutually
// exclusive and every message has exactly one.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether role is one of the four known roles.
func (role Role) Valid() bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Kind is the "type" discriminator of the flat wire shape.
type Kind string

const (
	KindAI      Kind = "ai"
	KindHuman   Kind = "human"
	KindSystem  Kind = "system"
	KindTool    Kind = "tool"
	KindAIChunk Kind = "AIMessageChunk"
)

// Role maps a kind to its role. Returns false for unknown kinds.
func (kind Kind) Role() (Role, bool) {
	switch kind {
	case KindAI, KindAIChunk:
		return RoleAssistant, true
	case KindHuman:
		return RoleUser, true
	case KindSystem:
		return RoleSystem, true
	case KindTool:
		return RoleTool, true
	}
	return "", false
}

// KindOf returns the wire discriminator for a role. Chunk only affects
// assistant messages.
func KindOf(role Role, chunk bool) Kind {
	switch role {
	case RoleAssistant:
		if chunk {
			return KindAIChunk
		}
		return KindAI
	case RoleUser:
		return KindHuman
	case RoleSystem:
		return KindSystem
	case RoleTool:
		return KindTool
	}
	return ""
}

// Status marks the outcome of a terminal tool or assistant message.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ToolCall is a completed tool invocation. Arguments is a JSON-encoded
// string, never a decoded object.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the invoked function and carries its arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallType is the only ToolCall.Type the core produces.
const ToolCallType = "function"

// ToolCallChunk is a fragment of a tool call still being streamed.
// Index is the position of the eventual call in the assistant
// message's ToolCalls; Name and Arguments are partial strings to be
// concatenated across chunks with the same Index.
type ToolCallChunk struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"args,omitempty"`
}

// Message is one logical conversation turn or turn fragment.
type Message struct {
	// ID is assigned once when the message is first created and is
	// the key for de-duplication and in-place updates.
	ID string `json:"id,omitempty"`

	Role Role `json:"role"`

	// Chunk marks a partial assistant message (text delta and/or
	// tool-call chunk delta).
	Chunk bool `json:"chunk,omitempty"`

	Content Content `json:"content"`

	// Name and ToolCallID are only set when Role is RoleTool; they
	// identify the tool call this message answers.
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallChunks []ToolCallChunk `json:"tool_call_chunks,omitempty"`

	Status Status `json:"status,omitempty"`

	// Artifact is an opaque side payload (uploaded file descriptors,
	// tool output attachments). The core never interprets it.
	Artifact any `json:"artifact,omitempty"`

	AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
}

// messageFields drops Message's methods so the JSON hooks can embed
// it without recursing.
type messageFields Message

type wireMessage struct {
	Type Kind `json:"type"`
	messageFields
}

// Kind returns the wire discriminator for the message.
func (message Message) Kind() Kind {
	return KindOf(message.Role, message.Chunk)
}

// MarshalJSON encodes the message in the canonical flat shape.
func (message Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:          message.Kind(),
		messageFields: messageFields(message),
	})
}

// UnmarshalJSON accepts the canonical flat shape. Either "type" or
// "role" identifies the author; "type" wins when both are present.
func (message *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*message = Message(wire.messageFields)
	if role, ok := wire.Type.Role(); ok {
		message.Role = role
		message.Chunk = wire.Type == KindAIChunk
	}
	return nil
}

// Text returns the message content flattened to a string.
func (message Message) Text() string {
	return message.Content.String()
}

// Clone returns a copy that shares no slices or maps with message.
// Artifact is opaque and copied by reference.
func (message Message) Clone() Message {
	out := message
	out.Content = message.Content.clone()
	if message.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), message.ToolCalls...)
	}
	if message.ToolCallChunks != nil {
		out.ToolCallChunks = append([]ToolCallChunk(nil), message.ToolCallChunks...)
	}
	if message.AdditionalKwargs != nil {
		out.AdditionalKwargs = maps.Clone(message.AdditionalKwargs)
	}
	return out
}

// CloneAll deep-copies a message slice.
func CloneAll(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i := range messages {
		out[i] = messages[i].Clone()
	}
	return out
}
