// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire holds the vocabulary shared by the studio server and
// its clients: event names with fixed payload contracts, the chat
// request body, and the non-streaming response body.
package wire

import (
	"encoding/json"

	"github.com/agentstudio/studio/lib/message"
)

// Event names with fixed payload contracts.
const (
	// EventMessages carries a [chunk, metadata] pair. chunk is a
	// normalized partial assistant message.
	EventMessages = "messages"

	// EventMessagesPartial and EventMessagesComplete carry arrays of
	// complete normalized messages, never chunks.
	EventMessagesPartial  = "messages/partial"
	EventMessagesComplete = "messages/complete"

	// EventUpdates carries a state snapshot that may hold a
	// "messages" array of complete messages.
	EventUpdates = "updates"

	// EventFiles carries a [Files] map of project paths the agent
	// changed during the turn.
	EventFiles = "files"

	// EventError carries an [ErrorPayload].
	EventError = "error"

	// EventDone ends a turn. Its payload is ignored.
	EventDone = "done"
)

// FileChange is one entry of the files payload.
type FileChange struct {
	Code    string `json:"code"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Files maps project-relative paths to their new content.
type Files map[string]FileChange

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ErrorText extracts the human-readable text of an error payload.
// Besides the canonical {"error": "..."} object it accepts
// {"message": "..."} and a bare JSON string, which older servers sent.
func ErrorText(data json.RawMessage) string {
	var object struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &object) == nil {
		if object.Error != "" {
			return object.Error
		}
		if object.Message != "" {
			return object.Message
		}
	}
	var text string
	if json.Unmarshal(data, &text) == nil && text != "" {
		return text
	}
	return string(data)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	// ThreadID identifies the conversation for transcript
	// persistence. Empty means the server assigns one.
	ThreadID string `json:"thread_id,omitempty"`

	// Model selects the runtime instance.
	Model string `json:"model,omitempty"`

	// Messages is the conversation so far, ending with the new user
	// message.
	Messages []message.Message `json:"messages"`

	// Tools is the set of tool names advertised for this turn.
	Tools []string `json:"tools,omitempty"`

	// Stream selects the SSE response. When false the server answers
	// with a single [ChatResponse].
	Stream bool `json:"stream"`
}

// ChatResponse is the non-streaming answer to a chat request.
type ChatResponse struct {
	Message      *message.Message  `json:"message"`
	UpdatedFiles Files             `json:"updatedFiles,omitempty"`
	ToolResults  []message.Message `json:"toolResults,omitempty"`
}
