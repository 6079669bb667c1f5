// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package agentruntime

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/stream"
)

// Echo streams the last user message back word by word, then reports
// the complete reply in a nested state snapshot the way orchestration
// layers do.
type Echo struct{}

// NewEcho returns the echo runtime.
func NewEcho() *Echo { return &Echo{} }

// Stream implements [Runtime].
func (*Echo) Stream(ctx context.Context, request Request) (stream.Source, error) {
	text := request.LastUserText()
	id := uuid.NewString()
	metadata := map[string]any{"langgraph_node": "agent"}

	var items []stream.Item
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		items = append(items, stream.Item{
			Mode: stream.ModeMessages,
			Payload: []any{
				map[string]any{"type": string(message.KindAIChunk), "id": id, "content": word},
				metadata,
			},
		})
	}
	items = append(items, stream.Item{
		Mode: stream.ModeUpdates,
		Payload: map[string]any{
			"agent": map[string]any{
				"messages": []any{
					map[string]any{"type": string(message.KindAI), "id": id, "content": text},
				},
			},
		},
	})
	return stream.FromItems(items...), nil
}
