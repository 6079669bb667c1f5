// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package agentruntime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/stream"
)

// OpenAIConfig configures an OpenAI-compatible chat completions
// endpoint (OpenAI, OpenRouter, vLLM, Ollama, llama.cpp, ...).
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Model is the upstream model used when the runtime model name
	// carries no suffix.
	Model string

	// MaxTokens bounds each completion. Zero omits the field.
	MaxTokens int

	HTTPClient *http.Client
}

// OpenAI streams turns from a chat completions endpoint and reshapes
// the deltas into message chunks and a final state snapshot.
type OpenAI struct {
	config OpenAIConfig
	model  string
	logger *slog.Logger
}

// NewOpenAI returns a runtime for the upstream model.
func NewOpenAI(config OpenAIConfig, model string, logger *slog.Logger) *OpenAI {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if model == "" {
		model = config.Model
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OpenAI{config: config, model: model, logger: logger}
}

// ProviderError is returned when the endpoint answers with a non-200
// status.
type ProviderError struct {
	StatusCode int

	// Type is the provider's error type, e.g. "rate_limit_error".
	Type string

	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("agentruntime/openai: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("agentruntime/openai: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited reports an HTTP 429 response.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// Stream implements [Runtime].
func (runtime *OpenAI) Stream(ctx context.Context, request Request) (stream.Source, error) {
	body, err := json.Marshal(runtime.buildRequest(request))
	if err != nil {
		return nil, fmt.Errorf("agentruntime/openai: marshaling request: %w", err)
	}

	endpoint := strings.TrimSuffix(runtime.config.BaseURL, "/") + "/chat/completions"
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentruntime/openai: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "text/event-stream")
	if runtime.config.APIKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+runtime.config.APIKey)
	}

	httpResponse, err := runtime.config.HTTPClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("agentruntime/openai: sending request: %w", err)
	}
	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readProviderError(httpResponse)
	}

	scanner := sse.NewScanner(httpResponse.Body, runtime.logger)
	scanner.SetTerminator("[DONE]")
	return &openaiSource{
		body:    httpResponse.Body,
		scanner: scanner,
		id:      uuid.NewString(),
		metadata: map[string]any{
			"langgraph_node": "agent",
			"ls_model_name":  runtime.model,
		},
	}, nil
}

func (runtime *OpenAI) buildRequest(request Request) openaiRequest {
	wireRequest := openaiRequest{
		Model:         runtime.model,
		MaxTokens:     runtime.config.MaxTokens,
		Stream:        true,
		StreamOptions: &openaiStreamOptions{IncludeUsage: true},
	}
	for _, turn := range request.Messages {
		if converted, ok := toOpenAIMessage(turn); ok {
			wireRequest.Messages = append(wireRequest.Messages, converted)
		}
	}
	for _, tool := range request.Tools {
		wireRequest.Tools = append(wireRequest.Tools, openaiTool{
			Type: "function",
			Function: openaiToolDefinition{
				Name:       tool,
				Parameters: json.RawMessage(`{"type":"object"}`),
			},
		})
	}
	return wireRequest
}

// toOpenAIMessage converts one conversation message. Client-side error
// notices are not part of the model's context.
func toOpenAIMessage(turn message.Message) (openaiMessage, bool) {
	converted := openaiMessage{Role: string(turn.Role), Content: turn.Text()}
	switch turn.Role {
	case message.RoleSystem:
		if turn.Status == message.StatusError {
			return openaiMessage{}, false
		}
	case message.RoleTool:
		converted.ToolCallID = turn.ToolCallID
	case message.RoleAssistant:
		for _, call := range turn.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openaiToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: openaiToolFunction{Name: call.Function.Name, Arguments: call.Function.Arguments},
			})
		}
	}
	return converted, true
}

// openaiSource turns the SSE deltas of one completion into items.
// Text and tool-call deltas become message chunks as they arrive; the
// accumulated message is reported once more as an updates snapshot
// when the completion finishes.
type openaiSource struct {
	body     io.ReadCloser
	scanner  *sse.Scanner
	id       string
	metadata map[string]any

	text     strings.Builder
	calls    []openaiPartialToolCall
	pending  []stream.Item
	finished bool
}

// openaiPartialToolCall tracks a tool call being assembled from
// deltas: the first delta carries the id and name, later deltas append
// to the arguments.
type openaiPartialToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

func (source *openaiSource) Next(ctx context.Context) (stream.Item, error) {
	for {
		if len(source.pending) > 0 {
			item := source.pending[0]
			source.pending = source.pending[1:]
			return item, nil
		}
		if source.finished {
			return stream.Item{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return stream.Item{}, err
		}

		if !source.scanner.Next() {
			if err := source.scanner.Err(); err != nil {
				if ctx.Err() != nil {
					return stream.Item{}, ctx.Err()
				}
				return stream.Item{}, fmt.Errorf("agentruntime/openai: reading stream: %w", err)
			}
			source.finish()
			continue
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal(source.scanner.Event().Data, &chunk); err != nil {
			return stream.Item{}, fmt.Errorf("agentruntime/openai: parsing stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return stream.Item{}, fmt.Errorf("agentruntime/openai: stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		source.delta(choice.Delta)
		if choice.FinishReason != nil {
			source.finish()
		}
	}
}

func (source *openaiSource) delta(delta openaiStreamDelta) {
	if delta.Content != "" {
		source.text.WriteString(delta.Content)
		source.pending = append(source.pending, source.chunkItem(map[string]any{"content": delta.Content}))
	}
	if len(delta.ToolCalls) == 0 {
		return
	}
	chunks := make([]any, 0, len(delta.ToolCalls))
	for _, call := range delta.ToolCalls {
		for len(source.calls) <= call.Index {
			source.calls = append(source.calls, openaiPartialToolCall{})
		}
		partial := &source.calls[call.Index]
		fragment := map[string]any{"index": call.Index}
		if call.ID != "" {
			partial.id = call.ID
			fragment["id"] = call.ID
		}
		if call.Function != nil {
			if call.Function.Name != "" {
				partial.name = call.Function.Name
				fragment["name"] = call.Function.Name
			}
			partial.arguments.WriteString(call.Function.Arguments)
			fragment["args"] = call.Function.Arguments
		}
		chunks = append(chunks, fragment)
	}
	source.pending = append(source.pending, source.chunkItem(map[string]any{
		"content":          "",
		"tool_call_chunks": chunks,
	}))
}

func (source *openaiSource) chunkItem(fields map[string]any) stream.Item {
	fields["type"] = string(message.KindAIChunk)
	fields["id"] = source.id
	return stream.Item{Mode: stream.ModeMessages, Payload: []any{fields, source.metadata}}
}

// finish queues the snapshot of the completed message.
func (source *openaiSource) finish() {
	if source.finished {
		return
	}
	source.finished = true
	if source.text.Len() == 0 && len(source.calls) == 0 {
		return
	}
	complete := map[string]any{
		"type":    string(message.KindAI),
		"id":      source.id,
		"content": source.text.String(),
	}
	if len(source.calls) > 0 {
		calls := make([]any, 0, len(source.calls))
		for i := range source.calls {
			calls = append(calls, map[string]any{
				"id":   source.calls[i].id,
				"type": "function",
				"function": map[string]any{
					"name":      source.calls[i].name,
					"arguments": source.calls[i].arguments.String(),
				},
			})
		}
		complete["tool_calls"] = calls
	}
	source.pending = append(source.pending, stream.Item{
		Mode:    stream.ModeUpdates,
		Payload: map[string]any{"agent": map[string]any{"messages": []any{complete}}},
	})
}

func (source *openaiSource) Close() error {
	return source.body.Close()
}

// readProviderError parses {"error":{"type":"...","message":"..."}},
// falling back to the raw body.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error openaiError `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string               `json:"type"`
	Function openaiToolDefinition `json:"function"`
}

type openaiToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Streaming chunks use "delta" instead of "message"; tool calls carry
// an index for interleaving concurrent calls, and finish_reason stays
// null until the last content chunk.
type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	ToolCalls []openaiStreamToolCall `json:"tool_calls,omitempty"`
}

type openaiStreamToolCall struct {
	Index    int                       `json:"index"`
	ID       string                    `json:"id,omitempty"`
	Type     string                    `json:"type,omitempty"`
	Function *openaiStreamToolFunction `json:"function,omitempty"`
}

type openaiStreamToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
