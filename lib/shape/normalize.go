// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package shape

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/agentstudio/studio/lib/message"
)

// matcher recognizes one wire shape. It returns ok=false when the
// object is not in its shape so the next matcher can try.
type matcher func(object map[string]any) (message.Message, bool)

// matchers are tried in order; the first match wins.
var matchers = []matcher{
	matchFlat,
	matchConstructor,
}

// constructorKinds maps the class name at the end of a constructor
// envelope's id path to the canonical kind.
var constructorKinds = map[string]message.Kind{
	"AIMessageChunk": message.KindAIChunk,
	"AIMessage":      message.KindAI,
	"HumanMessage":   message.KindHuman,
	"SystemMessage":  message.KindSystem,
	"ToolMessage":    message.KindTool,
}

// Normalize converts value into a canonical message. value is
// typically the result of decoding JSON into an any (a map[string]any),
// but a JSON object encoded as a string or []byte, a message.Message,
// or a *message.Message are accepted too. Returns ok=false for
// anything unrecognized.
func Normalize(value any) (message.Message, bool) {
	switch typed := value.(type) {
	case message.Message:
		return canonicalize(typed), true
	case *message.Message:
		if typed == nil {
			return message.Message{}, false
		}
		return canonicalize(*typed), true
	case map[string]any:
		for _, match := range matchers {
			if result, ok := match(typed); ok {
				return result, true
			}
		}
		return message.Message{}, false
	case json.RawMessage:
		return normalizeJSON(typed)
	case []byte:
		return normalizeJSON(typed)
	case string:
		if !strings.HasPrefix(strings.TrimSpace(typed), "{") {
			return message.Message{}, false
		}
		return normalizeJSON([]byte(typed))
	}
	return message.Message{}, false
}

// NormalizeComplete is Normalize restricted to complete messages:
// chunk results are reported as unrecognized.
func NormalizeComplete(value any) (message.Message, bool) {
	result, ok := Normalize(value)
	if !ok || result.Chunk {
		return message.Message{}, false
	}
	return result, true
}

// NormalizeAll normalizes each element of values, dropping the
// unrecognized ones.
func NormalizeAll(values []any) []message.Message {
	var out []message.Message
	for _, value := range values {
		if result, ok := Normalize(value); ok {
			out = append(out, result)
		}
	}
	return out
}

func normalizeJSON(data []byte) (message.Message, bool) {
	var object map[string]any
	if err := json.Unmarshal(data, &object); err != nil || object == nil {
		return message.Message{}, false
	}
	return Normalize(object)
}

func matchFlat(object map[string]any) (message.Message, bool) {
	kindName, _ := object["type"].(string)
	kind := message.Kind(kindName)
	if _, ok := kind.Role(); !ok {
		return message.Message{}, false
	}
	return build(kind, object), true
}

func matchConstructor(object map[string]any) (message.Message, bool) {
	if lc, ok := number(object["lc"]); !ok || lc != 1 {
		return message.Message{}, false
	}
	if object["type"] != "constructor" {
		return message.Message{}, false
	}
	path, ok := object["id"].([]any)
	if !ok || len(path) == 0 {
		return message.Message{}, false
	}
	className, _ := path[len(path)-1].(string)
	kind, ok := constructorKinds[className]
	if !ok {
		return message.Message{}, false
	}
	kwargs, _ := object["kwargs"].(map[string]any)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return build(kind, kwargs), true
}

// build assembles a canonical message of the given kind from a field
// map. Both shapes funnel through here so equivalent field values
// always produce identical messages.
func build(kind message.Kind, fields map[string]any) message.Message {
	role, _ := kind.Role()
	result := message.Message{
		ID:      stringField(fields, "id"),
		Role:    role,
		Chunk:   kind == message.KindAIChunk,
		Content: readContent(fields["content"]),
		Status:  message.Status(stringField(fields, "status")),
	}

	if raw, ok := fields["tool_calls"].([]any); ok {
		result.ToolCalls = readToolCalls(raw)
	}
	if raw, ok := fields["tool_call_chunks"].([]any); ok {
		result.ToolCallChunks = readToolCallChunks(raw)
	}
	if kwargs, ok := fields["additional_kwargs"].(map[string]any); ok && len(kwargs) > 0 {
		result.AdditionalKwargs = kwargs
	}
	if artifact, ok := fields["artifact"]; ok && artifact != nil {
		result.Artifact = artifact
	}

	if role == message.RoleTool {
		result.Name = stringField(fields, "name")
		result.ToolCallID = stringField(fields, "tool_call_id")
		if result.Status == "" {
			result.Status = message.StatusSuccess
		}
	}
	return result
}

// canonicalize applies the same defaulting build does to a message
// that is already typed.
func canonicalize(input message.Message) message.Message {
	result := input.Clone()
	if result.Role == message.RoleTool && result.Status == "" {
		result.Status = message.StatusSuccess
	}
	if result.Role != message.RoleTool {
		result.Name = ""
		result.ToolCallID = ""
	}
	return result
}

func readContent(value any) message.Content {
	switch typed := value.(type) {
	case nil:
		return message.Text("")
	case string:
		return contentFromString(typed)
	case []any:
		return message.Parts(typed...)
	case map[string]any:
		return message.Parts(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return message.Text("")
		}
		return message.Text(string(encoded))
	}
}

// contentFromString decodes a string that looks like a JSON array of
// content parts. Anything that does not parse, or parses into
// something other than a list of typed part objects, stays literal.
func contentFromString(text string) message.Content {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "[") {
		return message.Text(text)
	}
	var parts []any
	if err := json.Unmarshal([]byte(trimmed), &parts); err != nil || len(parts) == 0 {
		return message.Text(text)
	}
	for _, part := range parts {
		object, ok := part.(map[string]any)
		if !ok {
			return message.Text(text)
		}
		if _, ok := object["type"].(string); !ok {
			return message.Text(text)
		}
	}
	return message.Parts(parts...)
}

// readToolCalls accepts both the function-call shape
// {id, function: {name, arguments}} and the flat
// {id, name, args} shape, producing the former.
func readToolCalls(raw []any) []message.ToolCall {
	calls := make([]message.ToolCall, 0, len(raw))
	for _, entry := range raw {
		object, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		call := message.ToolCall{
			ID:   stringField(object, "id"),
			Type: message.ToolCallType,
		}
		if function, ok := object["function"].(map[string]any); ok {
			call.Function.Name = stringField(function, "name")
			call.Function.Arguments = argumentString(function["arguments"])
		} else {
			call.Function.Name = stringField(object, "name")
			arguments, present := object["args"]
			if !present {
				arguments = object["arguments"]
			}
			call.Function.Arguments = argumentString(arguments)
		}
		calls = append(calls, call)
	}
	return calls
}

// readToolCallChunks normalizes streamed tool-call fragments. A chunk
// without a numeric index gets its array position plus one; the
// accumulator keys on that value, so the offset must be preserved.
func readToolCallChunks(raw []any) []message.ToolCallChunk {
	chunks := make([]message.ToolCallChunk, 0, len(raw))
	for position, entry := range raw {
		object, _ := entry.(map[string]any)
		chunk := message.ToolCallChunk{Index: position + 1}
		if object == nil {
			chunks = append(chunks, chunk)
			continue
		}
		if index, ok := number(object["index"]); ok {
			chunk.Index = int(index)
		}
		chunk.ID = stringField(object, "id")
		chunk.Name = stringField(object, "name")
		if value, present := object["args"]; present {
			chunk.Arguments = fragmentString(value)
		} else {
			chunk.Arguments = fragmentString(object["arguments"])
		}
		if function, ok := object["function"].(map[string]any); ok {
			if chunk.Name == "" {
				chunk.Name = stringField(function, "name")
			}
			if chunk.Arguments == "" {
				chunk.Arguments = fragmentString(function["arguments"])
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// argumentString renders complete tool arguments as a JSON string.
// Strings pass through unchanged, even when they are not valid JSON.
func argumentString(value any) string {
	switch typed := value.(type) {
	case nil:
		return "{}"
	case string:
		return typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "{}"
		}
		return string(encoded)
	}
}

// fragmentString renders a partial argument fragment. Missing
// fragments are empty rather than "{}" because they get concatenated.
func fragmentString(value any) string {
	if value == nil {
		return ""
	}
	return argumentString(value)
}

func stringField(object map[string]any, key string) string {
	value, _ := object[key].(string)
	return value
}

// number extracts an integral numeric value from a decoded JSON
// number in any of the representations decoders produce.
func number(value any) (float64, bool) {
	var result float64
	switch typed := value.(type) {
	case float64:
		result = typed
	case float32:
		result = float64(typed)
	case int:
		result = float64(typed)
	case int64:
		result = float64(typed)
	case uint64:
		result = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		result = parsed
	default:
		return 0, false
	}
	if math.IsNaN(result) || math.IsInf(result, 0) || result != math.Trunc(result) {
		return 0, false
	}
	return result, true
}
