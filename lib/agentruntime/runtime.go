// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentruntime defines the boundary between the studio and the
// agent that produces a turn's event stream, and provides the runtimes
// the studio ships with.
//
// A [Runtime] turns a [Request] into a [stream.Source] of mode-tagged
// items. Model inference lives behind this interface; the studio only
// shapes and transports what comes out of it. Three runtimes are
// built in: "echo" streams the user's message back, "scripted" replays
// a JSONC script of stream items and project edits, and "openai"
// reshapes a chat completions stream from an OpenAI-compatible
// endpoint.
package agentruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/agentstudio/studio/lib/clock"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/projectfs"
	"github.com/agentstudio/studio/lib/stream"
)

// Request is one turn handed to a runtime.
type Request struct {
	ThreadID string
	Model    string

	// Messages is the conversation so far, ending with the new user
	// message.
	Messages []message.Message

	// Tools is the set of tool names advertised for the turn.
	Tools []string

	// Project is the sandboxed project the agent may edit. Nil when
	// the server tracks no project.
	Project *projectfs.Project
}

// LastUserText returns the text of the last user message, or "".
func (request Request) LastUserText() string {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == message.RoleUser {
			return request.Messages[i].Text()
		}
	}
	return ""
}

// Runtime produces the event stream for a turn. Implementations must
// be safe for concurrent use: one cached instance serves overlapping
// requests. The returned Source must stop producing and release its
// resources when ctx is cancelled.
type Runtime interface {
	Stream(ctx context.Context, request Request) (stream.Source, error)
}

// ErrUnknownModel is returned by [Factory.New] for a model name with
// no runtime.
var ErrUnknownModel = errors.New("agentruntime: unknown model")

// Model names of the built-in runtimes.
const (
	ModelEcho     = "echo"
	ModelScripted = "scripted"

	// ModelOpenAI selects the OpenAI-compatible runtime with its
	// configured upstream model; "openai:<model>" names the upstream
	// model explicitly.
	ModelOpenAI = "openai"
)

// Factory builds runtimes by model name.
type Factory struct {
	// ScriptPath is the JSONC script loaded by the scripted runtime.
	ScriptPath string

	// OpenAI configures the openai runtime. Nil disables it.
	OpenAI *OpenAIConfig

	Clock  clock.Clock
	Logger *slog.Logger
}

// New builds the runtime for model. An empty model selects the
// scripted runtime when a script is configured and echo otherwise.
func (factory *Factory) New(ctx context.Context, model string) (Runtime, error) {
	source := factory.Clock
	if source == nil {
		source = clock.Real()
	}
	logger := factory.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if model == "" {
		model = ModelEcho
		if factory.ScriptPath != "" {
			model = ModelScripted
		}
	}

	switch model {
	case ModelEcho:
		return NewEcho(), nil
	case ModelScripted:
		if factory.ScriptPath == "" {
			return nil, fmt.Errorf("agentruntime: model %q needs a script path", model)
		}
		script, err := ReadScript(factory.ScriptPath)
		if err != nil {
			return nil, err
		}
		if issues := ValidateScript(script); len(issues) > 0 {
			return nil, fmt.Errorf("agentruntime: script %s is invalid: %v", factory.ScriptPath, issues)
		}
		logger.Info("loaded agent script", "path", factory.ScriptPath, "steps", len(script.Steps))
		return NewScripted(script, source), nil
	}

	if upstream, ok := strings.CutPrefix(model, ModelOpenAI); ok && (upstream == "" || upstream[0] == ':') {
		if factory.OpenAI == nil || factory.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("agentruntime: model %q needs an openai endpoint", model)
		}
		upstream = strings.TrimPrefix(upstream, ":")
		runtime := NewOpenAI(*factory.OpenAI, upstream, logger)
		if runtime.model == "" {
			return nil, fmt.Errorf("agentruntime: model %q names no upstream model", model)
		}
		logger.Info("using openai endpoint", "base_url", factory.OpenAI.BaseURL, "model", runtime.model)
		return runtime, nil
	}
	return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownModel, model, Models())
}

// Models returns the built-in model names.
func Models() []string {
	models := []string{ModelEcho, ModelOpenAI, ModelScripted}
	sort.Strings(models)
	return models
}
