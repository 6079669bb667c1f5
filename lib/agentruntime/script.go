// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/agentstudio/studio/lib/clock"
	"github.com/agentstudio/studio/lib/stream"
)

// Script is a recorded agent turn, authored as JSONC:
//
//	{
//	  "steps": [
//	    // Stream a chunk, then edit the project.
//	    {"mode": "messages", "payload": [{"type": "AIMessageChunk", "content": "Fixing ${LAST_USER_MESSAGE}"}, {}]},
//	    {"write_file": {"path": "main.go", "code": "package main\n"}},
//	    {"delay": "50ms"},
//	    {"error": "model overloaded"},
//	  ],
//	}
//
// Every step sets exactly one action. Payloads may reference
// ${LAST_USER_MESSAGE}, ${THREAD_ID}, and ${MODEL}; the values are
// substituted JSON-escaped, so references belong inside strings.
type Script struct {
	Steps []Step `json:"steps"`
}

// Step is one action of a script.
type Step struct {
	// Mode and Payload emit one stream item.
	Mode    string          `json:"mode,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// WriteFile creates or replaces a project file.
	WriteFile *FileWrite `json:"write_file,omitempty"`

	// DeleteFile removes a project file.
	DeleteFile string `json:"delete_file,omitempty"`

	// Error ends the stream with this error.
	Error string `json:"error,omitempty"`

	// Delay pauses the stream, in time.ParseDuration syntax.
	Delay string `json:"delay,omitempty"`
}

// FileWrite is the argument of a write_file step.
type FileWrite struct {
	Path string `json:"path"`
	Code string `json:"code"`
}

// ParseScript strips JSONC comments and trailing commas, then decodes
// the script.
func ParseScript(data []byte) (*Script, error) {
	var script Script
	if err := json.Unmarshal(jsonc.ToJSON(data), &script); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	return &script, nil
}

// ReadScript reads and parses a JSONC script file.
func ReadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	script, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// ValidateScript returns human-readable structural issues. An empty
// list means the script is valid.
func ValidateScript(script *Script) []string {
	var issues []string
	if len(script.Steps) == 0 {
		issues = append(issues, "script has no steps (at least one step is required)")
	}
	for index, step := range script.Steps {
		prefix := fmt.Sprintf("steps[%d]", index)

		actions := 0
		if step.Mode != "" {
			actions++
			if len(step.Payload) == 0 {
				issues = append(issues, prefix+": mode step has no payload")
			} else if !json.Valid(step.Payload) {
				issues = append(issues, prefix+": payload is not valid JSON")
			}
		} else if len(step.Payload) > 0 {
			issues = append(issues, prefix+": payload without mode")
		}
		if step.WriteFile != nil {
			actions++
			if step.WriteFile.Path == "" {
				issues = append(issues, prefix+": write_file needs a path")
			}
		}
		if step.DeleteFile != "" {
			actions++
		}
		if step.Error != "" {
			actions++
		}
		if step.Delay != "" {
			actions++
			if duration, err := time.ParseDuration(step.Delay); err != nil || duration < 0 {
				issues = append(issues, fmt.Sprintf("%s: delay %q is not a non-negative duration", prefix, step.Delay))
			}
		}
		if actions != 1 {
			issues = append(issues, fmt.Sprintf("%s: must set exactly one of mode, write_file, delete_file, error, delay (has %d)", prefix, actions))
		}
	}
	return issues
}

// Scripted replays a script for every turn.
type Scripted struct {
	script *Script
	clock  clock.Clock
}

// NewScripted returns a runtime replaying script. The script must
// already be valid.
func NewScripted(script *Script, source clock.Clock) *Scripted {
	return &Scripted{script: script, clock: source}
}

// Stream implements [Runtime].
func (scripted *Scripted) Stream(ctx context.Context, request Request) (stream.Source, error) {
	variables := map[string]string{
		"LAST_USER_MESSAGE": request.LastUserText(),
		"THREAD_ID":         request.ThreadID,
		"MODEL":             request.Model,
	}
	return &scriptSource{
		steps:     scripted.script.Steps,
		request:   request,
		variables: variables,
		clock:     scripted.clock,
	}, nil
}

type scriptSource struct {
	steps     []Step
	offset    int
	request   Request
	variables map[string]string
	clock     clock.Clock
	closed    bool
}

func (source *scriptSource) Next(ctx context.Context) (stream.Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return stream.Item{}, err
		}
		if source.closed || source.offset >= len(source.steps) {
			return stream.Item{}, io.EOF
		}
		step := source.steps[source.offset]
		source.offset++

		switch {
		case step.Mode != "":
			return stream.Item{Mode: step.Mode, Payload: json.RawMessage(source.expand(step.Payload))}, nil
		case step.Error != "":
			return stream.Item{}, errors.New(step.Error)
		case step.WriteFile != nil:
			if err := source.project().WriteFile(step.WriteFile.Path, []byte(step.WriteFile.Code)); err != nil {
				return stream.Item{}, err
			}
		case step.DeleteFile != "":
			if err := source.project().RemoveFile(step.DeleteFile); err != nil {
				return stream.Item{}, err
			}
		case step.Delay != "":
			duration, _ := time.ParseDuration(step.Delay)
			select {
			case <-ctx.Done():
				return stream.Item{}, ctx.Err()
			case <-source.clock.After(duration):
			}
		}
	}
}

func (source *scriptSource) project() projectWriter {
	if source.request.Project == nil {
		return noProject{}
	}
	return source.request.Project
}

func (source *scriptSource) Close() error {
	source.closed = true
	return nil
}

// expand substitutes ${NAME} references with JSON-escaped values.
func (source *scriptSource) expand(payload []byte) []byte {
	text := string(payload)
	for name, value := range source.variables {
		encoded, _ := json.Marshal(value)
		text = strings.ReplaceAll(text, "${"+name+"}", string(encoded[1:len(encoded)-1]))
	}
	return []byte(text)
}

type projectWriter interface {
	WriteFile(relative string, content []byte) error
	RemoveFile(relative string) error
}

// noProject fails every edit when the server tracks no project.
type noProject struct{}

var errNoProject = errors.New("agentruntime: script edits files but no project is configured")

func (noProject) WriteFile(string, []byte) error { return errNoProject }
func (noProject) RemoveFile(string) error        { return errNoProject }
