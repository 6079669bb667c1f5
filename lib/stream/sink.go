// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/agentstudio/studio/lib/sse"
)

// Sink receives the outward event sequence. [sse.Writer] implements
// Sink.
type Sink interface {
	WriteEvent(name string, data any) error
}

// Recorder is a Sink that keeps every event in memory with its payload
// encoded as JSON. The non-streaming handler and tests use it.
type Recorder struct {
	Events []sse.Event
}

// WriteEvent records one event.
func (recorder *Recorder) WriteEvent(name string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("stream: marshaling %s payload: %w", name, err)
	}
	recorder.Events = append(recorder.Events, sse.Event{Name: name, Data: encoded})
	return nil
}

// Names returns the recorded event names in order.
func (recorder *Recorder) Names() []string {
	names := make([]string, len(recorder.Events))
	for i, event := range recorder.Events {
		names[i] = event.Name
	}
	return names
}
