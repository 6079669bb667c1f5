// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrInvalidEventName is returned for an event name that would break
// the frame it is written into.
var ErrInvalidEventName = errors.New("sse: event name contains a line break")

// ValidEventName reports whether name can be written on a single
// event: line.
func ValidEventName(name string) bool {
	return !strings.ContainsAny(name, "\r\n")
}

// Writer frames events onto a response body. Writer is not safe for
// concurrent use; one request owns one Writer.
type Writer struct {
	destination io.Writer
	response    http.ResponseWriter
	flusher     http.Flusher
	started     bool
	frames      int
}

// NewWriter returns a Writer for an HTTP response. Headers are sent
// on [Writer.Start] or implicitly before the first frame.
func NewWriter(response http.ResponseWriter) *Writer {
	flusher, _ := response.(http.Flusher)
	return &Writer{
		destination: response,
		response:    response,
		flusher:     flusher,
	}
}

// NewStreamWriter returns a Writer over a plain io.Writer. No headers
// are written and flushing is a no-op. Used by tests and by callers
// that frame into a buffer.
func NewStreamWriter(destination io.Writer) *Writer {
	return &Writer{destination: destination, started: true}
}

// SetHeaders sets the streaming response headers on header.
func SetHeaders(header http.Header) {
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	// Reverse proxies (nginx) buffer responses unless told otherwise.
	header.Set("X-Accel-Buffering", "no")
}

// Start sends the response headers and flushes them immediately.
// Calling Start more than once is a no-op.
func (writer *Writer) Start() {
	if writer.started {
		return
	}
	writer.started = true
	if writer.response == nil {
		return
	}
	SetHeaders(writer.response.Header())
	writer.response.WriteHeader(http.StatusOK)
	writer.flush()
}

// WriteEvent marshals data as JSON and writes it as one frame.
func (writer *Writer) WriteEvent(name string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sse: marshaling %s payload: %w", name, err)
	}
	return writer.WriteRaw(name, encoded)
}

// WriteRaw writes an already-encoded JSON payload as one frame.
func (writer *Writer) WriteRaw(name string, data []byte) error {
	frame, err := EncodeFrame(name, data)
	if err != nil {
		return err
	}
	writer.Start()
	if _, err := writer.destination.Write(frame); err != nil {
		return fmt.Errorf("sse: writing %s frame: %w", name, err)
	}
	writer.frames++
	writer.flush()
	return nil
}

// Frames returns the number of frames written.
func (writer *Writer) Frames() int {
	return writer.frames
}

func (writer *Writer) flush() {
	if writer.flusher != nil {
		writer.flusher.Flush()
	}
}

// EncodeFrame returns the wire bytes of one frame. Each line of data
// becomes its own data: line. A name with CR or LF is rejected with
// [ErrInvalidEventName].
func EncodeFrame(name string, data []byte) ([]byte, error) {
	if !ValidEventName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}
	var buffer bytes.Buffer
	buffer.Grow(len(name) + len(data) + 16)
	buffer.WriteString("event: ")
	buffer.WriteString(name)
	buffer.WriteByte('\n')
	for line := range bytes.SplitSeq(data, []byte("\n")) {
		buffer.WriteString("data: ")
		buffer.Write(line)
		buffer.WriteByte('\n')
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}
