// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// frameSeparator ends every frame.
const frameSeparator = "\n\n"

// maxLoggedData caps how much of a malformed payload is logged.
const maxLoggedData = 256

// Parser reassembles frames from a byte stream delivered in arbitrary
// chunks. The only buffered state is the undecoded tail of the last
// chunk and the text of one incomplete frame.
//
// Parser is not safe for concurrent use.
type Parser struct {
	logger  *slog.Logger
	decoder transform.Transformer

	// carry holds the bytes of an incomplete UTF-8 sequence at the
	// end of the previous chunk.
	carry []byte

	// pending is decoded text after the last complete frame.
	pending string

	terminator string
	terminated bool
}

// NewParser creates a Parser. Malformed frames are reported to logger;
// a nil logger discards them.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parser{
		logger:  logger,
		decoder: unicode.UTF8.NewDecoder(),
	}
}

// SetTerminator makes a frame whose data is exactly data end the
// stream, the way OpenAI-compatible APIs send "data: [DONE]". Nothing
// after it is returned.
func (parser *Parser) SetTerminator(data string) {
	parser.terminator = data
}

// Terminated reports whether the terminator frame has been seen.
func (parser *Parser) Terminated() bool {
	return parser.terminated
}

// Feed decodes chunk and returns every frame it completes, in order.
func (parser *Parser) Feed(chunk []byte) []Event {
	parser.pending += parser.decode(chunk, false)
	return parser.drain()
}

// Close flushes any carried bytes (invalid trailing bytes decode to
// U+FFFD) and returns the frames that completes. A trailing frame that
// was never terminated by a blank line is still returned, matching
// what a stream that ends mid-frame most plausibly meant.
func (parser *Parser) Close() []Event {
	parser.pending += parser.decode(nil, true)
	events := parser.drain()
	rest := parser.pending
	parser.pending = ""
	if !parser.terminated && strings.TrimSpace(rest) != "" {
		if event, ok := parser.parseFrame(rest); ok {
			events = append(events, event)
		}
	}
	return events
}

// decode runs src through the streaming UTF-8 decoder, keeping an
// incomplete trailing sequence for the next call unless atEOF.
func (parser *Parser) decode(chunk []byte, atEOF bool) string {
	source := make([]byte, 0, len(parser.carry)+len(chunk))
	source = append(source, parser.carry...)
	source = append(source, chunk...)
	parser.carry = nil
	if len(source) == 0 {
		return ""
	}

	// Each invalid byte can expand to a 3-byte replacement character.
	destination := make([]byte, 3*len(source)+utf8.UTFMax)
	written, consumed, err := parser.decoder.Transform(destination, source, atEOF)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		// The UTF-8 decoder only fails for lack of room, which the
		// sizing above rules out. Keep the raw bytes rather than
		// losing data.
		parser.logger.Warn("sse: utf-8 decoder failed", "error", err)
		return string(source)
	}
	if consumed < len(source) {
		parser.carry = append([]byte(nil), source[consumed:]...)
	}
	return string(destination[:written])
}

// drain splits every complete frame off the pending text.
func (parser *Parser) drain() []Event {
	var events []Event
	for !parser.terminated {
		end := strings.Index(parser.pending, frameSeparator)
		if end < 0 {
			return events
		}
		frame := parser.pending[:end]
		parser.pending = parser.pending[end+len(frameSeparator):]
		if event, ok := parser.parseFrame(frame); ok {
			events = append(events, event)
		}
	}
	parser.pending = ""
	return events
}

// parseFrame interprets the lines of one frame. Returns false for a
// frame without data or with data that is not valid JSON.
func (parser *Parser) parseFrame(frame string) (Event, bool) {
	name := ""
	var dataLines []string
	for line := range strings.SplitSeq(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			// One optional space after the colon belongs to the
			// framing, not the payload.
			dataLines = append(dataLines, strings.TrimPrefix(line[len("data:"):], " "))
		}
	}
	if len(dataLines) == 0 {
		return Event{}, false
	}
	if name == "" {
		name = DefaultEventName
	}

	data := strings.Join(dataLines, "\n")
	if parser.terminator != "" && data == parser.terminator {
		parser.terminated = true
		return Event{}, false
	}
	if !json.Valid([]byte(data)) {
		logged := data
		if len(logged) > maxLoggedData {
			logged = logged[:maxLoggedData] + "..."
		}
		parser.logger.Warn("sse: skipping frame with malformed data", "event", name, "data", logged)
		return Event{}, false
	}
	return Event{Name: name, Data: json.RawMessage(data)}, true
}

// Scanner reads frames from an io.Reader.
//
// Usage:
//
//	scanner := NewScanner(body, logger)
//	for scanner.Next() {
//	    event := scanner.Event()
//	    // route event.Name, decode event.Data
//	}
//	if err := scanner.Err(); err != nil {
//	    // transport failure or cancellation
//	}
type Scanner struct {
	reader  io.Reader
	parser  *Parser
	buffer  []byte
	queue   []Event
	current Event
	err     error
	closed  bool
}

// NewScanner creates a Scanner that reads from reader in chunks of up
// to 4 KiB, so at most one read's worth of text is buffered beyond the
// frame being assembled.
func NewScanner(reader io.Reader, logger *slog.Logger) *Scanner {
	return &Scanner{
		reader: reader,
		parser: NewParser(logger),
		buffer: make([]byte, 4096),
	}
}

// Next advances to the next frame. Returns false at end of stream or
// on a read error; [Scanner.Err] distinguishes the two.
func (scanner *Scanner) Next() bool {
	for len(scanner.queue) == 0 {
		if scanner.closed || scanner.parser.Terminated() {
			return false
		}
		read, err := scanner.reader.Read(scanner.buffer)
		if read > 0 {
			scanner.queue = append(scanner.queue, scanner.parser.Feed(scanner.buffer[:read])...)
		}
		if err != nil {
			scanner.closed = true
			if errors.Is(err, io.EOF) {
				scanner.queue = append(scanner.queue, scanner.parser.Close()...)
			} else {
				scanner.err = err
			}
		}
	}
	scanner.current = scanner.queue[0]
	scanner.queue = scanner.queue[1:]
	return true
}

// SetTerminator ends the scan cleanly at a frame whose data is
// exactly data. See [Parser.SetTerminator].
func (scanner *Scanner) SetTerminator(data string) {
	scanner.parser.SetTerminator(data)
}

// Event returns the frame read by the last successful [Scanner.Next].
func (scanner *Scanner) Event() Event {
	return scanner.current
}

// Err returns the read error that ended the scan, or nil for a clean
// end of stream.
func (scanner *Scanner) Err() error {
	return scanner.err
}
