// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/agentstudio/studio/lib/conversation"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/wire"
)

// printer renders a turn incrementally: assistant text as it grows,
// tool activity and errors once each.
type printer struct {
	out      io.Writer
	reducer  *conversation.Reducer
	shown    map[string]string
	reported map[string]bool
	current  string
}

func newPrinter(out io.Writer, reducer *conversation.Reducer) *printer {
	return &printer{
		out:      out,
		reducer:  reducer,
		shown:    make(map[string]string),
		reported: make(map[string]bool),
	}
}

// refresh prints whatever the reducer has added since the last call.
func (printer *printer) refresh() {
	printer.render(false)
}

// render prints new turn content. Tool calls of the newest message
// may still be streaming their name or arguments, so they wait until
// a later message arrives or the turn is final.
func (printer *printer) render(final bool) {
	turns := printer.reducer.TurnMessages()
	for i, turn := range turns {
		switch turn.Role {
		case message.RoleAssistant:
			printer.assistant(turn, final || i < len(turns)-1)
		case message.RoleTool:
			printer.once("tool:"+turn.ID, func() {
				printer.line("  [%s result] %s", toolLabel(turn), firstLine(turn.Text()))
			})
		case message.RoleSystem:
			printer.once("system:"+turn.ID, func() {
				printer.line("! %s", turn.Text())
			})
		}
	}
}

func (printer *printer) assistant(turn message.Message, settled bool) {
	text := turn.Text()
	previous := printer.shown[turn.ID]
	switch {
	case text == previous:
	case strings.HasPrefix(text, previous) && printer.current == turn.ID:
		fmt.Fprint(printer.out, text[len(previous):])
	default:
		// A replaced message or a new one starts on its own line.
		printer.breakLine()
		fmt.Fprint(printer.out, text)
		printer.current = turn.ID
	}
	printer.shown[turn.ID] = text

	if !settled {
		return
	}
	for _, call := range turn.ToolCalls {
		if call.ID == "" {
			continue
		}
		printer.once("call:"+call.ID, func() {
			printer.line("  -> %s(%s)", call.Function.Name, call.Function.Arguments)
		})
	}
}

// files reports a files event.
func (printer *printer) files(changed wire.Files) {
	var written, deleted []string
	for path, change := range changed {
		if change.Deleted {
			deleted = append(deleted, path)
		} else {
			written = append(written, path)
		}
	}
	slices.Sort(written)
	slices.Sort(deleted)
	if len(written) > 0 {
		printer.line("  files written: %s", strings.Join(written, ", "))
	}
	if len(deleted) > 0 {
		printer.line("  files deleted: %s", strings.Join(deleted, ", "))
	}
}

// finish terminates the current line at the end of a turn.
func (printer *printer) finish() {
	printer.render(true)
	printer.breakLine()
	if printer.reducer.Aborted() {
		fmt.Fprintln(printer.out, "(interrupted)")
	}
}

func (printer *printer) once(key string, render func()) {
	if printer.reported[key] {
		return
	}
	printer.reported[key] = true
	render()
}

func (printer *printer) line(format string, arguments ...any) {
	printer.breakLine()
	fmt.Fprintf(printer.out, format+"\n", arguments...)
}

func (printer *printer) breakLine() {
	if printer.current != "" {
		fmt.Fprintln(printer.out)
		printer.current = ""
	}
}

func toolLabel(turn message.Message) string {
	if turn.Name != "" {
		return turn.Name
	}
	return "tool"
}

func firstLine(text string) string {
	line, _, cut := strings.Cut(text, "\n")
	if cut {
		return line + " ..."
	}
	return line
}
