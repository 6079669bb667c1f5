// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// studio-chat is a terminal client for studio-server. It reads one
// user message per line, streams each reply as it is produced, and
// keeps the conversation across turns. Ctrl-C interrupts the running
// turn; Ctrl-D exits.
//
// With --message the client sends a single turn and exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/agentstudio/studio/lib/chatclient"
	"github.com/agentstudio/studio/lib/config"
	"github.com/agentstudio/studio/lib/conversation"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/process"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/version"
	"github.com/agentstudio/studio/lib/wire"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	serverURL   string
	model       string
	threadID    string
	dedup       string
	tools       []string
	text        string
	noStream    bool
	logLevel    string
	showVersion bool
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("studio-chat", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to studio.yaml (default: $STUDIO_CONFIG)")
	flagSet.StringVar(&opts.serverURL, "server", "", "server base URL (overrides client.server_url)")
	flagSet.StringVar(&opts.model, "model", "", "runtime model name")
	flagSet.StringVar(&opts.threadID, "thread", "", "thread id (default: a new id)")
	flagSet.StringVar(&opts.dedup, "dedup", "", "de-duplication policy: turn or message-id (overrides client.dedup)")
	flagSet.StringSliceVar(&opts.tools, "tool", nil, "tool name to advertise (repeatable)")
	flagSet.StringVarP(&opts.text, "message", "m", "", "send one message and exit")
	flagSet.BoolVar(&opts.noStream, "no-stream", false, "request a single JSON reply instead of a stream")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn, or error")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		version.Print("studio-chat")
		return nil
	}

	level, err := process.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := process.NewTerminalLogger(level)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.serverURL != "" {
		cfg.Client.ServerURL = opts.serverURL
	}
	if opts.dedup != "" {
		cfg.Client.Dedup = opts.dedup
	}
	policy, ok := conversation.ParseDedupPolicy(cfg.Client.Dedup)
	if !ok {
		return fmt.Errorf("unknown dedup policy %q", cfg.Client.Dedup)
	}
	if opts.threadID == "" {
		opts.threadID = uuid.NewString()
	}

	session := &session{
		client: chatclient.New(cfg.Client.ServerURL, chatclient.WithLogger(logger)),
		settings: chatclient.Settings{
			ThreadID: opts.threadID,
			Model:    opts.model,
			Tools:    opts.tools,
		},
		out:    os.Stdout,
		logger: logger,
	}
	session.reducer = conversation.New(
		conversation.WithLogger(logger),
		conversation.WithPolicy(policy),
		conversation.WithTools(opts.tools),
		conversation.WithFilesChanged(func(files wire.Files) {
			if session.printer != nil {
				session.printer.files(files)
			}
		}),
	)

	if opts.text != "" {
		if opts.noStream {
			return session.sendOnce(context.Background(), opts.text)
		}
		return session.turn(context.Background(), opts.text)
	}
	logger.Info("connected", "server", cfg.Client.ServerURL, "thread", opts.threadID, "dedup", policy)
	return session.repl(os.Stdin)
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvVar) != "":
		return config.Load()
	}
	cfg := config.Default()
	cfg.ExpandVariables()
	return cfg, nil
}

type session struct {
	client   *chatclient.Client
	settings chatclient.Settings
	reducer  *conversation.Reducer
	printer  *printer
	out      io.Writer
	logger   *slog.Logger
}

// repl sends one turn per input line until EOF.
func (session *session) repl(input io.Reader) error {
	lines := bufio.NewScanner(input)
	lines.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(session.out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(session.out)
			return lines.Err()
		}
		text := strings.TrimSpace(lines.Text())
		if text == "" {
			continue
		}
		if err := session.interruptibleTurn(text); err != nil {
			return err
		}
	}
}

// interruptibleTurn runs one turn that SIGINT aborts without exiting.
func (session *session) interruptibleTurn(text string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return session.turn(ctx, text)
}

// turn streams one reply. Server and transport failures are already
// in the transcript as system messages, so only an abort or a
// programming error ends the session.
func (session *session) turn(ctx context.Context, text string) error {
	session.printer = newPrinter(session.out, session.reducer)
	user := message.Message{Role: message.RoleUser, Content: message.Text(text)}
	err := session.client.SendTurn(ctx, session.reducer, user, session.settings, func(sse.Event) {
		session.printer.refresh()
	})
	session.printer.finish()
	if errors.Is(err, chatclient.ErrAborted) {
		return nil
	}
	if err != nil {
		session.logger.Warn("turn failed", "error", err)
	}
	return nil
}

// sendOnce uses the non-streaming endpoint.
func (session *session) sendOnce(ctx context.Context, text string) error {
	response, err := session.client.Send(ctx, wire.ChatRequest{
		ThreadID: session.settings.ThreadID,
		Model:    session.settings.Model,
		Tools:    session.settings.Tools,
		Messages: []message.Message{{ID: uuid.NewString(), Role: message.RoleUser, Content: message.Text(text)}},
	})
	if err != nil {
		return err
	}
	display := newPrinter(session.out, nil)
	for _, result := range response.ToolResults {
		display.line("  [%s result] %s", toolLabel(result), firstLine(result.Text()))
	}
	if response.Message != nil {
		display.line("%s", response.Message.Text())
	}
	display.files(response.UpdatedFiles)
	return nil
}
