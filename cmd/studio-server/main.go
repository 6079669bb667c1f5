// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// studio-server serves the agent chat endpoint. Each POST /api/chat
// runs one agent turn and streams the normalized result to the client
// as server-sent events, or answers with a single JSON document when
// the request disables streaming.
//
// Configuration comes from --config or STUDIO_CONFIG; without either
// the development defaults apply. Flags override the file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/agentstudio/studio/lib/agentruntime"
	"github.com/agentstudio/studio/lib/chatserver"
	"github.com/agentstudio/studio/lib/clock"
	"github.com/agentstudio/studio/lib/config"
	"github.com/agentstudio/studio/lib/process"
	"github.com/agentstudio/studio/lib/projectfs"
	"github.com/agentstudio/studio/lib/service"
	"github.com/agentstudio/studio/lib/shape"
	"github.com/agentstudio/studio/lib/stream"
	"github.com/agentstudio/studio/lib/transcriptstore"
	"github.com/agentstudio/studio/lib/ttlcache"
	"github.com/agentstudio/studio/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		address     string
		projectRoot string
		scriptPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("studio-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to studio.yaml (default: $STUDIO_CONFIG)")
	flagSet.StringVar(&address, "address", "", "listen address (overrides server.address)")
	flagSet.StringVar(&projectRoot, "project", "", "project directory to track (overrides project.root)")
	flagSet.StringVar(&scriptPath, "script", "", "JSONC agent script (overrides runtime.script)")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("studio-server")
		return nil
	}

	level, err := process.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := process.NewLogger(os.Stderr, level)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Server.Address = address
	}
	if projectRoot != "" {
		cfg.Project.Root = projectRoot
	}
	if scriptPath != "" {
		cfg.Runtime.Script = scriptPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, runtimes, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.Runtime.CacheTTL > 0 {
		go runtimes.Run(ctx, cfg.Runtime.CacheTTL)
	}

	logger.Info("starting studio-server",
		"version", version.Info(),
		"environment", cfg.Environment,
		"project", cfg.Project.Root,
		"transcripts", cfg.Transcripts.Dir,
		"script", cfg.Runtime.Script,
	)

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Server.Address,
		Handler:         handler,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})
	return server.Serve(ctx)
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

func buildServer(cfg *config.Config, logger *slog.Logger) (*chatserver.Server, *ttlcache.Cache[string, agentruntime.Runtime], error) {
	source := clock.Real()

	var project *projectfs.Project
	if cfg.Project.Root != "" {
		var err error
		project, err = projectfs.Open(cfg.Project.Root, projectfs.Options{
			Ignore:       cfg.Project.Ignore,
			MaxFileBytes: cfg.Project.MaxFileBytes,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	var transcripts *transcriptstore.Store
	if cfg.Transcripts.Dir != "" {
		compression, err := transcriptstore.ParseCompression(cfg.Transcripts.Compression)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.EnsurePaths(); err != nil {
			return nil, nil, err
		}
		transcripts, err = transcriptstore.Open(cfg.Transcripts.Dir,
			transcriptstore.WithCompression(compression),
			transcriptstore.WithClock(source),
			transcriptstore.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
	}

	factory := &agentruntime.Factory{
		ScriptPath: cfg.Runtime.Script,
		Clock:      source,
		Logger:     logger,
	}
	if openai := cfg.Runtime.OpenAI; openai.BaseURL != "" {
		factory.OpenAI = &agentruntime.OpenAIConfig{
			BaseURL:   openai.BaseURL,
			APIKey:    openai.APIKey(),
			Model:     openai.Model,
			MaxTokens: openai.MaxTokens,
		}
	}

	runtimes := ttlcache.New[string, agentruntime.Runtime](cfg.Runtime.CacheTTL, ttlcache.WithClock(source))
	server := chatserver.New(chatserver.Config{
		Multiplexer: stream.New(stream.Config{
			Logger:        logger,
			SuppressNodes: cfg.Stream.SuppressNodes,
			ScanLimits: shape.ScanLimits{
				MaxDepth: cfg.Stream.ScanMaxDepth,
				MaxWidth: cfg.Stream.ScanMaxWidth,
			},
		}),
		Factory:      factory,
		Runtimes:     runtimes,
		DefaultModel: cfg.Runtime.DefaultModel,
		Project:      project,
		Transcripts:  transcripts,
		Logger:       logger,
	})
	return server, runtimes, nil
}
