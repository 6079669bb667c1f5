// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/lib/agentruntime"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/projectfs"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/stream"
	"github.com/agentstudio/studio/lib/transcriptstore"
	"github.com/agentstudio/studio/lib/ttlcache"
	"github.com/agentstudio/studio/lib/wire"
)

// ThreadHeader carries the thread id of a chat response, including
// ids the server assigned.
const ThreadHeader = "X-Studio-Thread"

// DefaultMaxRequestBytes bounds the decoded chat request body.
const DefaultMaxRequestBytes = 8 << 20

// RuntimeFactory builds a runtime for a model name. It is satisfied
// by *agentruntime.Factory.
type RuntimeFactory interface {
	New(ctx context.Context, model string) (agentruntime.Runtime, error)
}

// Config wires a Server to its collaborators.
type Config struct {
	// Multiplexer turns runtime items into client events. Required.
	Multiplexer *stream.Multiplexer

	// Factory builds runtimes on a cache miss. Required.
	Factory RuntimeFactory

	// Runtimes caches built runtimes by model name. Required.
	Runtimes *ttlcache.Cache[string, agentruntime.Runtime]

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// Project is the tree whose changes are reported after each
	// turn. Nil disables change tracking.
	Project *projectfs.Project

	// Transcripts persists each thread. Nil disables persistence.
	Transcripts *transcriptstore.Store

	// MaxRequestBytes bounds request bodies. Defaults to
	// [DefaultMaxRequestBytes].
	MaxRequestBytes int64

	// NewThreadID assigns ids to requests without one. Defaults to
	// uuid.NewString.
	NewThreadID func() string

	Logger *slog.Logger
}

// Server is the chat HTTP handler.
type Server struct {
	multiplexer     *stream.Multiplexer
	factory         RuntimeFactory
	runtimes        *ttlcache.Cache[string, agentruntime.Runtime]
	defaultModel    string
	project         *projectfs.Project
	transcripts     *transcriptstore.Store
	maxRequestBytes int64
	newThreadID     func() string
	logger          *slog.Logger
	mux             *http.ServeMux
}

// New returns a Server. It panics when a required collaborator is
// missing.
func New(config Config) *Server {
	if config.Multiplexer == nil {
		panic("chatserver: Multiplexer is required")
	}
	if config.Factory == nil {
		panic("chatserver: Factory is required")
	}
	if config.Runtimes == nil {
		panic("chatserver: Runtimes is required")
	}
	server := &Server{
		multiplexer:     config.Multiplexer,
		factory:         config.Factory,
		runtimes:        config.Runtimes,
		defaultModel:    config.DefaultModel,
		project:         config.Project,
		transcripts:     config.Transcripts,
		maxRequestBytes: config.MaxRequestBytes,
		newThreadID:     config.NewThreadID,
		logger:          config.Logger,
	}
	if server.maxRequestBytes <= 0 {
		server.maxRequestBytes = DefaultMaxRequestBytes
	}
	if server.newThreadID == nil {
		server.newThreadID = uuid.NewString
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}

	server.mux = http.NewServeMux()
	server.mux.HandleFunc("POST /api/chat", server.handleChat)
	server.mux.HandleFunc("GET /api/threads", server.handleListThreads)
	server.mux.HandleFunc("GET /api/threads/{id}", server.handleGetThread)
	server.mux.HandleFunc("GET /healthz", server.handleHealth)
	return server
}

// ServeHTTP routes to the chat, thread, and health endpoints.
func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	server.mux.ServeHTTP(writer, request)
}

func (server *Server) handleHealth(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.WriteHeader(http.StatusOK)
	writer.Write([]byte("ok"))
}

func (server *Server) handleChat(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var chat wire.ChatRequest
	body := http.MaxBytesReader(writer, request.Body, server.maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&chat); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(chat.Messages) == 0 {
		writeError(writer, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if chat.ThreadID == "" {
		chat.ThreadID = server.newThreadID()
	} else if !transcriptstore.ValidThreadID(chat.ThreadID) {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("invalid thread id %q", chat.ThreadID))
		return
	}
	if chat.Model == "" {
		chat.Model = server.defaultModel
	}

	logger := server.logger.With("thread", chat.ThreadID, "model", chat.Model, "stream", chat.Stream)

	runtime, err := server.runtimes.GetOrLoad(ctx, chat.Model, func(ctx context.Context) (agentruntime.Runtime, error) {
		return server.factory.New(ctx, chat.Model)
	})
	if err != nil {
		if errors.Is(err, agentruntime.ErrUnknownModel) {
			writeError(writer, http.StatusBadRequest, err.Error())
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("resolving runtime failed", "error", err)
		writeError(writer, http.StatusInternalServerError, "runtime unavailable")
		return
	}

	turn := stream.Turn{
		Tools:   chat.Tools,
		Persist: server.persister(chat, logger),
	}
	if server.project != nil {
		tracker, err := server.project.Track(ctx)
		if err != nil {
			logger.Error("project snapshot failed", "error", err)
			writeError(writer, http.StatusInternalServerError, "project snapshot failed")
			return
		}
		turn.Changes = tracker.Changes
	}

	source, err := runtime.Stream(ctx, agentruntime.Request{
		ThreadID: chat.ThreadID,
		Model:    chat.Model,
		Messages: chat.Messages,
		Tools:    chat.Tools,
		Project:  server.project,
	})
	if err != nil {
		logger.Error("starting runtime stream failed", "error", err)
		writeError(writer, http.StatusBadGateway, err.Error())
		return
	}

	writer.Header().Set(ThreadHeader, chat.ThreadID)
	if chat.Stream {
		server.streamTurn(ctx, writer, source, turn, logger)
		return
	}
	server.answerTurn(ctx, writer, source, turn, logger)
}

// streamTurn writes the turn as an event stream. Once headers are
// sent every failure is reported in-band.
func (server *Server) streamTurn(ctx context.Context, writer http.ResponseWriter, source stream.Source, turn stream.Turn, logger *slog.Logger) {
	events := sse.NewWriter(writer)
	events.Start()

	summary, err := server.multiplexer.Run(ctx, source, events, turn)
	server.logTurn(logger, summary, err)
}

// answerTurn runs the turn to completion and answers with a single
// JSON document.
func (server *Server) answerTurn(ctx context.Context, writer http.ResponseWriter, source stream.Source, turn stream.Turn, logger *slog.Logger) {
	var recorder stream.Recorder
	summary, err := server.multiplexer.Run(ctx, source, &recorder, turn)
	server.logTurn(logger, summary, err)
	if err != nil {
		return
	}
	if summary.SourceErr != nil {
		writeError(writer, http.StatusBadGateway, summary.SourceErr.Error())
		return
	}

	response := wire.ChatResponse{UpdatedFiles: summary.Files}
	for i := range summary.Messages {
		collected := summary.Messages[i]
		switch collected.Role {
		case message.RoleAssistant:
			response.Message = &collected
		case message.RoleTool:
			response.ToolResults = append(response.ToolResults, collected)
		}
	}
	writeJSON(writer, http.StatusOK, response)
}

func (server *Server) logTurn(logger *slog.Logger, summary stream.Summary, err error) {
	attributes := []any{
		"events", summary.Events,
		"messages", len(summary.Messages),
		"files", projectfs.Paths(summary.Files),
	}
	switch {
	case err != nil:
		logger.Info("turn interrupted", append(attributes, "error", err)...)
	case summary.SourceErr != nil:
		logger.Warn("turn failed", append(attributes, "error", summary.SourceErr)...)
	default:
		logger.Info("turn complete", attributes...)
	}
}

// persister saves the request history plus the collected messages to
// the thread transcript.
func (server *Server) persister(chat wire.ChatRequest, logger *slog.Logger) func(context.Context, []message.Message) error {
	if server.transcripts == nil {
		return nil
	}
	return func(ctx context.Context, collected []message.Message) error {
		history := make([]message.Message, 0, len(chat.Messages)+len(collected))
		history = append(history, chat.Messages...)
		history = append(history, collected...)
		transcript, err := server.transcripts.Merge(chat.ThreadID, chat.Model, history)
		if err != nil {
			return err
		}
		logger.Debug("transcript saved", "messages", len(transcript.Messages))
		return nil
	}
}

func (server *Server) handleListThreads(writer http.ResponseWriter, request *http.Request) {
	if server.transcripts == nil {
		writeJSON(writer, http.StatusOK, map[string][]string{"threads": {}})
		return
	}
	threads, err := server.transcripts.List()
	if err != nil {
		server.logger.Error("listing transcripts failed", "error", err)
		writeError(writer, http.StatusInternalServerError, "listing transcripts failed")
		return
	}
	if threads == nil {
		threads = []string{}
	}
	writeJSON(writer, http.StatusOK, map[string][]string{"threads": threads})
}

func (server *Server) handleGetThread(writer http.ResponseWriter, request *http.Request) {
	threadID := request.PathValue("id")
	if server.transcripts == nil {
		writeError(writer, http.StatusNotFound, "transcripts are not persisted")
		return
	}
	if !transcriptstore.ValidThreadID(threadID) {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("invalid thread id %q", threadID))
		return
	}
	transcript, err := server.transcripts.Load(threadID)
	if errors.Is(err, transcriptstore.ErrNotFound) {
		writeError(writer, http.StatusNotFound, fmt.Sprintf("thread %q not found", threadID))
		return
	}
	if err != nil {
		server.logger.Error("loading transcript failed", "thread", threadID, "error", err)
		writeError(writer, http.StatusInternalServerError, "loading transcript failed")
		return
	}
	writeJSON(writer, http.StatusOK, transcript)
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func writeError(writer http.ResponseWriter, status int, text string) {
	writeJSON(writer, status, wire.ErrorPayload{Error: text})
}
