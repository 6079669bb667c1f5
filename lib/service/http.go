// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultShutdownTimeout bounds the drain phase when the config
// leaves it zero.
const DefaultShutdownTimeout = 10 * time.Second

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address, e.g. "127.0.0.1:8787" or
	// "127.0.0.1:0" for an ephemeral port. Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout is how long in-flight requests may keep running
	// after the serve context ends. Streams still open afterwards are
	// closed. Defaults to [DefaultShutdownTimeout].
	ShutdownTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// HTTPServer serves a handler on a TCP listener until its context
// ends. Chat turns hold their response open for the whole agent run,
// so the server has no write deadline and shutdown ends in a forced
// close rather than an error.
type HTTPServer struct {
	config HTTPServerConfig
	ready  chan struct{}
	addr   net.Addr

	// open counts connections between StateNew and StateClosed or
	// StateHijacked.
	open atomic.Int64
}

// NewHTTPServer validates config and returns an unstarted server.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service.HTTPServer: Address is required")
	case config.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case config.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &HTTPServer{config: config, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address. Valid after Ready.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// URL is the http:// base URL of the bound address. Valid after Ready.
func (s *HTTPServer) URL() string { return "http://" + s.addr.String() }

// OpenConnections reports the connections currently held open.
func (s *HTTPServer) OpenConnections() int64 { return s.open.Load() }

// Serve binds the listener and serves until ctx ends, then drains.
// A listener failure is returned; a drain that times out is not.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ConnState:         s.trackConnection,
		ErrorLog:          slog.NewLogLogger(s.config.Logger.Handler(), slog.LevelWarn),
	}

	failed := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		failed <- err
	}()
	close(s.ready)
	s.config.Logger.Info("http server listening", "address", s.addr.String())

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	return s.drain(server)
}

func (s *HTTPServer) drain(server *http.Server) error {
	s.config.Logger.Info("http server draining",
		"open_connections", s.open.Load(),
		"timeout", s.config.ShutdownTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := server.Shutdown(drainCtx)
	switch {
	case err == nil:
		s.config.Logger.Info("http server stopped")
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		// Closing the connections cancels the remaining request
		// contexts, which ends their turns.
		s.config.Logger.Warn("closing streams still open after drain",
			"open_connections", s.open.Load())
		server.Close()
		return nil
	default:
		return fmt.Errorf("http server shutdown: %w", err)
	}
}

func (s *HTTPServer) trackConnection(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.open.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.open.Add(-1)
	}
}
