// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatclient talks to a studio server's chat endpoint and
// feeds the streamed events into a [conversation.Reducer].
//
// A turn is one POST whose response body is an event stream. The read
// loop is the only consumer of that body: it parses frames with
// [sse.Scanner], checks for cancellation before every fold, and stops
// at the first "done" event or at EOF. Cancelling the context aborts
// the turn: text already folded stays, nothing after it is applied,
// and no system message is added.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentstudio/studio/lib/conversation"
	"github.com/agentstudio/studio/lib/message"
	"github.com/agentstudio/studio/lib/sse"
	"github.com/agentstudio/studio/lib/version"
	"github.com/agentstudio/studio/lib/wire"
)

// ChatPath is the server's chat endpoint.
const ChatPath = "/api/chat"

// ErrAborted is returned when the caller cancelled the turn.
var ErrAborted = errors.New("chatclient: turn aborted")

// StatusError is returned when the server answers with a non-200
// status.
type StatusError struct {
	StatusCode int

	// Message is the server's error text, or the raw body when it was
	// not an error payload.
	Message string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("chatclient: HTTP %d: %s", err.StatusCode, err.Message)
}

// Client sends chat turns to one server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient. The client must not set
// a Timeout shorter than the longest expected turn.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) { client.httpClient = httpClient }
}

// WithLogger sets the logger used for malformed frames.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) { client.logger = logger }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, options ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Settings are the per-turn request fields that do not come from the
// conversation.
type Settings struct {
	ThreadID string
	Model    string
	Tools    []string
}

// SendTurn appends user to the conversation, sends the whole
// conversation to the server, and streams the reply into reducer.
// observe, if not nil, is called with every event after it is folded.
func (client *Client) SendTurn(ctx context.Context, reducer *conversation.Reducer, user message.Message, settings Settings, observe func(sse.Event)) error {
	reducer.BeginTurn(user)
	request := wire.ChatRequest{
		ThreadID: settings.ThreadID,
		Model:    settings.Model,
		Messages: reducer.Messages(),
		Tools:    settings.Tools,
		Stream:   true,
	}
	return client.StreamTurn(ctx, reducer, request, observe)
}

// StreamTurn posts request and folds the streamed reply into reducer,
// whose turn must already be open. It returns nil when the stream
// ended with "done" or EOF, [ErrAborted] when ctx was cancelled, and
// otherwise the transport or status error, which is also recorded in
// the conversation as a system message.
func (client *Client) StreamTurn(ctx context.Context, reducer *conversation.Reducer, request wire.ChatRequest, observe func(sse.Event)) error {
	request.Stream = true
	response, err := client.post(ctx, request, true)
	if err != nil {
		return client.fail(ctx, reducer, err)
	}
	defer response.Body.Close()

	scanner := sse.NewScanner(response.Body, client.logger)
	for scanner.Next() {
		if ctx.Err() != nil {
			reducer.Abort()
			return ErrAborted
		}
		event := scanner.Event()
		finished := reducer.Apply(event)
		if observe != nil {
			observe(event)
		}
		if finished {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return client.fail(ctx, reducer, fmt.Errorf("chatclient: reading stream: %w", err))
	}
	if ctx.Err() != nil {
		reducer.Abort()
		return ErrAborted
	}
	reducer.Finish()
	return nil
}

// fail ends the turn after a transport failure. A cancelled context is
// an abort and leaves no trace in the conversation.
func (client *Client) fail(ctx context.Context, reducer *conversation.Reducer, err error) error {
	if ctx.Err() != nil {
		reducer.Abort()
		return ErrAborted
	}
	reducer.AppendSystem(err.Error())
	reducer.Finish()
	return err
}

// Send performs a non-streaming turn and returns the server's single
// response object.
func (client *Client) Send(ctx context.Context, request wire.ChatRequest) (wire.ChatResponse, error) {
	request.Stream = false
	response, err := client.post(ctx, request, false)
	if err != nil {
		return wire.ChatResponse{}, err
	}
	defer response.Body.Close()

	var result wire.ChatResponse
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return wire.ChatResponse{}, fmt.Errorf("chatclient: decoding response: %w", err)
	}
	return result, nil
}

// post sends request and returns a 200 response. On error the body is
// already closed.
func (client *Client) post(ctx context.Context, request wire.ChatRequest, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("chatclient: marshaling request: %w", err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chatclient: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", version.UserAgent())
	if streaming {
		httpRequest.Header.Set("Accept", "text/event-stream")
	}

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("chatclient: sending request: %w", err)
	}
	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readStatusError(httpResponse)
	}
	return httpResponse, nil
}

func readStatusError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))
	text := strings.TrimSpace(string(body))
	if json.Valid(body) {
		text = wire.ErrorText(body)
	}
	return &StatusError{StatusCode: httpResponse.StatusCode, Message: text}
}
