// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package adminsock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cordon-foundation/cordon/lib/codec"
)

// ActionFunc processes one admin request. The raw parameter is the
// full CBOR request including the "action" field; handlers decode
// action-specific fields from it.
//
// Return a value to include in the success response, or an error for
// a failure response. A nil value produces a bare {ok: true}; a
// non-nil value is marshaled into the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope for every admin socket response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// readTimeout bounds the wait for a client's request. The CLI writes
// immediately after connecting; a connection that idles this long is
// abandoned.
const readTimeout = 30 * time.Second

// writeTimeout bounds the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. Admin requests are tiny;
// the cap exists so a runaway writer cannot balloon server memory.
const maxRequestSize = 1024 * 1024

// Server serves the admin protocol on a Unix socket. Each connection
// handles exactly one request-response cycle.
//
// Register actions with Handle before calling Serve.
type Server struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// active tracks in-flight handlers so Serve can drain them before
	// returning on shutdown.
	active sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath. A nil
// logger discards log output.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers a handler for the given action name. Panics on a
// duplicate action: registration happens once at startup, and a
// duplicate is a programming error.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("adminsock.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections and dispatches requests to registered
// actions. Blocks until ctx is cancelled, then stops accepting and
// waits for in-flight handlers to finish.
//
// A stale socket file at the configured path is removed before
// listening; the socket file is removed again on return. The socket
// is owner-only: the filesystem is the entire access control.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Connecting requires write permission on the socket file. The
	// state directory is already owner-only; this narrows the socket
	// itself the same way in case it is ever placed elsewhere.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		return fmt.Errorf("restricting socket %s: %w", s.socketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("admin socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

// handleConnection processes one request-response cycle.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// One CBOR value is the whole request. The LimitReader keeps a
	// misbehaving writer from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

// writeError sends {ok: false, error: "..."}. Write failures are
// logged at debug level; the connection is closing regardless.
func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} or, for a non-nil result, {ok: true,
// data: <cbor>}.
func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
