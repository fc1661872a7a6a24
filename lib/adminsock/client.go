// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package adminsock

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cordon-foundation/cordon/lib/codec"
)

// dialTimeout bounds the connect phase, separate from the server's
// read and write timeouts.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the response
// after writing the request, sized to the server's read timeout plus
// write timeout so a slow handler is not cut off.
const responseReadTimeout = 45 * time.Second

// maxResponseSize caps a single CBOR response, matching the server's
// request cap.
const maxResponseSize = 1024 * 1024

// ActionError is returned by Call when the daemon responds with
// ok=false. It carries the daemon's error message and the action that
// failed.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("admin action %q failed: %s", e.Action, e.Message)
}

// Client sends requests to a daemon's admin socket. Each Call opens a
// new connection, matching the server's one-request-per-connection
// model, so a zero-value lifetime is fine: there is nothing to close.
type Client struct {
	socketPath string
}

// NewClient creates a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends one request and decodes the response.
//
// The fields map carries handler-specific request fields; the client
// adds "action" itself. Pass nil for actions that take no parameters.
// The caller must not include an "action" key in fields.
//
// On ok=true, if result is non-nil and the response carries data, the
// data is decoded into result. On ok=false, Call returns an
// *ActionError with the daemon's message. Connection and encoding
// failures are returned as plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := buildRequest(action, fields)

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ActionError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// buildRequest assembles the request map from the caller's fields plus
// the action.
func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// send connects, writes the request, and reads the response. Each
// call is one connection.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so the
	// server does not need this, but it lets the server's read side
	// observe EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
