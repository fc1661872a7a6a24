// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/ratelimit"
)

// TCPDialer opens TCP connections to peer nodes. The conn it returns
// is a raw byte stream; the caller runs the handshake over it.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a TCP connection to be
	// established. Zero means no standalone timeout — only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to the given address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}

// TCPListenerConfig configures an accepting transport endpoint.
type TCPListenerConfig struct {
	// Address is the listen address, e.g. ":7781" or
	// "192.168.1.10:7781". Use ":0" for a random available port.
	Address string

	// AcceptLimit rate-limits accepted connections per remote host,
	// keyed by IP. A host over its budget has its connection closed
	// before any handshake work happens. Nil means no limit.
	AcceptLimit *ratelimit.Limiter

	// Clock drives the rate limiter. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives accept-loop events. Defaults to discard.
	Logger *slog.Logger
}

// TCPListener accepts inbound TCP connections from peer nodes and
// hands each raw conn to a handler, which owns it from there
// (handshake, session loop, close).
type TCPListener struct {
	listener net.Listener
	limiter  *ratelimit.Limiter
	clock    clock.Clock
	logger   *slog.Logger
	closed   atomic.Bool
}

// NewTCPListener binds the configured address.
func NewTCPListener(cfg TCPListenerConfig) (*TCPListener, error) {
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", cfg.Address, err)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TCPListener{
		listener: listener,
		limiter:  cfg.AcceptLimit,
		clock:    clk,
		logger:   logger,
	}, nil
}

// Serve accepts connections and runs handle in a new goroutine for
// each. Blocks until ctx is cancelled or Close is called, then
// returns nil. The handler owns the conn it receives, including
// closing it.
func (l *TCPListener) Serve(ctx context.Context, handle func(conn net.Conn)) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}

		if !l.allow(conn) {
			conn.Close()
			continue
		}
		go handle(conn)
	}
}

// allow applies the per-host accept limit.
func (l *TCPListener) allow(conn net.Conn) bool {
	if l.limiter == nil {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if l.limiter.Allow(host, l.clock.Now()) {
		return true
	}
	l.logger.Debug("connection rate limited", "remote", host)
	return false
}

// Address returns the bound address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener. In-flight handler goroutines keep
// their conns.
func (l *TCPListener) Close() error {
	l.closed.Store(true)
	return l.listener.Close()
}
