// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight scrapes
// to complete after the context is cancelled.
const shutdownTimeout = 5 * time.Second

// Server exposes a Metrics registry over HTTP at /metrics. Follows the
// same lifecycle as the transport listener: Serve(ctx) blocks until the
// context is cancelled, then drains gracefully.
type Server struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	// ready is closed after the listener is bound and the server is
	// accepting connections.
	ready chan struct{}

	// addr is the resolved listen address, available after ready is
	// closed.
	addr net.Addr
}

// NewServer creates a server that will listen on the given TCP address.
// Call Serve to start accepting scrapes.
func NewServer(address string, m *Metrics, logger *slog.Logger) *Server {
	if address == "" {
		panic("metrics.Server: address is required")
	}
	if m == nil {
		panic("metrics.Server: metrics instance is required")
	}
	if logger == nil {
		panic("metrics.Server: logger is required")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		address: address,
		handler: mux,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound and
// accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed. Useful when the configured address uses port 0.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve starts accepting scrape connections. Blocks until ctx is
// cancelled, then stops accepting and waits up to shutdownTimeout for
// in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("metrics: listen on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// Scrape requests are tiny; short timeouts keep a stuck
		// scraper from holding connections open.
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("metrics server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("metrics server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: server shutdown: %w", err)
	}
	return nil
}
