// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordon-foundation/cordon/lib/adminsock"
	"github.com/cordon-foundation/cordon/lib/authority"
	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/config"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/metrics"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/process"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/version"
	"github.com/cordon-foundation/cordon/node"
	"github.com/cordon-foundation/cordon/transport"
)

// sweepInterval is how often the outbound session registry is checked
// for idle sessions. Inbound sessions enforce their own idle deadline
// per frame; only the client side needs a sweep.
const sweepInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "configuration file path")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("cordon-node %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required (or set %s)", config.EnvConfigPath)
	}

	cfg, err := config.LoadNode(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	ident, generated, err := identity.LoadOrGenerate(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	if generated {
		logger.Info("identity generated", "peer_id", ident.PeerID())
	}

	issuer, err := authorityPeerID(cfg.Authority)
	if err != nil {
		return err
	}
	authorityName, err := cfg.Authority.PeerName()
	if err != nil {
		return fmt.Errorf("authority endpoint: %w", err)
	}
	table, err := config.ResolverTable(append([]config.Endpoint{cfg.Authority}, cfg.Peers...)...)
	if err != nil {
		return err
	}
	trust := credential.NewTrustedIssuers(issuer)

	var m *metrics.Metrics
	if cfg.MetricsAddress != "" {
		m = metrics.New()
	}

	clk := clock.Real()
	client := node.NewClient(node.ClientConfig{
		Identity:         ident,
		Trust:            trust,
		Resolver:         transport.NewStaticResolver(table),
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		Clock:            clk,
		Logger:           logger,
	})
	defer client.Close()

	chain, err := authority.EnsureCredential(ctx, authority.EnrollmentConfig{
		Client:    client,
		Authority: authorityName,
		Issuer:    issuer,
		Subject:   ident.PeerID(),
		Code:      cfg.EnrollmentCode,
		Path:      cfg.CredentialPath(),
		Clock:     clk,
		Logger:    logger,
	})
	switch {
	case err == nil:
	case errors.Is(err, authority.ErrNoCredential):
		// Peers see this node semi-trusted until it enrolls. Inbound
		// service is unaffected; what callers may do is their policy.
		logger.Warn("starting without a credential",
			"credential_path", cfg.CredentialPath(),
			"authority", authorityName,
		)
		chain = nil
	default:
		return fmt.Errorf("obtaining credential: %w", err)
	}

	policies, err := loadPolicies(cfg.PolicyPath, logger)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	registry := transport.NewRegistry()
	router := node.NewRouter()
	node.NewStatusService(version.Info(), registry, clk).Register(router)

	dispatcher := node.NewDispatcher(node.DispatcherConfig{
		Identity:         ident,
		Chain:            chain,
		Trust:            trust,
		Router:           router,
		Policies:         policies,
		Registry:         registry,
		IdleTimeout:      cfg.SessionIdleTimeout.Std(),
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		Clock:            clk,
		Logger:           logger,
		Metrics:          m,
	})

	listener, err := transport.NewTCPListener(transport.TCPListenerConfig{
		Address: cfg.ListenAddress,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	admin := newAdminService(ident.PeerID(), registry, client.Registry(), chain, clk)
	adminServer := adminsock.NewServer(cfg.AdminSocketPath(), logger)
	admin.registerActions(adminServer)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- listener.Serve(ctx, func(conn net.Conn) {
			dispatcher.HandleConn(ctx, conn)
		})
	}()

	adminDone := make(chan error, 1)
	go func() {
		adminDone <- adminServer.Serve(ctx)
	}()

	if idle := cfg.SessionIdleTimeout.Std(); idle > 0 {
		go sweepOutbound(ctx, client.Registry(), idle, clk, logger)
	}

	if m != nil {
		metricsServer := metrics.NewServer(cfg.MetricsAddress, m, logger)
		go func() {
			if err := metricsServer.Serve(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("node running",
		"peer_id", ident.PeerID(),
		"listen", listener.Address(),
		"admin_socket", cfg.AdminSocketPath(),
		"enrolled", chain != nil,
		"policies", policies.Len(),
	)

	// Wait for shutdown signal, then drain.
	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-serveDone; err != nil {
		logger.Error("listener error", "error", err)
	}
	if err := <-adminDone; err != nil {
		logger.Error("admin socket error", "error", err)
	}
	registry.CloseAll()
	return nil
}

// loadPolicies reads the configured policy document. No document
// means an empty set, which denies every inbound request; the node
// still boots so it can be enrolled and inspected.
func loadPolicies(path string, logger *slog.Logger) (*policy.Set, error) {
	if path != "" {
		return policy.LoadFile(path)
	}
	logger.Warn("no policy file configured: every inbound request is denied")
	return policy.NewSet()
}

// authorityPeerID derives the authority's peer ID from the public key
// pinned in its endpoint entry.
func authorityPeerID(endpoint config.Endpoint) (ref.PeerID, error) {
	key, err := endpoint.Key()
	if err != nil {
		return ref.PeerID{}, fmt.Errorf("authority endpoint: %w", err)
	}
	issuer, err := ref.PeerIDFromFingerprint(identity.Fingerprint(key))
	if err != nil {
		return ref.PeerID{}, fmt.Errorf("authority endpoint: %w", err)
	}
	return issuer, nil
}

// sweepOutbound closes outbound sessions that have sat idle past the
// timeout. The dispatcher handles its own inbound sessions.
func sweepOutbound(ctx context.Context, registry *transport.Registry, timeout time.Duration, clk clock.Clock, logger *slog.Logger) {
	ticker := clk.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := registry.SweepIdle(clk.Now(), timeout); closed > 0 {
				logger.Debug("idle outbound sessions closed", "count", closed)
			}
		}
	}
}
