// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
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
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/metrics"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/process"
	"github.com/cordon-foundation/cordon/lib/ratelimit"
	"github.com/cordon-foundation/cordon/lib/version"
	"github.com/cordon-foundation/cordon/node"
	"github.com/cordon-foundation/cordon/transport"
)

// enrollLimitTTL bounds how long a candidate peer's rate-limit bucket
// survives between enrollment attempts before it is garbage
// collected.
const enrollLimitTTL = time.Hour

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
		fmt.Printf("cordon-authority %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required (or set %s)", config.EnvConfigPath)
	}

	cfg, err := config.LoadAuthority(configPath)
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

	store, err := authority.OpenSQLiteStore(authority.SQLiteConfig{
		Path:   cfg.StorePath(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening trust store: %w", err)
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.MetricsAddress != "" {
		m = metrics.New()
	}

	var enrollLimit *ratelimit.Limiter
	if cfg.EnrollPerSecond > 0 {
		enrollLimit = ratelimit.New(cfg.EnrollPerSecond, cfg.EnrollBurst, enrollLimitTTL)
	}

	clk := clock.Real()
	auth, err := authority.New(authority.Config{
		Identity:    ident,
		Store:       store,
		Validity:    cfg.CredentialValidity.Std(),
		EnrollLimit: enrollLimit,
		Clock:       clk,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	policies, err := loadPolicies(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	router := node.NewRouter()
	auth.Register(router)

	// The authority presents no credential of its own: clients pin
	// its public key through their configuration, so its sessions
	// stay semi-trusted and its methods are gated by the policy set
	// on the subjects' credentials instead.
	registry := transport.NewRegistry()
	dispatcher := node.NewDispatcher(node.DispatcherConfig{
		Identity:         ident,
		Trust:            auth.TrustedIssuers(),
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

	admin := &adminService{
		auth:     auth,
		registry: registry,
		clock:    clk,
		started:  clk.Now(),
	}
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

	if m != nil {
		metricsServer := metrics.NewServer(cfg.MetricsAddress, m, logger)
		go func() {
			if err := metricsServer.Serve(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("authority running",
		"peer_id", ident.PeerID(),
		"listen", listener.Address(),
		"admin_socket", cfg.AdminSocketPath(),
		"validity", cfg.CredentialValidity.Std().String(),
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

// loadPolicies reads the configured policy document, or builds the
// default set when none is configured: enrollment open to any
// session, lookup and revoke restricted to operator credentials.
func loadPolicies(path string) (*policy.Set, error) {
	if path != "" {
		return policy.LoadFile(path)
	}
	var policies []policy.Policy
	for _, spec := range []struct {
		name, resource, rule string
	}{
		{"open-enrollment", "authority/enroll", "true"},
		{"operator-lookup", "authority/lookup", `subject.role == "operator"`},
		{"operator-revoke", "authority/revoke", `subject.role == "operator"`},
	} {
		p, err := policy.NewPolicy(spec.name, spec.resource, spec.rule)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policy.NewSet(policies...)
}
