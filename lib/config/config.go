// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/transport"
)

// EnvConfigPath names the config file when --config is not passed.
const EnvConfigPath = "CORDON_CONFIG"

// Duration wraps time.Duration for YAML. It accepts the string forms
// time.ParseDuration accepts, such as "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q (want a value like \"30s\" or \"5m\"): %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Endpoint names a reachable peer: its routing name, dial address,
// and Ed25519 public key in hex. The key pins the handshake — a
// process answering at the address must prove possession of it, so a
// hijacked address or DNS entry cannot impersonate the peer.
type Endpoint struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	PublicKey string `yaml:"public_key"`
}

// PeerName parses the endpoint's routing name.
func (e Endpoint) PeerName() (ref.PeerName, error) {
	return ref.NewPeerName(e.Name)
}

// Key decodes the endpoint's public key.
func (e Endpoint) Key() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(e.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("public key of %q is not hex: %w", e.Name, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key of %q is %d bytes, want %d", e.Name, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// validate collects the endpoint's problems, prefixed with where in
// the file it sits.
func (e Endpoint) validate(position string) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s: name is required", position))
	} else if _, err := ref.NewPeerName(e.Name); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", position, err))
	}
	if e.Address == "" {
		errs = append(errs, fmt.Errorf("%s: address is required", position))
	}
	if e.PublicKey == "" {
		errs = append(errs, fmt.Errorf("%s: public_key is required", position))
	} else if _, err := e.Key(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", position, err))
	}
	return errs
}

// ResolverTable converts config endpoints into the static resolver's
// form. Endpoints must have passed Validate first.
func ResolverTable(endpoints ...Endpoint) (map[ref.PeerName]transport.Endpoint, error) {
	table := make(map[ref.PeerName]transport.Endpoint, len(endpoints))
	for _, endpoint := range endpoints {
		name, err := endpoint.PeerName()
		if err != nil {
			return nil, err
		}
		key, err := endpoint.Key()
		if err != nil {
			return nil, err
		}
		if _, exists := table[name]; exists {
			return nil, fmt.Errorf("duplicate endpoint name %q", endpoint.Name)
		}
		table[name] = transport.Endpoint{Address: endpoint.Address, Key: key}
	}
	return table, nil
}

// NodeConfig configures a cordon-node daemon.
type NodeConfig struct {
	// StateDir holds the identity key, the enrolled credential, and
	// (by default) the admin socket. Created 0700 on first boot.
	StateDir string `yaml:"state_dir"`

	// ListenAddress is the TCP address the dispatcher listens on.
	ListenAddress string `yaml:"listen_address"`

	// PolicyPath is the policy document authorizing inbound requests.
	// Empty means no policies are loaded, and every request is
	// denied.
	PolicyPath string `yaml:"policy_path"`

	// Authority is the issuer this node enrolls with and whose
	// credentials it trusts.
	Authority Endpoint `yaml:"authority"`

	// Peers are the remote nodes this node calls, resolved by name.
	Peers []Endpoint `yaml:"peers"`

	// EnrollmentCode is a one-time code for first boot. Codes are
	// single-use secrets, so the sensible value is an expansion like
	// "${CORDON_ENROLLMENT_CODE:-}" rather than a literal.
	EnrollmentCode string `yaml:"enrollment_code"`

	// SessionIdleTimeout tears down sessions with no traffic. Zero
	// disables idle teardown.
	SessionIdleTimeout Duration `yaml:"session_idle_timeout"`

	// HandshakeTimeout bounds each secure-channel handshake.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`

	// MetricsAddress serves Prometheus metrics when set. Empty
	// disables the metrics listener.
	MetricsAddress string `yaml:"metrics_address"`

	// AdminSocket overrides the admin socket path. Empty means
	// admin.sock inside StateDir.
	AdminSocket string `yaml:"admin_socket"`
}

// DefaultNode returns the node defaults. The config file overrides
// them field by field.
func DefaultNode() *NodeConfig {
	return &NodeConfig{
		StateDir:           "${HOME}/.local/state/cordon/node",
		ListenAddress:      "127.0.0.1:7110",
		SessionIdleTimeout: Duration(5 * time.Minute),
		HandshakeTimeout:   Duration(transport.DefaultHandshakeTimeout),
	}
}

// LoadNode reads, expands, and returns a node configuration. The
// caller validates separately so it can decide how to report.
func LoadNode(path string) (*NodeConfig, error) {
	cfg := DefaultNode()
	if err := unmarshalFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.expand()
	return cfg, nil
}

func (c *NodeConfig) expand() {
	vars := baseVars()
	c.StateDir = expandVars(c.StateDir, vars)
	vars["CORDON_STATE"] = c.StateDir
	c.PolicyPath = expandVars(c.PolicyPath, vars)
	c.AdminSocket = expandVars(c.AdminSocket, vars)
	c.EnrollmentCode = expandVars(c.EnrollmentCode, vars)
	c.Authority.Address = expandVars(c.Authority.Address, vars)
	for i := range c.Peers {
		c.Peers[i].Address = expandVars(c.Peers[i].Address, vars)
	}
}

// Validate reports every problem in the configuration as one joined
// error.
func (c *NodeConfig) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	errs = append(errs, checkListenAddress("listen_address", c.ListenAddress, true)...)
	errs = append(errs, c.Authority.validate("authority")...)
	for i, peer := range c.Peers {
		errs = append(errs, peer.validate(fmt.Sprintf("peers[%d]", i))...)
	}
	if c.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session_idle_timeout must not be negative"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake_timeout must be positive"))
	}
	errs = append(errs, checkListenAddress("metrics_address", c.MetricsAddress, false)...)
	return errors.Join(errs...)
}

// CredentialPath is where the enrolled credential lives at rest.
func (c *NodeConfig) CredentialPath() string {
	return filepath.Join(c.StateDir, "node.credential")
}

// AdminSocketPath returns the admin socket path, defaulting into the
// state directory.
func (c *NodeConfig) AdminSocketPath() string {
	if c.AdminSocket != "" {
		return c.AdminSocket
	}
	return filepath.Join(c.StateDir, "admin.sock")
}

// AuthorityConfig configures a cordon-authority daemon.
type AuthorityConfig struct {
	// StateDir holds the identity key, the trust store, and (by
	// default) the admin socket. Created 0700 on first boot.
	StateDir string `yaml:"state_dir"`

	// ListenAddress is the TCP address the dispatcher listens on.
	ListenAddress string `yaml:"listen_address"`

	// PolicyPath is the policy document gating the authority's
	// methods. Empty means the built-in default: enrollment open to
	// any session, lookup and revoke restricted to operator
	// credentials.
	PolicyPath string `yaml:"policy_path"`

	// CredentialValidity is the validity window of issued
	// credentials.
	CredentialValidity Duration `yaml:"credential_validity"`

	// EnrollPerSecond and EnrollBurst rate-limit enrollment attempts
	// per candidate peer. EnrollPerSecond zero disables the limiter.
	EnrollPerSecond float64 `yaml:"enroll_per_second"`
	EnrollBurst     int     `yaml:"enroll_burst"`

	// SessionIdleTimeout tears down sessions with no traffic. Zero
	// disables idle teardown.
	SessionIdleTimeout Duration `yaml:"session_idle_timeout"`

	// HandshakeTimeout bounds each secure-channel handshake.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`

	// MetricsAddress serves Prometheus metrics when set. Empty
	// disables the metrics listener.
	MetricsAddress string `yaml:"metrics_address"`

	// AdminSocket overrides the admin socket path. Empty means
	// admin.sock inside StateDir.
	AdminSocket string `yaml:"admin_socket"`
}

// DefaultAuthority returns the authority defaults.
func DefaultAuthority() *AuthorityConfig {
	return &AuthorityConfig{
		StateDir:           "${HOME}/.local/state/cordon/authority",
		ListenAddress:      "127.0.0.1:7100",
		CredentialValidity: Duration(24 * time.Hour),
		EnrollPerSecond:    1,
		EnrollBurst:        5,
		SessionIdleTimeout: Duration(5 * time.Minute),
		HandshakeTimeout:   Duration(transport.DefaultHandshakeTimeout),
	}
}

// LoadAuthority reads, expands, and returns an authority
// configuration.
func LoadAuthority(path string) (*AuthorityConfig, error) {
	cfg := DefaultAuthority()
	if err := unmarshalFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.expand()
	return cfg, nil
}

func (c *AuthorityConfig) expand() {
	vars := baseVars()
	c.StateDir = expandVars(c.StateDir, vars)
	vars["CORDON_STATE"] = c.StateDir
	c.PolicyPath = expandVars(c.PolicyPath, vars)
	c.AdminSocket = expandVars(c.AdminSocket, vars)
}

// Validate reports every problem in the configuration as one joined
// error.
func (c *AuthorityConfig) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	errs = append(errs, checkListenAddress("listen_address", c.ListenAddress, true)...)
	if c.CredentialValidity <= 0 {
		errs = append(errs, fmt.Errorf("credential_validity must be positive"))
	}
	if c.EnrollPerSecond < 0 {
		errs = append(errs, fmt.Errorf("enroll_per_second must not be negative"))
	}
	if c.EnrollPerSecond > 0 && c.EnrollBurst < 1 {
		errs = append(errs, fmt.Errorf("enroll_burst must be at least 1 when enroll_per_second is set"))
	}
	if c.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session_idle_timeout must not be negative"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake_timeout must be positive"))
	}
	errs = append(errs, checkListenAddress("metrics_address", c.MetricsAddress, false)...)
	return errors.Join(errs...)
}

// StorePath is where the trust store database lives.
func (c *AuthorityConfig) StorePath() string {
	return filepath.Join(c.StateDir, "trust.db")
}

// AdminSocketPath returns the admin socket path, defaulting into the
// state directory.
func (c *AuthorityConfig) AdminSocketPath() string {
	if c.AdminSocket != "" {
		return c.AdminSocket
	}
	return filepath.Join(c.StateDir, "admin.sock")
}

// unmarshalFile reads one YAML file into cfg.
func unmarshalFile(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// checkListenAddress validates a host:port field. Optional fields
// pass when empty.
func checkListenAddress(field, address string, required bool) []error {
	if address == "" {
		if required {
			return []error{fmt.Errorf("%s is required", field)}
		}
		return nil
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}
	return nil
}

// baseVars seeds the expansion variables available to every field.
func baseVars() map[string]string {
	return map[string]string{
		"HOME": os.Getenv("HOME"),
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Named vars
// win over the environment; an unset variable without a default
// expands to the empty string.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}
