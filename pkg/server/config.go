package server

import (
	"fmt"
	"time"
)

// Shutdown policies. Graceful waits for in-flight connections to finish
// their pipeline (bounded by ShutdownTimeout); forced closes every tracked
// connection immediately.
const (
	ShutdownGraceful = "graceful"
	ShutdownForced   = "forced"
)

// Config holds the server's network and pipeline settings.
//
// Default values (applied by New if zero):
//   - Port: 0 (ephemeral; the daemon config layer supplies 2200)
//   - MaxConnections: 0 (unlimited)
//   - HandshakeTimeout: 30s (covers SSH handshake, subsystem negotiation,
//     and the hello exchange)
//   - RPCTimeout: 60s (per RPC round-trip, facts gathering and callback)
//   - ShutdownPolicy: graceful
//   - ShutdownTimeout: 30s
type Config struct {
	// BindAddress is the local address to listen on. Empty means all
	// interfaces.
	BindAddress string `mapstructure:"bind_address"`

	// Port is the TCP port devices dial out to. 0 binds an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent device connections. When reached,
	// accepting pauses until a connection closes. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// HandshakeTimeout bounds everything from accept to a ready NETCONF
	// session: optional announcement preamble, SSH handshake and
	// authentication, subsystem negotiation, and hello exchange.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"min=0"`

	// RPCTimeout bounds a single RPC round-trip, both during facts
	// gathering and for callback-issued RPCs without their own deadline.
	RPCTimeout time.Duration `mapstructure:"rpc_timeout" validate:"min=0"`

	// ShutdownPolicy selects graceful or forced stop behavior.
	ShutdownPolicy string `mapstructure:"shutdown_policy" validate:"omitempty,oneof=graceful forced"`

	// ShutdownTimeout bounds the graceful wait for in-flight connections;
	// after it expires remaining connections are force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// HostKeyFile is the path to the PEM-encoded ed25519 host key. A key
	// is generated and saved there on first start if the file is absent.
	HostKeyFile string `mapstructure:"host_key_file"`

	// AllowAnnouncement tolerates a plaintext device announcement
	// preamble ahead of the SSH version exchange.
	AllowAnnouncement bool `mapstructure:"allow_announcement"`
}

// AuthConfig holds the credentials devices must present. Password
// authentication is always enabled; public-key authentication is enabled
// when AuthorizedKeysFile is set. Exactly one authenticated identity is
// accepted per connection.
type AuthConfig struct {
	// User is the login name devices authenticate as.
	User string `mapstructure:"user" validate:"required"`

	// Password is the shared device credential. Required unless an
	// authorized keys file is configured.
	Password string `mapstructure:"password"`

	// AuthorizedKeysFile optionally enables public-key authentication
	// against the keys listed in the file (authorized_keys format).
	AuthorizedKeysFile string `mapstructure:"authorized_keys_file"`

	// MaxAuthTries bounds authentication attempts per connection before
	// the handshake is rejected. Defaults to 3.
	MaxAuthTries int `mapstructure:"max_auth_tries" validate:"min=0"`
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = 60 * time.Second
	}
	if c.ShutdownPolicy == "" {
		c.ShutdownPolicy = ShutdownGraceful
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.HostKeyFile == "" {
		c.HostKeyFile = "osshd_host_ed25519.key"
	}
}

func (a *AuthConfig) ApplyDefaults() {
	if a.MaxAuthTries == 0 {
		a.MaxAuthTries = 3
	}
}

// Validate checks settings that must hold before Start.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ShutdownPolicy != ShutdownGraceful && c.ShutdownPolicy != ShutdownForced {
		return fmt.Errorf("invalid ShutdownPolicy %q: must be %q or %q",
			c.ShutdownPolicy, ShutdownGraceful, ShutdownForced)
	}
	return nil
}

func (a *AuthConfig) Validate() error {
	if a.User == "" {
		return fmt.Errorf("auth user must be set")
	}
	if a.Password == "" && a.AuthorizedKeysFile == "" {
		return fmt.Errorf("auth requires a password or an authorized keys file")
	}
	return nil
}
