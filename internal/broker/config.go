package broker

import (
	"time"

	"github.com/webshell/broker/internal/sshtransport"
)

// Config carries every rate-limit and timing policy constant as a single
// record passed to the broker and supervisor at construction: these are
// policy, not scattered magic numbers.
type Config struct {
	MinConnectInterval     time.Duration `toml:"min_connect_interval"`
	ConnectTimeout         time.Duration `toml:"connect_timeout"`
	IdleTimeout            time.Duration `toml:"idle_timeout"`
	HealthSweepInterval    time.Duration `toml:"health_sweep_interval"`
	SessionSweepInterval   time.Duration `toml:"session_sweep_interval"`
	ContainerSweepInterval time.Duration `toml:"container_sweep_interval"`
	StuckConnectingTimeout time.Duration `toml:"stuck_connecting_timeout"`
	ContainerReadyGrace    time.Duration `toml:"container_ready_grace"`

	// ReconnectWindow bounds how long a disconnected session's container
	// and credentials are held for a reconnect under the same socket ID,
	// distinct from IdleTimeout: this governs how long a container
	// survives a channel drop with no explicit end-session.
	ReconnectWindow time.Duration `toml:"reconnect_window"`

	// Transport carries the SSH dial timeout and keepalive policy applied
	// to every connection this broker opens.
	Transport sshtransport.Config `toml:"transport"`
}

// DefaultConfig returns the broker's policy defaults.
func DefaultConfig() Config {
	return Config{
		MinConnectInterval:     2 * time.Second,
		ConnectTimeout:         30 * time.Second,
		IdleTimeout:            30 * time.Minute,
		HealthSweepInterval:    time.Minute,
		SessionSweepInterval:   5 * time.Minute,
		ContainerSweepInterval: 10 * time.Minute,
		StuckConnectingTimeout: 60 * time.Second,
		ContainerReadyGrace:    2 * time.Second,
		ReconnectWindow:        2 * time.Minute,
		Transport:              sshtransport.DefaultConfig(),
	}
}
