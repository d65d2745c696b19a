// Package containerpool builds the SSH image lazily, starts and tracks
// containers running an SSH daemon, and reaps containers past their idle
// deadline. It owns the single map of live containers exclusively; every
// other component reads it only through the query methods below.
package containerpool

import (
	"time"

	"github.com/webshell/broker/internal/logging"
)

var logger = logging.GetLogger("container-pool")

// Record is the in-memory handle for a running SSH-serving container. A
// record exists iff the pool believes the runtime still has the container
// and it has not been explicitly destroyed.
type Record struct {
	ContainerID string
	Host        string
	Port        int
	Username    string
	Password    string
	CreatedAt   time.Time
	LastActive  time.Time
}

// Stats is a point-in-time snapshot of a container's activity, shaped for
// the administrative API.
type Stats struct {
	ContainerID string        `json:"containerId"`
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	CreatedAt   time.Time     `json:"createdAt"`
	Duration    time.Duration `json:"duration"`
	IdleTime    time.Duration `json:"idleTime"`
	IsActive    bool          `json:"isActive"`
}

// Config configures image build parameters and the container resource
// footprint for the pool.
type Config struct {
	// Endpoint is the Docker daemon socket, e.g. "unix:///var/run/docker.sock".
	Endpoint string `toml:"endpoint"`

	// APIVersion pins the Docker API version negotiated with the daemon.
	APIVersion string `toml:"api_version"`

	// Image is the tag applied to the locally built SSH image.
	Image string `toml:"image"`

	// StartPort is the first host port tried by the port allocator.
	StartPort int `toml:"start_port"`

	// SSHReadyTimeout bounds how long create() waits for sshd to accept
	// TCP connections after the container starts.
	SSHReadyTimeout time.Duration `toml:"ssh_ready_timeout"`

	// RootPassword is the fixed password baked into the built image, the
	// same value for every container from one build of it. Acceptable
	// because each container is ephemeral, broker-owned, and has no
	// externally reachable network path (see DESIGN.md).
	RootPassword string `toml:"root_password"`
}

// DefaultConfig returns the pool's policy defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "unix:///var/run/docker.sock",
		APIVersion:      "1.43",
		Image:           "webshell-broker-sshd:latest",
		StartPort:       2222,
		SSHReadyTimeout: 30 * time.Second,
		RootPassword:    "password123",
	}
}
