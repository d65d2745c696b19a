package broker

import (
	"sync"
	"time"

	"github.com/webshell/broker/internal/sshtransport"
)

// State is a session's position in the broker state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateCreatingContainer
	StateConnected
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateCreatingContainer:
		return "CreatingContainer"
	case StateConnected:
		return "Connected"
	case StateEnding:
		return "Ending"
	default:
		return "Unknown"
	}
}

// session is the server-side record for one client channel's conversation
// with one SSH shell. Mutated only by the broker, holding mu. No other
// component reaches into a session's fields directly.
type session struct {
	mu sync.Mutex

	socketID string

	state       State
	credentials sshtransport.Credentials
	containerID string

	connectedAt  time.Time
	lastActivity time.Time

	lastConnectAttempt time.Time

	transport *sshtransport.Transport

	// generation increments on every connect attempt. A goroutine started
	// for attempt N checks its captured generation before mutating state,
	// so a late-arriving ready/timeout from a superseded attempt is a
	// silent no-op instead of corrupting a newer attempt's state.
	generation int
}

func newSession(socketID string) *session {
	now := time.Now()

	return &session{
		socketID:     socketID,
		state:        StateIdle,
		connectedAt:  now,
		lastActivity: now,
	}
}

// Snapshot is a value copy safe to read without the session lock held.
type Snapshot struct {
	SocketID           string
	State              State
	ContainerID        string
	Host               string
	Port               int
	Username           string
	ConnectedAt        time.Time
	LastActivity       time.Time
	LastConnectAttempt time.Time
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		SocketID:           s.socketID,
		State:              s.state,
		ContainerID:        s.containerID,
		Host:               s.credentials.Host,
		Port:               s.credentials.Port,
		Username:           s.credentials.Username,
		ConnectedAt:        s.connectedAt,
		LastActivity:       s.lastActivity,
		LastConnectAttempt: s.lastConnectAttempt,
	}
}
