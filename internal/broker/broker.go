// Package broker implements the session state machine that ties a
// browser's client channel to a container and an SSH shell: rate limits,
// the connect/create-container/input/resize/disconnect/end-session
// operations, and the error taxonomy used to classify every failure path.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/webshell/broker/internal/auth"
	"github.com/webshell/broker/internal/clientchannel"
	"github.com/webshell/broker/internal/containerpool"
	"github.com/webshell/broker/internal/logging"
	"github.com/webshell/broker/internal/sshtransport"
)

var logger = logging.GetLogger("broker")

// Broker is the process-wide singleton tying every client channel to its
// session, container, and SSH transport. Construct exactly one and hold it
// in the main task; do not discover it lazily.
type Broker struct {
	cfg       Config
	pool      *containerpool.Manager
	validator auth.CredentialValidator
	audit     *AuditLogger

	mu       sync.Mutex
	sessions map[string]*session
	channels map[string]*clientchannel.Channel

	pending map[string]*pendingReconnect
}

// pendingReconnect preserves a disconnected session's container and
// credentials for a short window so a client reconnecting under the same
// socket ID can resume without re-entering credentials or paying the cost
// of a fresh container build.
type pendingReconnect struct {
	containerID string
	credentials sshtransport.Credentials
	expiresAt   time.Time
}

// New constructs a Broker. validator may be nil, in which case credentials
// are only checked structurally.
func New(cfg Config, pool *containerpool.Manager, validator auth.CredentialValidator) *Broker {
	return &Broker{
		cfg:       cfg,
		pool:      pool,
		validator: validator,
		audit:     NewAuditLogger(),
		sessions:  make(map[string]*session),
		channels:  make(map[string]*clientchannel.Channel),
		pending:   make(map[string]*pendingReconnect),
	}
}

// Attach binds a freshly-upgraded channel to a new session and runs its
// event dispatch loop until the channel closes. Blocks; call in its own
// goroutine per channel.
func (b *Broker) Attach(ch *clientchannel.Channel) {
	s := newSession(ch.ID)

	b.mu.Lock()
	if p, ok := b.pending[ch.ID]; ok && time.Now().Before(p.expiresAt) {
		s.containerID = p.containerID
		s.credentials = p.credentials
	}
	delete(b.pending, ch.ID)
	b.sessions[ch.ID] = s
	b.channels[ch.ID] = ch
	b.mu.Unlock()

	logger.WithField("socket", ch.ID).Info("channel attached")

	for ev := range ch.Events() {
		b.dispatch(ch, s, ev)
	}

	b.cleanupChannel(ch.ID)
}

func (b *Broker) dispatch(ch *clientchannel.Channel, s *session, ev clientchannel.Event) {
	switch ev.Name {
	case clientchannel.EventConnect:
		var payload clientchannel.ConnectPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			ch.SendError(Message(KindValidation, "malformed connect payload"))

			return
		}

		b.handleConnect(ch, s, payload)

	case clientchannel.EventCreateContainer:
		b.handleCreateContainer(ch, s)

	case clientchannel.EventInput:
		var payload clientchannel.InputPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}

		b.handleInput(s, payload.Data)

	case clientchannel.EventResize:
		var payload clientchannel.ResizePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}

		b.handleResize(s, payload)

	case clientchannel.EventDisconnect:
		b.handleDisconnect(ch, s)

	default:
		logger.WithField("socket", s.socketID).Debugf("unhandled event %q", ev.Name)
	}
}

func (b *Broker) handleConnect(ch *clientchannel.Channel, s *session, payload clientchannel.ConnectPayload) {
	creds := sshtransport.Credentials{
		Host:       payload.Host,
		Port:       payload.Port,
		Username:   payload.Username,
		Password:   payload.Password,
		PrivateKey: []byte(payload.PrivateKey),
		Passphrase: payload.Passphrase,
	}

	s.mu.Lock()
	if !s.lastConnectAttempt.IsZero() && time.Since(s.lastConnectAttempt) < b.cfg.MinConnectInterval {
		s.mu.Unlock()
		ch.SendError(Message(KindRateLimited, ""))

		return
	}

	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		ch.SendError(Message(KindBusy, ""))

		return
	}
	s.lastConnectAttempt = time.Now()
	s.mu.Unlock()

	if err := creds.Validate(); err != nil {
		ch.SendError(Message(KindValidation, err.Error()))

		return
	}

	if b.validator != nil {
		if err := b.validator.ValidateCredentials(creds); err != nil {
			ch.SendError(Message(KindValidation, err.Error()))

			return
		}
	}

	containerID := payload.ContainerID

	b.attemptConnect(ch, s, creds, containerID)
}

// attemptConnect drives Idle/CreatingContainer → Connecting → Connected|Idle.
// It never holds s.mu across the blocking SSH dial: state is read/written
// under the lock, released, and reacquired only to commit the outcome.
func (b *Broker) attemptConnect(ch *clientchannel.Channel, s *session, creds sshtransport.Credentials, containerID string) {
	s.mu.Lock()
	if containerID != "" {
		s.containerID = containerID
	}
	s.state = StateConnecting
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	go b.runConnectTimeout(ch, s, gen)

	transport, err := sshtransport.Open(creds, b.cfg.Transport)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()

		if err == nil {
			transport.Close()
		}

		return
	}

	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()

		ch.SendError(ClassifiedMessage(fmt.Errorf("ssh connect: %w", err)))

		return
	}

	s.transport = transport
	s.credentials = creds
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.lastActivity = time.Now()
	cid := s.containerID
	s.mu.Unlock()

	b.audit.LogConnect(s.socketID, creds.Host, creds.Port, creds.Username, cid)

	go b.pumpTransport(ch, s, transport, gen)

	ch.Send(clientchannel.EventConnected, clientchannel.ConnectedPayload{
		Host:        creds.Host,
		Port:        creds.Port,
		Username:    creds.Username,
		ContainerID: cid,
	})
}

// runConnectTimeout enforces invariant 2: a session never transitions from
// Connecting to Connected after its timer fires.
func (b *Broker) runConnectTimeout(ch *clientchannel.Channel, s *session, gen int) {
	timer := time.NewTimer(b.cfg.ConnectTimeout)
	defer timer.Stop()

	<-timer.C

	s.mu.Lock()
	if s.state != StateConnecting || s.generation != gen {
		s.mu.Unlock()

		return
	}

	s.state = StateIdle
	s.mu.Unlock()

	ch.SendError(Message(KindTimeout, ""))
}

func (b *Broker) handleCreateContainer(ch *clientchannel.Channel, s *session) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		ch.SendError(Message(KindBusy, ""))

		return
	}

	s.state = StateCreatingContainer
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	ch.Send(clientchannel.EventContainerCreating, clientchannel.ContainerCreatingPayload{
		Message: "Creating container...",
	})

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ConnectTimeout)
	defer cancel()

	rec, err := b.pool.Create(ctx)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()

		if err == nil {
			go b.pool.Stop(context.Background(), rec.ContainerID)
		}

		return
	}

	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()

		ch.SendError(Message(KindContainerCreate, err.Error()))

		return
	}
	s.mu.Unlock()

	ch.Send(clientchannel.EventContainerCreated, clientchannel.ContainerCreatedPayload{
		ContainerID: rec.ContainerID,
		Host:        rec.Host,
		Port:        rec.Port,
		Username:    rec.Username,
	})

	time.Sleep(b.cfg.ContainerReadyGrace)

	creds := sshtransport.Credentials{
		Host:     rec.Host,
		Port:     rec.Port,
		Username: rec.Username,
		Password: rec.Password,
	}

	b.attemptConnect(ch, s, creds, rec.ContainerID)
}

func (b *Broker) handleInput(s *session, data []byte) {
	s.mu.Lock()
	if s.state != StateConnected || s.transport == nil {
		s.mu.Unlock()

		return
	}

	transport := s.transport
	containerID := s.containerID
	s.lastActivity = time.Now()
	s.mu.Unlock()

	transport.Write(data)

	if containerID != "" {
		b.pool.Touch(containerID)
	}
}

func (b *Broker) handleResize(s *session, payload clientchannel.ResizePayload) {
	if payload.Cols <= 0 || payload.Rows <= 0 {
		return
	}

	s.mu.Lock()
	transport := s.transport
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected && transport != nil {
		transport.Resize(payload.Cols, payload.Rows)
	}
}

func (b *Broker) handleDisconnect(ch *clientchannel.Channel, s *session) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()

		return
	}

	transport := s.transport
	s.transport = nil
	s.state = StateEnding
	s.generation++
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	ch.SendDisconnected(clientchannel.ReasonUserDisconnect)
}

// pumpTransport forwards shell output to the channel and reacts to the
// transport's terminal events, until either the transport ends or the
// channel closes. gen pins this pump to the connect attempt that created
// the transport, so a stale pump from a superseded attempt exits quietly.
func (b *Broker) pumpTransport(ch *clientchannel.Channel, s *session, transport *sshtransport.Transport, gen int) {
	for {
		select {
		case data, ok := <-transport.Output():
			if !ok {
				return
			}

			ch.SendOutput(data)

		case <-transport.Closed():
			b.teardownAfterStream(ch, s, gen, clientchannel.ReasonStreamClosed)

			return

		case err, ok := <-transport.Errors():
			if ok {
				ch.SendError(ClassifiedMessage(err))
			}

			b.teardownAfterStream(ch, s, gen, clientchannel.ReasonConnectionClosed)

			return

		case <-ch.Closed():
			transport.Close()

			return
		}
	}
}

func (b *Broker) teardownAfterStream(ch *clientchannel.Channel, s *session, gen int, reason string) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateConnected {
		s.mu.Unlock()

		return
	}

	s.state = StateIdle
	s.transport = nil
	s.mu.Unlock()

	ch.SendDisconnected(reason)
}

func (b *Broker) cleanupChannel(socketID string) {
	b.mu.Lock()
	s, ok := b.sessions[socketID]
	delete(b.sessions, socketID)
	delete(b.channels, socketID)
	b.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	transport := s.transport
	containerID := s.containerID
	creds := s.credentials
	s.transport = nil
	s.state = StateIdle
	s.generation++
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}

	if containerID != "" {
		b.mu.Lock()
		b.pending[socketID] = &pendingReconnect{
			containerID: containerID,
			credentials: creds,
			expiresAt:   time.Now().Add(b.cfg.ReconnectWindow),
		}
		b.mu.Unlock()
	}

	logger.WithField("socket", socketID).Info("channel detached")
}

// SweepPendingReconnect stops the container behind every pending-reconnect
// entry whose window has elapsed without a reconnect, and forgets it. Called
// periodically by the supervisor.
func (b *Broker) SweepPendingReconnect() int {
	now := time.Now()

	b.mu.Lock()
	var expired []*pendingReconnect
	for socketID, p := range b.pending {
		if now.After(p.expiresAt) {
			expired = append(expired, p)
			delete(b.pending, socketID)
		}
	}
	b.mu.Unlock()

	for _, p := range expired {
		if err := b.pool.Stop(context.Background(), p.containerID); err != nil {
			logger.WithField("container", p.containerID).Warnf("pending-reconnect expiry stop failed: %v", err)
		}
	}

	return len(expired)
}

// EndSession tears down the SSH transport and asks the container pool to stop the
// container, per the end-session operation, then closes the channel so
// cleanupChannel drains the session from the tracking maps. Returns whether
// a session was found and how many containers were cleaned up (0 or 1).
func (b *Broker) EndSession(socketID string) (found bool, containersCleanedUp int) {
	b.mu.Lock()
	s, ok := b.sessions[socketID]
	ch := b.channels[socketID]
	b.mu.Unlock()

	if !ok {
		return false, 0
	}

	s.mu.Lock()
	transport := s.transport
	containerID := s.containerID
	s.transport = nil
	s.containerID = ""
	s.state = StateIdle
	s.generation++
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}

	if containerID != "" {
		if err := b.pool.Stop(context.Background(), containerID); err != nil {
			logger.WithField("container", containerID).Warnf("end-session stop failed: %v", err)
		} else {
			containersCleanedUp = 1
		}
	}

	if ch != nil {
		ch.SendDisconnected(clientchannel.ReasonEndSession)
		ch.Close()
	}

	return true, containersCleanedUp
}

// ForceDisconnect tears down a session's SSH transport and notifies its
// channel with reason, preserving the container as a pending reconnect
// entry, then closes the channel so cleanupChannel drains the session from
// the tracking maps. Used by the supervisor's sweeps and by the
// administrative force-disconnect endpoint.
func (b *Broker) ForceDisconnect(socketID, reason string) bool {
	b.mu.Lock()
	s, ok := b.sessions[socketID]
	ch := b.channels[socketID]
	b.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.state = StateIdle
	s.generation++
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}

	if ch != nil {
		ch.SendDisconnected(reason)
		ch.Close()
	}

	return true
}

// Snapshot returns a point-in-time copy of every tracked session.
func (b *Broker) Snapshot() []Snapshot {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}

	return out
}

// SessionCount returns the number of tracked sessions.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sessions)
}

// DestroyStuckConnecting is the health sweep's backstop for a session that
// has sat in Connecting past stuckConnectingTimeout: the 30 s connect timer
// should already have fired, but this covers the case where it did not
// (e.g. a goroutine scheduling anomaly). Emits the same client-facing
// message as a connect timeout and returns the session to Idle.
func (b *Broker) DestroyStuckConnecting(socketID string) bool {
	b.mu.Lock()
	s, ok := b.sessions[socketID]
	ch := b.channels[socketID]
	b.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()

		return false
	}

	s.state = StateIdle
	s.generation++
	s.mu.Unlock()

	if ch != nil {
		ch.SendError("Connection timed out")
	}

	return true
}

// ShutdownAll tears down every tracked session's transport and notifies
// every live channel with reason server_shutdown. Called once, from the
// supervisor's shutdown sequence.
func (b *Broker) ShutdownAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.ForceDisconnect(id, clientchannel.ReasonServerShutdown)
	}
}
