package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webshell/broker/internal/auth"
	"github.com/webshell/broker/internal/clientchannel"
	"github.com/webshell/broker/internal/containerpool"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// noopDockerClient embeds the nil CommonAPIClient so it satisfies the full
// interface by promotion, overriding only the teardown calls the pending-
// reconnect sweep exercises.
type noopDockerClient struct {
	client.CommonAPIClient
}

func (noopDockerClient) ContainerStop(ctx context.Context, id string, _ container.StopOptions) error {
	return nil
}

func (noopDockerClient) ContainerRemove(ctx context.Context, id string, _ container.RemoveOptions) error {
	return nil
}

// testHarness wires a Broker behind a real websocket upgrade, so tests
// exercise Channel and Broker together the way a browser client would.
type testHarness struct {
	server *httptest.Server
	broker *Broker
	conn   *websocket.Conn
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	return newHarnessWithClient(t, cfg, nil)
}

// newHarnessWithClient is for tests that reach a container teardown path
// (EndSession, ForceDisconnect with a pending reconnect sweep): those call
// the pool's Docker client directly, which panics on a true nil
// client.CommonAPIClient, so such tests need noopDockerClient instead.
func newHarnessWithClient(t *testing.T, cfg Config, cli client.CommonAPIClient) *testHarness {
	t.Helper()

	b := New(cfg, containerpool.NewManager(cli, containerpool.DefaultConfig()), auth.NewTrivialValidator(nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ch, err := clientchannel.Upgrade(w, r, r.RemoteAddr)
		require.NoError(t, err)

		go b.Attach(ch)
	})

	server := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return &testHarness{server: server, broker: b, conn: conn}
}

func (h *testHarness) close() {
	h.conn.Close()
	h.server.Close()
}

func (h *testHarness) send(t *testing.T, event string, payload any) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	env := map[string]json.RawMessage{"event": marshal(t, event), "payload": body}
	require.NoError(t, h.conn.WriteJSON(env))
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return b
}

type wireEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (h *testHarness) readEvent(t *testing.T) wireEnvelope {
	t.Helper()

	h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env wireEnvelope
	require.NoError(t, h.conn.ReadJSON(&env))

	return env
}

// readEventSkipPing reads events until a non-ping one arrives.
func (h *testHarness) readEventSkipPing(t *testing.T) wireEnvelope {
	t.Helper()

	for {
		env := h.readEvent(t)
		if env.Event != clientchannel.EventPong {
			return env
		}
	}
}

func TestConnect_ValidationErrorOnMissingHost(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	defer h.close()

	h.send(t, clientchannel.EventConnect, clientchannel.ConnectPayload{
		Username: "root",
		Password: "x",
		Port:     22,
	})

	env := h.readEventSkipPing(t)
	require.Equal(t, clientchannel.EventError, env.Event)

	var payload clientchannel.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Contains(t, payload.Message, "missing host")
}

func TestConnect_RateLimitedOnSecondImmediateAttempt(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	defer h.close()

	bad := clientchannel.ConnectPayload{Username: "root", Password: "x", Port: 22}

	h.send(t, clientchannel.EventConnect, bad)
	first := h.readEventSkipPing(t)
	require.Equal(t, clientchannel.EventError, first.Event)

	h.send(t, clientchannel.EventConnect, bad)
	second := h.readEventSkipPing(t)
	require.Equal(t, clientchannel.EventError, second.Event)

	var payload clientchannel.ErrorPayload
	require.NoError(t, json.Unmarshal(second.Payload, &payload))
	require.Equal(t, Message(KindRateLimited, ""), payload.Message)
}

func TestConnect_AuthFailureAgainstUnreachableHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second

	h := newHarness(t, cfg)
	defer h.close()

	h.send(t, clientchannel.EventConnect, clientchannel.ConnectPayload{
		Host:     "127.0.0.1",
		Port:     1,
		Username: "root",
		Password: "wrong",
	})

	env := h.readEventSkipPing(t)
	require.Equal(t, clientchannel.EventError, env.Event)
}

func TestCleanupChannel_PreservesContainerForReconnectWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectWindow = time.Minute

	b := New(cfg, containerpool.NewManager(nil, containerpool.DefaultConfig()), nil)

	s := newSession("sock-1")
	s.containerID = "abc123"
	s.credentials.Host = "10.0.0.5"

	b.mu.Lock()
	b.sessions["sock-1"] = s
	b.mu.Unlock()

	b.cleanupChannel("sock-1")

	b.mu.Lock()
	p, ok := b.pending["sock-1"]
	b.mu.Unlock()

	require.True(t, ok, "expected a pending-reconnect entry")
	require.Equal(t, "abc123", p.containerID)
	require.Equal(t, "10.0.0.5", p.credentials.Host)

	newSess := newSession("sock-1")

	b.mu.Lock()
	if pe, ok := b.pending["sock-1"]; ok && time.Now().Before(pe.expiresAt) {
		newSess.containerID = pe.containerID
		newSess.credentials = pe.credentials
	}
	delete(b.pending, "sock-1")
	b.mu.Unlock()

	require.Equal(t, "abc123", newSess.containerID)
}

func TestSweepPendingReconnect_RemovesExpiredEntriesOnly(t *testing.T) {
	b := New(DefaultConfig(), containerpool.NewManager(noopDockerClient{}, containerpool.DefaultConfig()), nil)

	b.mu.Lock()
	b.pending["expired"] = &pendingReconnect{containerID: "c1", expiresAt: time.Now().Add(-time.Second)}
	b.pending["fresh"] = &pendingReconnect{containerID: "c2", expiresAt: time.Now().Add(time.Minute)}
	b.mu.Unlock()

	n := b.SweepPendingReconnect()
	require.Equal(t, 1, n)

	b.mu.Lock()
	_, expiredStillThere := b.pending["expired"]
	_, freshStillThere := b.pending["fresh"]
	b.mu.Unlock()

	require.False(t, expiredStillThere)
	require.True(t, freshStillThere)
}

func TestForceDisconnect_DrainsSessionFromTrackingMaps(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	defer h.close()

	require.Eventually(t, func() bool { return h.broker.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	snaps := h.broker.Snapshot()
	require.Len(t, snaps, 1)
	socketID := snaps[0].SocketID

	require.True(t, h.broker.ForceDisconnect(socketID, clientchannel.ReasonIdleTimeout))

	env := h.readEventSkipPing(t)
	require.Equal(t, clientchannel.EventDisconnected, env.Event)

	require.Eventually(t, func() bool { return h.broker.SessionCount() == 0 }, time.Second, 10*time.Millisecond,
		"session should drain from tracking once the channel closes")
}

func TestEndSession_DrainsSessionAndLeavesNoPendingReconnect(t *testing.T) {
	h := newHarnessWithClient(t, DefaultConfig(), noopDockerClient{})
	defer h.close()

	require.Eventually(t, func() bool { return h.broker.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	snaps := h.broker.Snapshot()
	require.Len(t, snaps, 1)
	socketID := snaps[0].SocketID

	h.broker.mu.Lock()
	h.broker.sessions[socketID].containerID = "abc123"
	h.broker.mu.Unlock()

	found, cleaned := h.broker.EndSession(socketID)
	require.True(t, found)
	require.Equal(t, 1, cleaned)

	env := h.readEventSkipPing(t)
	require.Equal(t, clientchannel.EventDisconnected, env.Event)

	require.Eventually(t, func() bool { return h.broker.SessionCount() == 0 }, time.Second, 10*time.Millisecond,
		"session should drain from tracking once the channel closes")

	h.broker.mu.Lock()
	_, pending := h.broker.pending[socketID]
	h.broker.mu.Unlock()
	require.False(t, pending, "end-session must not leave a pending-reconnect entry")
}

func TestTeardownAfterStream_StaleGenerationSendsNoDisconnectEvent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	defer h.close()

	require.Eventually(t, func() bool { return h.broker.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	snaps := h.broker.Snapshot()
	require.Len(t, snaps, 1)
	socketID := snaps[0].SocketID

	h.broker.mu.Lock()
	s := h.broker.sessions[socketID]
	ch := h.broker.channels[socketID]
	h.broker.mu.Unlock()

	s.mu.Lock()
	s.state = StateConnected
	staleGen := s.generation
	s.generation++
	s.mu.Unlock()

	h.broker.teardownAfterStream(ch, s, staleGen, clientchannel.ReasonStreamClosed)

	h.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env wireEnvelope
	err := h.conn.ReadJSON(&env)
	require.Error(t, err, "a stale-generation teardown must not emit a disconnect event")
}

func TestInput_DroppedWhenNotConnected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	defer h.close()

	h.send(t, clientchannel.EventInput, clientchannel.InputPayload{Data: []byte("pwd\n")})

	h.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))

	var env wireEnvelope
	err := h.conn.ReadJSON(&env)
	require.Error(t, err, "no event should be emitted for dropped input")
}
