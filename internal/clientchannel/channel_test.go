package clientchannel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestChannel_SendAndReceive(t *testing.T) {
	var serverCh *Channel

	ready := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r, "sock-1")
		require.NoError(t, err)
		serverCh = ch
		close(ready)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	<-ready

	require.NoError(t, serverCh.Send(EventConnected, ConnectedPayload{Host: "h", Port: 22, Username: "root"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, EventConnected, env.Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": EventInput, "payload": map[string]any{"data": []byte("ls\n")}}))

	select {
	case ev := <-serverCh.Events():
		require.Equal(t, EventInput, ev.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound event")
	}

	serverCh.Close()

	select {
	case <-serverCh.Closed():
	case <-time.After(time.Second):
		t.Fatal("channel did not report closed")
	}
}
