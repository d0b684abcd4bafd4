package windowbridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEmitToPopoutsBroadcastsToEveryConnection(t *testing.T) {
	tr := NewWebSocketTransport()
	srv := httptest.NewServer(tr)
	defer srv.Close()

	c1 := dialTestServer(t, srv)
	c2 := dialTestServer(t, srv)

	// Give both connections a moment to register before the broadcast.
	time.Sleep(20 * time.Millisecond)

	tr.EmitToPopouts("AGENT_UPDATED", map[string]any{"agentId": "a1"})

	for _, c := range []*websocket.Conn{c1, c2} {
		_, msg, err := c.ReadMessage()
		require.NoError(t, err)
		var env wsEnvelope
		require.NoError(t, json.Unmarshal(msg, &env))
		require.Equal(t, "AGENT_UPDATED", env.Event)
	}
}

func TestRequestFromMainRoundTripsThroughTheDesignatedMainConnection(t *testing.T) {
	tr := NewWebSocketTransport()
	srv := httptest.NewServer(tr)
	defer srv.Close()

	main := dialTestServer(t, srv)
	time.Sleep(20 * time.Millisecond) // first connection becomes main

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := tr.RequestFromMain(context.Background(), "REQUEST_AGENT_STATE", map[string]any{"agentId": "a1"})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	_, msg, err := main.ReadMessage()
	require.NoError(t, err)
	var env wsEnvelope
	require.NoError(t, json.Unmarshal(msg, &env))
	require.Equal(t, "REQUEST_AGENT_STATE", env.Event)
	require.NotEmpty(t, env.RequestID)

	reply, err := json.Marshal(wsEnvelope{
		Event:     "BRIDGE_RESPONSE",
		RequestID: env.RequestID,
		Payload:   map[string]any{"status": "ok"},
	})
	require.NoError(t, err)
	require.NoError(t, main.WriteMessage(websocket.TextMessage, reply))

	select {
	case res := <-resultCh:
		asMap, ok := res.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "ok", asMap["status"])
	case err := <-errCh:
		t.Fatalf("RequestFromMain returned an error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("RequestFromMain did not resolve in time")
	}
}

func TestRequestFromMainFailsWithNoConnections(t *testing.T) {
	tr := NewWebSocketTransport()
	_, err := tr.RequestFromMain(context.Background(), "REQUEST_AGENT_STATE", nil)
	require.Error(t, err)
}
