package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func wsEndpoint(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
	})
}

func dialHub(t *testing.T, hub *Hub, symbols string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(wsEndpoint(hub))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?symbols=" + symbols
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishReachesSubscribedClient(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	defer hub.Close()
	conn := dialHub(t, hub, "btcusdt")

	// Registration races the dial; wait for the hub to see the client.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish("BTCUSDT", []byte(`{"type":"metrics"}`))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"metrics"}`, string(payload))
}

func TestPublishSkipsOtherSymbols(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	defer hub.Close()
	conn := dialHub(t, hub, "ETHUSDT")
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish("BTCUSDT", []byte(`{}`))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "no payload expected for an unsubscribed symbol")
}

func TestMissingSymbolsRejected(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	srv := httptest.NewServer(wsEndpoint(hub))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, 400, resp.StatusCode)
}
