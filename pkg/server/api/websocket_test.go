package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsTestHub(t *testing.T, ws *WebSocketServer) *websocket.Conn {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWebSocket)
	hub := httptest.NewServer(mux)
	t.Cleanup(hub.Close)

	url := "ws" + strings.TrimPrefix(hub.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Let the hub register the client before any fetch publishes.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func TestWebSocket_StreamsAcceptedPrices(t *testing.T) {
	_, manager := testServer(t, &scriptedSource{name: "static", price: 172.5})

	ws := NewWebSocketServer(manager, nil)
	ws.Start()
	t.Cleanup(ws.Stop)

	conn := wsTestHub(t, ws)

	_, err := manager.GetPrice(context.Background(), "SOL/USD", true)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsUpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "price_update", msg.Type)
	assert.Equal(t, "SOL/USD", msg.Price.Symbol)
	assert.Equal(t, "172.5", msg.Price.Price)
}

func TestWebSocket_SubscriptionFiltering(t *testing.T) {
	_, manager := testServer(t, &scriptedSource{name: "static", price: 100})

	ws := NewWebSocketServer(manager, nil)
	ws.Start()
	t.Cleanup(ws.Stop)

	conn := wsTestHub(t, ws)

	// Subscribe to a symbol this feed never publishes.
	sub, _ := json.Marshal(wsControlMessage{Action: "subscribe", Symbols: []string{"BTC/USD"}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))
	time.Sleep(50 * time.Millisecond)

	_, err := manager.GetPrice(context.Background(), "SOL/USD", true)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "a client subscribed to another symbol must not receive the update")
}
