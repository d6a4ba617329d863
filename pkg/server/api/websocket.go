package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rz1989s/saros-price-oracle/pkg/logging"
	"github.com/rz1989s/saros-price-oracle/pkg/server/feed"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

// WebSocketServer pushes accepted prices to connected dashboard clients. It
// consumes the feed manager's subscription channel and fans updates out to
// every client that subscribed to the symbol.
type WebSocketServer struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool

	updates chan *feed.AggregatedPrice
	done    chan struct{}
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *WebSocketServer

	mu      sync.RWMutex
	symbols map[string]bool // empty set means all symbols
}

// wsControlMessage is an inbound subscribe/unsubscribe request.
type wsControlMessage struct {
	Action  string   `json:"action"` // subscribe | unsubscribe
	Symbols []string `json:"symbols"`
}

// wsUpdateMessage is the outbound price update envelope.
type wsUpdateMessage struct {
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Price     pricePayload `json:"price"`
}

// NewWebSocketServer creates a WebSocket hub and subscribes it to the manager.
func NewWebSocketServer(manager *feed.Manager, logger *logging.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	s := &WebSocketServer{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
		updates: make(chan *feed.AggregatedPrice, 256),
		done:    make(chan struct{}),
	}
	manager.Subscribe(s.updates)
	return s
}

// Start runs the broadcast loop until Stop is called.
func (s *WebSocketServer) Start() {
	go s.broadcastLoop()
}

// Stop disconnects all clients and stops the broadcast loop.
func (s *WebSocketServer) Stop() {
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		close(client.send)
		_ = client.conn.Close()
	}
	s.clients = make(map[*wsClient]bool)
}

// HandleWebSocket upgrades an HTTP request to a streaming connection.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		server:  s,
		symbols: make(map[string]bool),
	}

	s.mu.Lock()
	s.clients[client] = true
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("WebSocket client connected", "remote", r.RemoteAddr, "clients", count)

	go client.writePump()
	go client.readPump()
}

func (s *WebSocketServer) broadcastLoop() {
	for {
		select {
		case <-s.done:
			return
		case agg := <-s.updates:
			s.broadcast(agg)
		}
	}
}

func (s *WebSocketServer) broadcast(agg *feed.AggregatedPrice) {
	msg := wsUpdateMessage{
		Type:      "price_update",
		Timestamp: time.Now(),
		Price:     priceResponse(agg),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal price update", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if !client.wants(agg.Symbol) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow client; drop the update rather than stall the hub.
		}
	}
}

func (s *WebSocketServer) remove(client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[client] {
		delete(s.clients, client)
		close(client.send)
	}
}

// wants reports whether the client subscribed to the symbol. A client with no
// explicit subscriptions receives everything.
func (c *wsClient) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	return c.symbols[symbol]
}

func (c *wsClient) handleControl(data []byte) {
	var msg wsControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, s := range msg.Symbols {
			c.symbols[s] = true
		}
	case "unsubscribe":
		for _, s := range msg.Symbols {
			delete(c.symbols, s)
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		c.handleControl(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
