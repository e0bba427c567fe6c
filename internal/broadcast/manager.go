// Package broadcast fans live bid events out to WebSocket subscribers.
// One subscription set per asset; a slow client is evicted rather than
// allowed to block the others.
package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Manager manages all WebSocket connections.
type Manager struct {
	// Map of assetID -> set of connections watching that asset.
	subscribers sync.Map // map[string]*sync.Map (of *Client -> bool)

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	log zerolog.Logger
}

// Client represents one WebSocket connection.
type Client struct {
	ID      string
	AssetID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Message is a payload to deliver to everyone watching an asset.
type Message struct {
	AssetID string
	Payload []byte
}

// NewManager creates a WebSocket manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		log:        log,
	}
}

// Run starts the manager's main loop. Run it in a goroutine.
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)
		case client := <-m.unregister:
			m.unregisterClient(client)
		case message := <-m.broadcast:
			m.broadcastToAsset(message.AssetID, message.Payload)
		}
	}
}

// RegisterClient adds a client to the manager.
func (m *Manager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient removes a client from the manager.
func (m *Manager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// Broadcast queues a payload for everyone watching the asset.
func (m *Manager) Broadcast(assetID string, payload []byte) {
	m.broadcast <- &Message{AssetID: assetID, Payload: payload}
}

func (m *Manager) registerClient(client *Client) {
	subscribers, _ := m.subscribers.LoadOrStore(client.AssetID, &sync.Map{})
	subscribers.(*sync.Map).Store(client, true)

	m.log.Debug().Str("client_id", client.ID).Str("asset_id", client.AssetID).Msg("client subscribed")
	go client.writePump()
}

func (m *Manager) unregisterClient(client *Client) {
	// A client can be unregistered twice: slow-client eviction races the
	// read pump's disconnect. Only the caller that removes it closes it.
	subscribers, ok := m.subscribers.Load(client.AssetID)
	if !ok {
		return
	}
	if _, loaded := subscribers.(*sync.Map).LoadAndDelete(client); !loaded {
		return
	}
	close(client.Send)
	client.Conn.Close()

	m.log.Debug().Str("client_id", client.ID).Str("asset_id", client.AssetID).Msg("client unsubscribed")
}

func (m *Manager) broadcastToAsset(assetID string, payload []byte) {
	subscribers, ok := m.subscribers.Load(assetID)
	if !ok {
		return
	}

	count := 0
	subscribers.(*sync.Map).Range(func(key, _ interface{}) bool {
		client := key.(*Client)
		select {
		case client.Send <- payload:
			count++
		default:
			// Send buffer full; disconnect the slow client.
			go m.UnregisterClient(client)
		}
		return true
	})

	m.log.Debug().Int("clients", count).Str("asset_id", assetID).Msg("broadcasted bid event")
}

// SubscriberCount returns the number of clients watching an asset.
func (m *Manager) SubscriberCount(assetID string) int {
	subscribers, ok := m.subscribers.Load(assetID)
	if !ok {
		return 0
	}
	count := 0
	subscribers.(*sync.Map).Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// writePump pumps messages from the Send channel to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// StartReadPump consumes client frames to detect disconnects and keep the
// pong deadline fresh.
func (c *Client) StartReadPump(unregister chan<- *Client) {
	go func() {
		defer func() {
			unregister <- c
		}()

		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Conn.SetPongHandler(func(string) error {
			c.Conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			if _, _, err := c.Conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
