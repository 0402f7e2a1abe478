package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/ngbi/ijbatch/internal/logging"
	"github.com/ngbi/ijbatch/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub fans batch events out to the websocket clients watching that batch.
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	log *logging.Logger
	mu  sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			h.log.Debug("websocket client registered", "batch", client.BatchID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug("websocket client unregistered", "batch", client.BatchID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.BatchID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow reader
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client; h.mu must be held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.BatchID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.clients, client.BatchID)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribers returns how many clients watch batchID.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[batchID])
}

// PublishRun sends a run state change to the batch's subscribers.
func (h *Hub) PublishRun(run *model.Run) {
	h.send(run.BatchID, model.RunEvent{
		Type:    model.WSMessageTypeRun,
		BatchID: run.BatchID,
		RunID:   run.ID,
		ImageID: run.ImageID,
		State:   run.State,
		Nodes:   run.Nodes,
		Error:   run.Error,
	})
}

// PublishComplete tells subscribers the batch has finished.
func (h *Hub) PublishComplete(batchID string, status model.BatchStatus, result interface{}) {
	h.send(batchID, model.WSCompleteMessage{
		Type:    model.WSMessageTypeComplete,
		BatchID: batchID,
		Status:  status,
		Result:  result,
	})
}

// PublishError sends an error message to all batch subscribers
func (h *Hub) PublishError(batchID, code, message string) {
	h.send(batchID, model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		BatchID: batchID,
		Error:   model.WSError{Code: code, Message: message},
	})
}

func (h *Hub) send(batchID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal websocket message", "error", err)
		return
	}
	h.broadcast <- &BroadcastMessage{BatchID: batchID, Message: data}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Clients only listen; reading drives control frames and detects close.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "batch", batchID, "error", err)
			}
			return
		}
	}
}
