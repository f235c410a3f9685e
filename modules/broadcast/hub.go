package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/example/realtime-chat-demo/modules/chat"
	"github.com/gofiber/contrib/websocket"
)

// Conn is the write side of a WebSocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a connected WebSocket client.
type Client struct {
	ID   string
	Conn Conn
}

// Frame types sent to WebSocket clients.
const (
	FrameView     = "view"
	FrameActivity = "activity"
)

// Frame is the structure sent to WebSocket clients.
type Frame struct {
	Type     string          `json:"type"`
	View     *chat.ViewState `json:"view,omitempty"`
	Activity *Activity       `json:"activity,omitempty"`
}

// Hub manages WebSocket connections and fans frames out to all of them.
// View frames are coalesced: a slow hub skips to the newest view state.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Frame
	viewReady  chan struct{}
	done       chan struct{}
	mu         sync.RWMutex

	viewMu sync.Mutex
	view   *chat.ViewState
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Frame, 256),
		viewReady:  make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It accepts a context for graceful shutdown.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAllClients()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		case <-h.viewReady:
			h.viewMu.Lock()
			view := h.view
			h.view = nil
			h.viewMu.Unlock()
			if view != nil {
				h.handleBroadcast(Frame{Type: FrameView, View: view})
			}
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// closeAllClients closes all connected client connections.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		_ = client.Conn.Close()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	log.Printf("[hub] Client %s registered", client.ID)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		log.Printf("[hub] Client %s unregistered", client.ID)
	}
}

func (h *Hub) handleBroadcast(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[hub] Failed to marshal %s frame: %v", frame.Type, err)
		return
	}

	for _, client := range h.clients {
		h.sendToClient(client, data)
	}
}

func (h *Hub) sendToClient(client *Client, data []byte) {
	if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[hub] Failed to send to client %s: %v", client.ID, err)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends an activity frame to every client.
func (h *Hub) Broadcast(activity Activity) {
	select {
	case h.broadcast <- Frame{Type: FrameActivity, Activity: &activity}:
	case <-h.done:
	}
}

// PublishView schedules state to be sent to every client. It never blocks;
// a newer state replaces one that has not been sent yet.
func (h *Hub) PublishView(state chat.ViewState) {
	h.viewMu.Lock()
	h.view = &state
	h.viewMu.Unlock()

	select {
	case h.viewReady <- struct{}{}:
	default:
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
