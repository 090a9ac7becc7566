package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub keeps the connected WebSocket clients and writes every frame to all
// of them. Run owns the client set.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Frame
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{} // Closed when Run returns

	mu        sync.Mutex
	connCount int
}

// NewHub creates an idle hub; start Run before serving clients
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Frame, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if !h.clients[client] {
				h.clients[client] = true
				h.connCount++
				pterm.Debug.Printfln("Telemetry client connected: %s (%d total)", client.RemoteAddr(), h.connCount)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(frame); err != nil {
					pterm.Debug.Printfln("Telemetry write failed, dropping %s: %v", client.RemoteAddr(), err)
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client; h.mu must be held
func (h *Hub) drop(client *websocket.Conn) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	h.connCount--
	client.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.drop(client)
	}
}

// Send queues frame for every client. Frames are dropped while nobody is
// connected or the queue is full.
func (h *Hub) Send(frame Frame) error {
	if h.ClientCount() == 0 {
		return nil
	}
	select {
	case h.broadcast <- frame:
	default:
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connCount
}

// HandleWebSocket upgrades a request and registers the connection
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a WebSocket upgrade", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		pterm.Debug.Printfln("WebSocket upgrade failed: %v", err)
		return
	}
	if !h.post(h.register, conn) {
		return
	}

	// Clients never send anything; reading detects the close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					pterm.Debug.Printfln("WebSocket error: %v", err)
				}
				h.post(h.unregister, conn)
				return
			}
		}
	}()
}

// post hands conn to Run, closing it instead once Run has stopped
func (h *Hub) post(ch chan *websocket.Conn, conn *websocket.Conn) bool {
	select {
	case ch <- conn:
		return true
	case <-h.done:
		conn.Close()
		return false
	}
}
