package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tutorly/internal/logging"
	"tutorly/internal/models"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

// Hub pushes job snapshots to websocket clients subscribed per job id.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*websocket.Conn]*client
	upgrader websocket.Upgrader
}

// NewHub builds a hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:  make(map[string]map[*websocket.Conn]*client),
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// Serve upgrades the request, sends the current snapshot and then streams
// updates for jobID until the peer disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, current models.AudioJob) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cl := h.register(current.ID, conn)
	if data, err := json.Marshal(current); err == nil {
		h.enqueue(cl, data)
	}
	go h.writePump(current.ID, cl)
	h.readPump(current.ID, conn)
	return nil
}

// Broadcast sends the snapshot to every client watching the job.
func (h *Hub) Broadcast(job models.AudioJob) {
	data, err := json.Marshal(job)
	if err != nil {
		logging.L().WithError(err).Warn("ws marshal job failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients[job.ID] {
		select {
		case cl.send <- data:
		default:
			logging.Debugf("[ws] dropping update for slow client on job %s", job.ID)
		}
	}
}

// Watchers reports how many clients follow jobID.
func (h *Hub) Watchers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

func (h *Hub) register(jobID string, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[jobID]; !ok {
		h.clients[jobID] = make(map[*websocket.Conn]*client)
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.clients[jobID][conn] = cl
	return cl
}

func (h *Hub) enqueue(cl *client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if cl.closed {
		return
	}
	select {
	case cl.send <- data:
	default:
	}
}

func (h *Hub) unregister(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[jobID]
	if !ok {
		return
	}
	if cl, ok := clients[conn]; ok {
		cl.closed = true
		close(cl.send)
		delete(clients, conn)
	}
	if len(clients) == 0 {
		delete(h.clients, jobID)
	}
}

func (h *Hub) readPump(jobID string, conn *websocket.Conn) {
	defer h.unregister(jobID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(jobID string, cl *client) {
	defer func() {
		cl.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
		cl.conn.Close()
	}()
	for msg := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logging.Debugf("[ws] write to job %s watcher failed: %v", jobID, err)
			return
		}
	}
}
