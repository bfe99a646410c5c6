package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/rankpulse/pulse/execution"
)

// Event types streamed to WebSocket clients
const (
	EventRunStarted  = "run_started"
	EventRunProgress = "run_progress"
	EventRunFinished = "run_finished"
)

// RunEvent is one message on the /ws stream
type RunEvent struct {
	Type       string              `json:"type"`
	RunID      string              `json:"run_id"`
	Stage      string              `json:"stage,omitempty"`
	Progress   *execution.Progress `json:"progress,omitempty"`
	Percentage int                 `json:"percentage"`
	Run        *execution.Run      `json:"run,omitempty"`
}

// Hub fans run events out to connected WebSocket clients. It implements
// execution.Broadcaster.
type Hub struct {
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	allowedOrigins []string
	mu             sync.RWMutex
	logger         *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	drops  atomic.Int64
}

var _ execution.Broadcaster = (*Hub)(nil)

// NewHub creates a hub; call Run to start it. An empty allowedOrigins list
// admits only localhost origins.
func NewHub(allowedOrigins []string, log *zap.SugaredLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		allowedOrigins: allowedOrigins,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes registrations until Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Debugw("Hub stopping due to context cancellation")
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	if len(h.clients) >= MaxClients {
		h.mu.Unlock()
		h.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		client.close()
		h.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
	}
}

// Stop closes every connection and waits for the client pumps to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	if len(clients) > 0 {
		h.logger.Infow("Closing client connections", "count", len(clients))
	}
	h.cancel()
	for _, client := range clients {
		client.conn.Close()
	}
	h.wg.Wait()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Drops returns how many messages were skipped because a client queue was full
func (h *Hub) Drops() int64 {
	return h.drops.Load()
}

// broadcast queues msg for every client without blocking. Returns how many
// clients accepted it.
func (h *Hub) broadcast(msg interface{}) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		select {
		case client.send <- msg:
			sent++
		default:
			h.drops.Add(1)
		}
	}
	return sent
}

// BroadcastRunStarted announces a newly created run
func (h *Hub) BroadcastRunStarted(run *execution.Run) {
	h.broadcast(RunEvent{Type: EventRunStarted, RunID: run.ID, Stage: run.Stage, Percentage: run.Percentage(), Run: run})
}

// BroadcastRunProgress announces a progress update
func (h *Hub) BroadcastRunProgress(runID, stage string, p execution.Progress) {
	h.broadcast(RunEvent{Type: EventRunProgress, RunID: runID, Stage: stage, Progress: &p, Percentage: p.Percentage()})
}

// BroadcastRunFinished announces a terminal run record
func (h *Hub) BroadcastRunFinished(run *execution.Run) {
	h.broadcast(RunEvent{Type: EventRunFinished, RunID: run.ID, Stage: run.Stage, Percentage: run.Percentage(), Run: run})
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debugw("WebSocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan interface{}, MaxClientMessageQueueSize),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	h.wg.Add(2)
	go client.writePump()
	go client.readPump()
}

// checkOrigin validates the Origin header against the allowed origins.
// Requests without an Origin (CLI clients, tests) are accepted. Matching is
// by prefix so any port is allowed.
func (h *Hub) checkOrigin(r *http.Request) bool {
	return originAllowed(r.Header.Get("Origin"), h.allowedOrigins)
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
