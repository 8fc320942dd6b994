// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bodaay/formerhub/pkg/formers"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	terminalWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage is one websocket frame.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JobEvent is a progress event raised by a job.
type JobEvent struct {
	JobID string                `json:"jobId"`
	Event formers.ProgressEvent `json:"event"`
}

// WSClient is a connected websocket peer.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans messages out to websocket clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewWSHub creates a hub; call Run to start it.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// full buffer: drop the client
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes every client.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast sends a message to all connected clients. It never blocks; the
// message is dropped when the queue is full.
func (h *WSHub) Broadcast(msgType string, data any) {
	h.enqueue(msgType, data, 0)
}

// BroadcastJob sends a job update to all clients. Final states wait up to
// terminalWait for room in the queue.
func (h *WSHub) BroadcastJob(job Job) {
	var wait time.Duration
	if !job.Status.active() {
		wait = terminalWait
	}
	h.enqueue("job_update", job, wait)
}

// enqueue queues a message, waiting at most wait for room. It reports
// whether the message was queued.
func (h *WSHub) enqueue(msgType string, data any, wait time.Duration) bool {
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Warn("websocket marshal failed", "type", msgType, "err", err)
		return false
	}
	select {
	case h.broadcast <- payload:
		return true
	default:
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case h.broadcast <- payload:
			return true
		case <-h.stop:
		case <-timer.C:
		}
	}
	if wait > 0 {
		h.logger.Warn("websocket broadcast dropped", "type", msgType)
	} else {
		h.logger.Debug("websocket broadcast dropped", "type", msgType)
	}
	return false
}

// BroadcastEvent forwards a progress event of a job.
func (h *WSHub) BroadcastEvent(jobID string, ev formers.ProgressEvent) {
	h.Broadcast("event", JobEvent{JobID: jobID, Event: ev})
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &WSClient{conn: conn, send: make(chan []byte, 256), hub: s.wsHub}

	// Queue the initial state before the client becomes visible to Run, so
	// it is always the first frame.
	first, err := json.Marshal(WSMessage{Type: "init", Data: map[string]any{
		"jobs":    s.jobs.ListJobs(),
		"version": s.config.Version,
	}})
	if err == nil {
		c.send <- first
	}

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.stop:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// writePump sends queued messages and pings until send is closed.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unregisters on disconnect.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
	}
}
