// Package stream broadcasts rendered frames to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/unifilar/internal/logging"
)

const (
	writeWait         = 2 * time.Second
	pongWait          = 30 * time.Second
	pingPeriod        = pongWait * 9 / 10
	defaultBufferSize = 4
)

// ErrHubClosed is returned by ServeHTTP after Close.
var ErrHubClosed = errors.New("stream hub closed")

type subscriber struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Hub fans frames out to every connected websocket. A subscriber whose send
// buffer is full when a frame arrives is disconnected.
type Hub struct {
	log      logging.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
	wg     sync.WaitGroup
}

// Option customises a Hub.
type Option func(*Hub)

// WithBufferSize sets how many frames may queue per subscriber before it is
// dropped.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub returns an empty hub.
func NewHub(log logging.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:    logging.OrNoop(log),
		buffer: defaultBufferSize,
		subs:   make(map[uint64]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.nextID++
	sub := &subscriber{
		id:   h.nextID,
		conn: conn,
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.wg.Add(2)
	h.mu.Unlock()

	h.log.Debug(r.Context(), "subscriber connected",
		logging.Uint64("subscriber", sub.id),
		logging.String("remote", r.RemoteAddr),
	)
	go h.writePump(sub)
	go h.readPump(sub)
}

// Broadcast queues data for every subscriber.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			delete(h.subs, id)
			sub.close()
			h.log.Warn(context.Background(), "dropping slow subscriber", logging.Uint64("subscriber", id))
		}
	}
}

// BroadcastJSON encodes v once and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if cur, ok := h.subs[sub.id]; ok && cur == sub {
		delete(h.subs, sub.id)
	}
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) writePump(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug(context.Background(), "subscriber write failed",
					logging.Uint64("subscriber", sub.id),
					logging.Err(err),
				)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readPump(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	sub.conn.SetReadLimit(1024)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
