package notify

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	maxClients    = 100
	channelBuffer = 100
	writeTimeout  = 5 * time.Second
)

// Hub broadcasts events to subscribed dashboard clients. Slow clients
// have events dropped rather than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan Event
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan Event)}
}

// Subscribe registers a client and returns its ID and event channel.
// Returns ("", nil) when the hub is at capacity.
func (h *Hub) Subscribe() (string, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= maxClients {
		log.Printf("WARNING: event hub at capacity (%d clients)", maxClients)
		return "", nil
	}

	id := uuid.NewString()
	ch := make(chan Event, channelBuffer)
	h.clients[id] = ch
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Notify implements Sink. Non-blocking: full client buffers drop the
// event.
func (h *Hub) Notify(topic string, payload map[string]any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			log.Printf("event hub: buffer full for client %s, dropping %s", id, topic)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a websocket and streams events to it
// until the client disconnects or the request context ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("event hub: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	id, ch := h.Subscribe()
	if ch == nil {
		conn.Close(websocket.StatusTryAgainLater, "too many subscribers")
		return
	}
	defer h.Unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
