package main

import (
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kgraph/backend/internal/state"
)

// eventHub fans the manager's single update subscription out to every
// connected SSE client. Slow clients only ever see the latest snapshot.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan state.GraphData]struct{}
	closed  bool
	log     *zap.Logger
}

func newEventHub(log *zap.Logger) *eventHub {
	return &eventHub{
		clients: make(map[chan state.GraphData]struct{}),
		log:     log,
	}
}

// publish is registered as the manager's update subscriber
func (h *eventHub) publish(data state.GraphData) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// drop the stale snapshot and queue the fresh one
			select {
			case <-ch:
			default:
			}
			ch <- data
		}
	}
}

func (h *eventHub) subscribe() (chan state.GraphData, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan state.GraphData, 1)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *eventHub) unsubscribe(ch chan state.GraphData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// close ends every open stream
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *eventHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve streams graph snapshots as server-sent events
func (h *eventHub) serve(c *gin.Context) {
	ch, ok := h.subscribe()
	if !ok {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	h.log.Debug("Event stream opened", zap.String("ip", c.ClientIP()))
	c.Stream(func(w io.Writer) bool {
		select {
		case data, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent("graph", data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	h.log.Debug("Event stream closed", zap.String("ip", c.ClientIP()))
}
