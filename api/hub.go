package api

import (
	"context"

	"github.com/webcast-io/jobukyu"
)

// hub maintains the set of active websocket connections and broadcasts
// queue state to them.
type hub struct {
	logger jobukyu.Logger

	broadcast  chan []byte
	register   chan *connection
	unregister chan *connection
	conns      map[*connection]bool
}

func newHub(logger jobukyu.Logger) *hub {
	return &hub{
		logger:     logger,
		broadcast:  make(chan []byte, 8),
		register:   make(chan *connection),
		unregister: make(chan *connection),
		conns:      make(map[*connection]bool),
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.conns[c] = true
		case c := <-h.unregister:
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				close(c.send)
			}
		case m := <-h.broadcast:
			for c := range h.conns {
				select {
				case c.send <- m:
				default:
					// Slow consumer; drop it.
					delete(h.conns, c)
					close(c.send)
				}
			}
		case <-ctx.Done():
			for c := range h.conns {
				delete(h.conns, c)
				close(c.send)
			}
			return
		}
	}
}
