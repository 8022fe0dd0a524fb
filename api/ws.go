// Portions of this code are:
// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/webcast-io/jobukyu"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// How often the watcher broadcasts queue state.
	watchInterval = 1 * time.Second

	// Listing cap for the terminal statuses in the state feed.
	terminalListLimit = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// State is a snapshot of the job queue, broadcast to websocket clients.
type State struct {
	Type       string          `json:"type"`
	Stats      *jobukyu.Stats  `json:"stats,omitempty"`
	New        []*jobukyu.Job  `json:"new,omitempty"`
	Processing []*jobukyu.Job  `json:"processing,omitempty"`
	Completed  []*jobukyu.Job  `json:"completed,omitempty"`
	Failed     []*jobukyu.Job  `json:"failed,omitempty"`
}

// connection is a middleman between a websocket connection and the hub.
type connection struct {
	ws   *websocket.Conn
	send chan []byte
}

// GET /ws
func (s *Server) serveWs(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := &connection{ws: ws, send: make(chan []byte, 8)}
	s.hub.register <- conn
	go conn.writePump()
	conn.readPump(s.hub)
	return nil
}

// readPump discards client messages; it exists to observe the close.
func (c *connection) readPump(h *hub) {
	defer func() {
		h.unregister <- c
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// write writes a message with the given message type and payload.
func (c *connection) write(mt int, payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, payload)
}

// writePump pumps messages from the hub to the websocket connection.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, m); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// watch periodically snapshots the queue and broadcasts the state. It
// also keeps the per-status prometheus gauges current.
func (s *Server) watch(ctx context.Context) {
	t := time.NewTicker(watchInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			state, err := s.snapshot(ctx)
			if err != nil {
				s.logger.Printf("api: watching queue state: %v", err)
				continue
			}
			payload, err := json.Marshal(state)
			if err != nil {
				s.logger.Printf("api: encoding queue state: %v", err)
				continue
			}
			select {
			case s.hub.broadcast <- payload:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) snapshot(ctx context.Context) (*State, error) {
	state := &State{Type: "SET_STATE"}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	state.Stats = stats
	jobsGauge.WithLabelValues(jobukyu.StatusNew).Set(float64(stats.New))
	jobsGauge.WithLabelValues(jobukyu.StatusProcessing).Set(float64(stats.Processing))
	jobsGauge.WithLabelValues(jobukyu.StatusCompleted).Set(float64(stats.Completed))
	jobsGauge.WithLabelValues(jobukyu.StatusFailed).Set(float64(stats.Failed))

	state.New, err = s.queue.List(ctx, &jobukyu.ListRequest{Status: jobukyu.StatusNew})
	if err != nil {
		return nil, err
	}
	state.Processing, err = s.queue.List(ctx, &jobukyu.ListRequest{Status: jobukyu.StatusProcessing})
	if err != nil {
		return nil, err
	}
	state.Completed, err = s.queue.List(ctx, &jobukyu.ListRequest{Status: jobukyu.StatusCompleted, Limit: terminalListLimit})
	if err != nil {
		return nil, err
	}
	state.Failed, err = s.queue.List(ctx, &jobukyu.ListRequest{Status: jobukyu.StatusFailed, Limit: terminalListLimit})
	if err != nil {
		return nil, err
	}
	return state, nil
}
