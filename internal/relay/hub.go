// Package relay is a development stand-in for the monitoring backend's
// WebSocket endpoint. Sockets join a room per patient; every frame one
// member sends is forwarded verbatim to the other members of that room.
package relay

import (
	"context"
	"log/slog"
)

// frame is one message to fan out. from is nil for server-originated
// broadcasts, which reach every member.
type frame struct {
	patientID string
	data      []byte
	from      *Client
}

type countRequest struct {
	patientID string
	reply     chan int
}

// Hub owns all rooms. Its state is touched only by the Run goroutine.
type Hub struct {
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan frame
	count      chan countRequest
	done       chan struct{}

	metrics *metrics
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan frame, 64),
		count:      make(chan countRequest),
		done:       make(chan struct{}),
		metrics:    newMetrics(),
	}
}

// Run is the hub's processing loop. It returns when ctx is done, after
// disconnecting every member.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for patientID, members := range h.rooms {
				for c := range members {
					close(c.send)
				}
				delete(h.rooms, patientID)
			}
			h.metrics.rooms.Set(0)
			h.metrics.members.Set(0)
			return

		case c := <-h.register:
			members, ok := h.rooms[c.patientID]
			if !ok {
				members = make(map[*Client]struct{})
				h.rooms[c.patientID] = members
				h.metrics.rooms.Inc()
			}
			members[c] = struct{}{}
			h.metrics.members.Inc()
			slog.Info("relay member joined", "patient_id", c.patientID, "remote", c.conn.RemoteAddr(), "members", len(members))

		case c := <-h.unregister:
			h.remove(c)

		case f := <-h.broadcast:
			h.fanOut(f)

		case req := <-h.count:
			req.reply <- len(h.rooms[req.patientID])
		}
	}
}

func (h *Hub) remove(c *Client) {
	members, ok := h.rooms[c.patientID]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}

	delete(members, c)
	close(c.send)
	h.metrics.members.Dec()
	slog.Info("relay member left", "patient_id", c.patientID, "members", len(members))

	if len(members) == 0 {
		delete(h.rooms, c.patientID)
		h.metrics.rooms.Dec()
		slog.Debug("relay room deleted", "patient_id", c.patientID)
	}
}

// fanOut delivers f to every member of its room except the sender. A
// member whose buffer is full is dropped rather than stalling the room.
func (h *Hub) fanOut(f frame) {
	members := h.rooms[f.patientID]
	delivered := 0

	for c := range members {
		if c == f.from {
			continue
		}
		select {
		case c.send <- f.data:
			delivered++
		default:
			slog.Warn("relay member too slow, dropping", "patient_id", f.patientID, "remote", c.conn.RemoteAddr())
			h.metrics.slowDropped.Inc()
			h.remove(c)
		}
	}

	h.metrics.frames.WithLabelValues(origin(f)).Inc()
	slog.Debug("relayed frame", "patient_id", f.patientID, "bytes", len(f.data), "delivered", delivered)
}

// Publish sends data to every member of a patient's room. Used for
// server-originated status pushes.
func (h *Hub) Publish(patientID string, data []byte) {
	select {
	case h.broadcast <- frame{patientID: patientID, data: data}:
	case <-h.done:
	}
}

// Members returns how many sockets are in a patient's room.
func (h *Hub) Members(patientID string) int {
	req := countRequest{patientID: patientID, reply: make(chan int, 1)}
	select {
	case h.count <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}
