package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with many candidates fits.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one socket in a patient room.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	patientID string
	send      chan []byte
}

// ReadPump forwards frames from the socket to the hub. One per connection.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Warn("relay read failed", "patient_id", c.patientID, "error", err)
			}
			return
		}

		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("relay dropped non-JSON frame", "patient_id", c.patientID)
			continue
		}
		slog.Debug("relay frame received", "patient_id", c.patientID, "type", env.Type)

		select {
		case c.hub.broadcast <- frame{patientID: c.patientID, data: data, from: c}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump writes frames from the hub to the socket and keeps it alive
// with pings. One per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("relay write failed", "patient_id", c.patientID, "error", err)
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
