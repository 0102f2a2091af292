package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/dns"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/version"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// ErrTransportUnavailable is returned by Send when the relay is not open.
// The signal has been dropped; callers are not expected to retry.
var ErrTransportUnavailable = errors.New("signaling transport unavailable")

// Sink receives every inbound signal exactly once, in arrival order.
type Sink interface {
	Append(Signal)
}

// State of the relay connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ReconnectPolicy bounds how hard the client tries to get the relay back
// after an unexpected drop. MaxAttempts of zero disables reconnection.
type ReconnectPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// delay returns the backoff before the given attempt (1-based).
func (p ReconnectPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// link is one live WebSocket connection and its pumps.
type link struct {
	conn     *websocket.Conn
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func (l *link) shutdown() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Client manages the WebSocket connection to the relay. It is the only
// owner of the socket: outbound signals go through Send, inbound
// WEBRTC_SIGNAL payloads are appended to the Sink.
type Client struct {
	serverURL string
	sink      Sink
	policy    ReconnectPolicy
	dialer    websocket.Dialer

	mu    sync.Mutex
	state State
	link  *link

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new relay client. Nothing is dialed until Connect.
func NewClient(serverURL string, sink Sink, policy ReconnectPolicy) *Client {
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	return &Client{
		serverURL: serverURL,
		sink:      sink,
		policy:    policy,
		dialer:    dialer,
		state:     StateConnecting,
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection to the relay.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := url.Parse(c.serverURL); err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	l, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if !c.install(l) {
		l.conn.Close()
		return ErrTransportUnavailable
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*link, error) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := c.dialer.DialContext(ctx, c.serverURL, header)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &link{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		stop: make(chan struct{}),
	}, nil
}

// install makes l the active link and starts its pumps. It fails if the
// client was closed while dialing.
func (c *Client) install(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return false
	}
	c.link = l
	c.state = StateOpen

	go c.readPump(l)
	go c.writePump(l)

	slog.Info("relay connected", "url", redact(c.serverURL))
	return true
}

// readPump reads frames from the relay and hands signals to the sink.
func (c *Client) readPump(l *link) {
	defer l.shutdown()

	l.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.dropped(l, err)
			return
		}
		c.dispatch(data)
	}
}

// writePump writes queued frames to the relay and sends periodic pings.
func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case data := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("relay write failed", "error", err)
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-l.stop:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch routes one inbound frame.
func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("relay frame is not JSON", "error", err)
		return
	}

	switch env.Type {
	case MessageTypeWebRTCSignal:
		if len(env.Payload) == 0 {
			slog.Debug("empty WEBRTC_SIGNAL frame")
			return
		}
		sig, err := DecodeSignal(env.Payload)
		if err != nil {
			slog.Warn("discarding malformed signal", "error", err)
			return
		}
		c.sink.Append(sig)

	case MessageTypeLocationUpdate:
		slog.Debug("location update ignored")

	default:
		slog.Debug("relay frame ignored", "type", env.Type)
	}
}

// dropped is called when the read side of l fails.
func (c *Client) dropped(l *link, err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil

	if c.policy.MaxAttempts <= 0 {
		c.mu.Unlock()
		slog.Warn("relay connection lost", "error", err)
		c.Close()
		return
	}

	c.state = StateReconnecting
	c.mu.Unlock()

	slog.Warn("relay connection lost, reconnecting", "error", err, "max_attempts", c.policy.MaxAttempts)
	go c.reconnect()
}

// reconnect redials with exponential backoff until the policy is exhausted.
// Signals are not replayed; anything sent meanwhile was dropped.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		select {
		case <-time.After(c.policy.delay(attempt)):
		case <-c.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		l, err := c.dial(ctx)
		cancel()
		if err != nil {
			slog.Warn("relay reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		if !c.install(l) {
			l.conn.Close()
		}
		return
	}

	slog.Error("relay reconnect budget exhausted", "attempts", c.policy.MaxAttempts)
	c.Close()
}

// Send wraps sig in a WEBRTC_SIGNAL envelope and queues it for the relay.
// Best effort: when the relay is not open, or the write queue is full,
// the signal is dropped and ErrTransportUnavailable is returned.
func (c *Client) Send(sig Signal) error {
	data, err := EncodeSignal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.link == nil {
		slog.Debug("signal dropped, relay not open", "kind", sig.Type, "state", c.state)
		return ErrTransportUnavailable
	}

	select {
	case c.link.send <- data:
		return nil
	default:
		slog.Debug("signal dropped, write queue full", "kind", sig.Type)
		return ErrTransportUnavailable
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the client is closed, either explicitly or because
// the reconnect budget ran out.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		l := c.link
		c.link = nil
		c.mu.Unlock()

		close(c.done)
		if l != nil {
			l.shutdown()
		}
	})
}

// redact strips the query string so tokens stay out of logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
