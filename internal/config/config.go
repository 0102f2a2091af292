package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Default configuration values (local development backend)
const (
	DefaultServer          = "ws://localhost:8000"
	DefaultSTUN            = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"
	DefaultRelayMaxRetries = 5
	DefaultRelayDelay      = 1 * time.Second
	DefaultRelayMaxDelay   = 10 * time.Second
)

// Config holds application configuration
type Config struct {
	// Server is the relay base URL (ws:// or wss://), without the /ws path
	Server string

	// Token is appended to the relay URL as ?token=
	Token string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	// Relay reconnect policy
	RelayMaxRetries   int
	RelayInitialDelay time.Duration
	RelayMaxDelay     time.Duration
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server      string
	Token       string
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	MaxRetries  int
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := firstNonEmpty(opts.Server, os.Getenv("NURSECALL_SERVER"), DefaultServer)
	server = strings.TrimRight(server, "/")

	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws, wss, http or https", server)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", server)
	}

	stun := opts.STUNServers
	if len(stun) == 0 {
		stun = splitList(firstNonEmpty(os.Getenv("STUN_SERVERS"), DefaultSTUN))
	}

	retries := opts.MaxRetries
	if retries == 0 {
		if v := os.Getenv("RELAY_MAX_RETRIES"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid RELAY_MAX_RETRIES %q", v)
			}
			retries = n
		} else {
			retries = DefaultRelayMaxRetries
		}
	}

	cfg := &Config{
		Server:            u.String(),
		Token:             firstNonEmpty(opts.Token, os.Getenv("NURSECALL_TOKEN")),
		STUNServers:       stun,
		TURNServer:        firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:          firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:          firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay:        opts.ForceRelay,
		RelayMaxRetries:   retries,
		RelayInitialDelay: DefaultRelayDelay,
		RelayMaxDelay:     DefaultRelayMaxDelay,
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// RelayURL returns the patient-scoped WebSocket endpoint, e.g.
// wss://host/ws/<patient>?token=<token>
func (c *Config) RelayURL(patientID string) string {
	u := c.Server + "/ws/" + url.PathEscape(patientID)
	if c.Token != "" {
		u += "?token=" + url.QueryEscape(c.Token)
	}
	return u
}

// ICEServers returns the iceServers list handed to the peer connection:
// one entry per STUN URL, plus the TURN server when configured.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.STUNServers)+1)
	for _, s := range c.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{s}})
	}

	if c.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNServer},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// ICETransportPolicy is relay-only when ForceRelay is set, or when a TURN
// server is configured and the host looks like it is behind a VPN or CGNAT.
func (c *Config) ICETransportPolicy() webrtc.ICETransportPolicy {
	if c.ForceRelay || (c.TURNServer != "" && restrictedNetwork()) {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
