// Package transport delivers viseme and audio-timing events from the
// speech service over WebSocket. It is the concrete side of the
// ingestion boundary: the animation core only ever sees the decoded
// payloads handed to its callbacks.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/lipsync"
)

// wsEnvelope is the wire framing: a type tag plus the raw payload.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message type tags on the wire.
const (
	msgTypeViseme    = "viseme"
	msgTypeAudioSync = "audio_sync"
)

// Client maintains the WebSocket connection to the speech service and
// forwards decoded events. Reconnects with exponential backoff and goes
// quiet after repeated failures so a missing endpoint does not spam the
// log.
type Client struct {
	url    string
	logger zerolog.Logger
	events *bus.EventBus

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	onViseme    func(lipsync.InboundViseme)
	onAudioSync func(lipsync.AudioSync)
}

// NewClient creates a client for the given ws:// or wss:// URL.
func NewClient(url string, events *bus.EventBus, logger zerolog.Logger) *Client {
	return &Client{
		url:    url,
		events: events,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// SetVisemeCallback sets the handler for viseme events.
func (c *Client) SetVisemeCallback(cb func(lipsync.InboundViseme)) {
	c.onViseme = cb
}

// SetAudioSyncCallback sets the handler for timing notifications.
func (c *Client) SetAudioSyncCallback(cb func(lipsync.AudioSync)) {
	c.onAudioSync = cb
}

// Connect starts the connection loop in the background.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.connectLoop(ctx)
	return nil
}

// Disconnect stops the connection loop and closes the socket.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// connectLoop maintains the connection with reconnection.
func (c *Client) connectLoop(ctx context.Context) {
	backoff := 3 * time.Second
	maxBackoff := 60 * time.Second
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.runConnection(ctx); err != nil {
				consecutiveFailures++
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				c.publish(bus.EventTypeDisconnected, map[string]any{"error": err.Error()})

				if consecutiveFailures >= 3 {
					if consecutiveFailures == 3 {
						c.logger.Warn().
							Err(err).
							Int("failures", consecutiveFailures).
							Msg("Viseme stream unavailable, will retry less frequently")
					} else {
						c.logger.Debug().
							Int("failures", consecutiveFailures).
							Msg("Viseme stream still unavailable")
					}
					backoff = maxBackoff
				} else {
					c.logger.Warn().Err(err).Msg("WebSocket connection failed, reconnecting...")
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}

				if backoff < maxBackoff {
					backoff = backoff * 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
			} else {
				backoff = 3 * time.Second
				consecutiveFailures = 0
			}
		}
	}
}

// runConnection dials the service and reads until the socket fails or
// the context ends.
func (c *Client) runConnection(ctx context.Context) error {
	c.logger.Info().Str("url", c.url).Msg("Connecting to viseme stream")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info().Msg("Connected to viseme stream")
	c.publish(bus.EventTypeConnected, nil)

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(data)
	}
}

// handleMessage decodes one wire message. A malformed message is logged
// and dropped; it never tears the connection down.
func (c *Client) handleMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse stream message")
		return
	}

	switch env.Type {
	case msgTypeViseme:
		var ev lipsync.InboundViseme
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse viseme event")
			return
		}
		if c.onViseme != nil {
			c.onViseme(ev)
		}

	case msgTypeAudioSync:
		var s lipsync.AudioSync
		if err := json.Unmarshal(env.Data, &s); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse audio sync event")
			return
		}
		if c.onAudioSync != nil {
			c.onAudioSync(s)
		}

	default:
		c.logger.Debug().Str("type", env.Type).Msg("Unknown message type")
	}
}

func (c *Client) publish(t bus.EventType, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(bus.Event{Type: t, Data: data})
}
