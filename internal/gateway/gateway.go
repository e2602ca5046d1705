// Package gateway maintains the websocket subscription that feeds platform
// events into the room engine.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voiceloft/internal/platform"
)

// EventType discriminates gateway envelopes.
type EventType string

const (
	EventMessage        EventType = "message_create"
	EventChannelDeleted EventType = "channel_delete"
	EventChannelUpdated EventType = "channel_update"
	EventMemberJoined   EventType = "member_join"
)

// Envelope is the wire frame: an opcode plus a type-specific payload.
type Envelope struct {
	Op   EventType       `json:"op"`
	Data json.RawMessage `json:"d"`
}

// MessageEvent is a chat message posted in a channel.
type MessageEvent struct {
	ChannelID string `json:"channelId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
}

// ChannelEvent describes a channel that was deleted or updated.
type ChannelEvent struct {
	Channel platform.Channel `json:"channel"`
}

// MemberEvent describes a member joining a community.
type MemberEvent struct {
	CommunityID string          `json:"communityId"`
	Member      platform.Member `json:"member"`
}

// Event is a decoded gateway frame. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type    EventType
	Message *MessageEvent
	Channel *ChannelEvent
	Member  *MemberEvent
}

// Config configures a gateway connection.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string
	// Token authenticates the connection via a bearer header.
	Token string
	// HandshakeTimeout bounds the dial. Defaults to 10s.
	HandshakeTimeout time.Duration
	// Logger receives decode warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

const (
	pingInterval = 30 * time.Second
	pongWait     = 75 * time.Second
)

// Conn is a live gateway connection.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// Dial opens the websocket connection.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &Conn{ws: ws, logger: logger}, nil
}

// Events reads frames until the context is cancelled or the connection
// fails, delivering decoded events on the returned channel. The channel is
// closed when the read loop exits. A ping loop keeps the connection alive;
// a peer that stops answering trips the read deadline.
func (c *Conn) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 64)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(out)
		for {
			var envelope Envelope
			if err := c.ws.ReadJSON(&envelope); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("gateway read failed", "error", err)
				}
				return
			}
			event, ok := decode(envelope)
			if !ok {
				c.logger.Debug("ignoring unknown gateway frame", "op", string(envelope.Op))
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func decode(envelope Envelope) (Event, bool) {
	switch envelope.Op {
	case EventMessage:
		var payload MessageEvent
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return Event{}, false
		}
		return Event{Type: EventMessage, Message: &payload}, true
	case EventChannelDeleted, EventChannelUpdated:
		var payload ChannelEvent
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return Event{}, false
		}
		return Event{Type: envelope.Op, Channel: &payload}, true
	case EventMemberJoined:
		var payload MemberEvent
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return Event{}, false
		}
		return Event{Type: EventMemberJoined, Member: &payload}, true
	default:
		return Event{}, false
	}
}

// Close sends a best-effort close frame and tears the connection down.
func (c *Conn) Close() error {
	deadline := time.Now().Add(time.Second)
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, message, deadline)
	return c.ws.Close()
}
