package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bleepsandbloops/bitflip/internal/search"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

const (
	// writeWait is the time allowed for the handshake and each write
	writeWait = 10 * time.Second

	maxMessageSize = 4096
)

// MessageType identifies a report message.
type MessageType string

const (
	TypeCollisionFound MessageType = "collision_found"
)

// Message is the envelope sent to a report endpoint.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// CollisionPayload describes a found collision.
type CollisionPayload struct {
	SearchID  string `json:"search_id"`
	Algorithm string `json:"algorithm"`
	Byte      int    `json:"byte"`
	Bit       uint8  `json:"bit"`
	Linear    int64  `json:"linear"`
	Digest    string `json:"digest"`
	Length    int    `json:"length"`
	Workers   int    `json:"workers"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// WebSocketSink reports a collision to a websocket endpoint. The connection
// lives for a single message.
type WebSocketSink struct {
	URL       string
	WriteWait time.Duration
}

// NewWebSocketSink validates rawURL and returns a sink for it.
func NewWebSocketSink(rawURL string) (*WebSocketSink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid report URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid report URL %q: scheme must be ws or wss", rawURL)
	}
	return &WebSocketSink{URL: u.String(), WriteWait: writeWait}, nil
}

// Persist implements search.ResultSink.
func (s *WebSocketSink) Persist(ctx context.Context, outcome *search.Outcome) error {
	if outcome == nil || outcome.Collision == nil {
		return ErrNoCollision
	}

	wait := s.WriteWait
	if wait <= 0 {
		wait = writeWait
	}

	payload, err := json.Marshal(CollisionPayload{
		SearchID:  outcome.ID.String(),
		Algorithm: outcome.Algorithm,
		Byte:      outcome.Collision.Index.Byte,
		Bit:       outcome.Collision.Index.Bit,
		Linear:    outcome.Collision.Index.Linear(),
		Digest:    outcome.Collision.Digest,
		Length:    outcome.Length,
		Workers:   outcome.Workers,
		ElapsedMs: outcome.Elapsed.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal collision payload: %w", err)
	}

	dialer := websocket.Dialer{
		WriteBufferSize:  maxMessageSize,
		ReadBufferSize:   maxMessageSize,
		HandshakeTimeout: wait,
	}

	debug.Info("Reporting collision to %s", s.URL)
	ws, resp, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			debug.Debug("Report endpoint response body: %s", string(body))
			return fmt.Errorf("failed to connect to %s: status %d: %w", s.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", s.URL, err)
	}
	defer ws.Close()

	msg := Message{
		Type:      TypeCollisionFound,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	ws.SetWriteDeadline(time.Now().Add(wait))
	if err := ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send collision report: %w", err)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(wait)); err != nil {
		debug.Debug("Failed to send close frame to %s: %v", s.URL, err)
	}

	debug.Debug("Collision report sent for search %s", outcome.ID)
	return nil
}
