package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/tether/pkg/models"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
)

// wsFrame is the envelope sent to WebSocket watchers.
type wsFrame struct {
	SessionID string             `json:"session_id"`
	Event     models.EngineEvent `json:"event"`
}

// WebSocketSink forwards events over an established WebSocket connection.
// Writes go through a buffered channel and a single write loop; when the
// buffer is full events are dropped, never blocking the run loop.
type WebSocketSink struct {
	conn   *websocket.Conn
	send   chan []byte
	closed atomic.Bool
	done   chan struct{}
}

// NewWebSocketSink wraps a connection and starts its write loop. The caller
// keeps ownership of reads (pings, client frames).
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	s := &WebSocketSink{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *WebSocketSink) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.closed.Store(true)
				return
			}
		}
	}
}

// Send queues an event frame for delivery.
func (s *WebSocketSink) Send(ctx context.Context, sessionID string, e models.EngineEvent) {
	if s.closed.Load() {
		return
	}
	payload, err := json.Marshal(wsFrame{SessionID: sessionID, Event: e})
	if err != nil {
		return
	}
	select {
	case s.send <- payload:
	case <-ctx.Done():
	default:
	}
}

// Close stops the write loop and closes the connection.
func (s *WebSocketSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return s.conn.Close()
}
