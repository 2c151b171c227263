package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/discoursegraphs/canvas-backend/internal/document"
)

const (
	// MessageTypeInit seeds a freshly attached session with the full state.
	MessageTypeInit = "init"
	// MessageTypePush carries a client mutation batch.
	MessageTypePush = "push"
	// MessageTypePatch broadcasts an applied mutation to attached sessions.
	MessageTypePatch = "patch"
	// MessageTypeReject reports a rejected mutation back to its sender.
	MessageTypeReject = "reject"
	// MessageTypePing is a client keepalive probe.
	MessageTypePing = "ping"
	// MessageTypePong answers a ping.
	MessageTypePong = "pong"
)

const (
	sessionSendBuffer = 32
	sessionWriteWait  = 10 * time.Second
)

// Message is one frame of the room wire protocol.
type Message struct {
	Type     string              `json:"type"`
	Changes  *document.Changeset `json:"changes,omitempty"`
	Snapshot *document.Snapshot  `json:"snapshot,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Session is one client's live attachment to a room. The session identifier
// is supplied by the client at connect time; the connection identifier is
// assigned server-side so two tabs sharing a session id stay addressable.
type Session struct {
	SessionID    string
	ConnectionID string

	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// NewSession wraps an upgraded websocket connection.
func NewSession(sessionID string, conn *websocket.Conn) *Session {
	return &Session{
		SessionID:    sessionID,
		ConnectionID: uuid.NewString(),
		conn:         conn,
		send:         make(chan Message, sessionSendBuffer),
	}
}

// enqueue offers a message without blocking the mutation path. A session
// whose buffer is full misses the frame and recovers via reconnect.
func (s *Session) enqueue(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- message:
	default:
	}
}

func (s *Session) writePump() {
	for message := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
		if err := s.conn.WriteJSON(message); err != nil {
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(sessionWriteWait))
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
		_ = s.conn.Close()
	})
}
