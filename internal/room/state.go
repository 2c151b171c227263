// Package room wraps one document engine with the live websocket sessions
// attached to it. All mutations funnel through the single State instance;
// applied changes are broadcast to every other session and reported to the
// owning coordinator through a change callback.
package room

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/discoursegraphs/canvas-backend/internal/document"
	"github.com/discoursegraphs/canvas-backend/internal/schema"
)

var errMissingSchema = errors.New("room: schema is required")

var noOpLogger = zap.NewNop()

// Config describes the inputs required to construct a State.
type Config struct {
	Schema       *schema.Schema
	SnapshotJSON []byte
	// OnChange is invoked after every applied mutation. It must only
	// schedule work, never block.
	OnChange func()
	Logger   *zap.Logger
}

// State is the authoritative in-memory representation of one room.
type State struct {
	engine   *document.Engine
	onChange func()
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// New constructs a room state bound to the provided schema, seeded from
// SnapshotJSON when present.
func New(cfg Config) (*State, error) {
	if cfg.Schema == nil {
		return nil, errMissingSchema
	}
	engine, err := document.NewEngine(cfg.Schema, cfg.SnapshotJSON)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &State{
		engine:   engine,
		onChange: cfg.OnChange,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Attach binds a session to the room, seeds it with the current state and
// starts its read and write pumps. Returns false if the room has been
// closed in the meantime.
func (st *State) Attach(session *Session) bool {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return false
	}
	st.sessions[session.ConnectionID] = session
	st.mu.Unlock()

	snapshot := st.engine.Snapshot()
	session.enqueue(Message{Type: MessageTypeInit, Snapshot: &snapshot})

	go session.writePump()
	go st.readPump(session)
	return true
}

// Snapshot returns a point-in-time copy of the room's document state.
func (st *State) Snapshot() document.Snapshot {
	return st.engine.Snapshot()
}

// SnapshotJSON serializes the room's state for persistence or rebuild.
func (st *State) SnapshotJSON() ([]byte, error) {
	return st.engine.SnapshotJSON()
}

// SessionCount reports the number of currently attached sessions.
func (st *State) SessionCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Close detaches all sessions and releases the room. Idempotent.
func (st *State) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	detached := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		detached = append(detached, session)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, session := range detached {
		session.close()
	}
}

func (st *State) readPump(session *Session) {
	defer st.detach(session)
	for {
		var message Message
		if err := session.conn.ReadJSON(&message); err != nil {
			return
		}
		switch message.Type {
		case MessageTypePush:
			if message.Changes == nil {
				continue
			}
			st.apply(session, *message.Changes)
		case MessageTypePing:
			session.enqueue(Message{Type: MessageTypePong})
		}
	}
}

// apply runs one mutation batch through the engine and fans the applied
// changeset out to every other attached session.
func (st *State) apply(sender *Session, change document.Changeset) {
	applied, err := st.engine.Apply(change)
	if err != nil {
		st.logger.Warn("rejected room mutation",
			zap.String("session_id", sender.SessionID),
			zap.Error(err))
		sender.enqueue(Message{Type: MessageTypeReject, Error: err.Error()})
		return
	}

	st.mu.Lock()
	recipients := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		if session.ConnectionID == sender.ConnectionID {
			continue
		}
		recipients = append(recipients, session)
	}
	st.mu.Unlock()

	for _, session := range recipients {
		session.enqueue(Message{Type: MessageTypePatch, Changes: &applied})
	}

	if st.onChange != nil {
		st.onChange()
	}
}

func (st *State) detach(session *Session) {
	st.mu.Lock()
	delete(st.sessions, session.ConnectionID)
	st.mu.Unlock()
	session.close()
}
