// Package coordinator owns the lifecycle of canvas rooms. Exactly one
// Coordinator exists per room identifier within a process; it serializes
// room creation, schema widening and session attachment so a room never
// runs two divergent live states at once.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discoursegraphs/canvas-backend/internal/room"
	"github.com/discoursegraphs/canvas-backend/internal/schema"
	"github.com/discoursegraphs/canvas-backend/internal/store"
)

var noOpLogger = zap.NewNop()

// Config describes the inputs required to build a Coordinator.
type Config struct {
	RoomID       string
	Gateway      *store.Gateway
	SaveInterval time.Duration
	Logger       *zap.Logger
}

// Coordinator is the single owner of one room's identity, schema config and
// (lazily) live state. All decisions run under one mutex: two overlapping
// connection requests can never both rebuild, and initialization happens at
// most once per residency.
type Coordinator struct {
	roomID  string
	gateway *store.Gateway
	saver   *store.Saver
	logger  *zap.Logger

	mu           sync.Mutex
	initialized  bool
	schemaConfig schema.Config
	state        *room.State
}

// New returns a coordinator for the given room. Durable state is loaded
// lazily on the first connection request.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Coordinator{
		roomID:  cfg.RoomID,
		gateway: cfg.Gateway,
		saver:   store.NewSaver(cfg.Gateway, cfg.RoomID, cfg.SaveInterval, logger),
		logger:  logger,
	}
}

// RoomID returns the room identifier this coordinator owns.
func (c *Coordinator) RoomID() string {
	return c.roomID
}

// SchemaConfig returns the room's current schema config.
func (c *Coordinator) SchemaConfig() schema.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schemaConfig
}

// SessionCount reports the number of sessions attached to the live state.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return 0
	}
	return c.state.SessionCount()
}

// Connect merges the incoming schema declaration into the room's config,
// rebuilding the live state if the vocabulary grew, then attaches the
// session. The merged config is persisted before any rebuild becomes
// visible, so a connection that observes a config is never attached to a
// state built from an older one.
func (c *Coordinator) Connect(ctx context.Context, incoming schema.Config, session *room.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.initLocked(ctx); err != nil {
		return err
	}

	merged := schema.Merge(c.schemaConfig, incoming)
	if !schema.Equal(merged, c.schemaConfig) {
		if err := c.gateway.SaveMeta(ctx, c.roomID, merged); err != nil {
			return err
		}
		c.logger.Info("room schema widened",
			zap.String("room_id", c.roomID),
			zap.Strings("shape_kinds", merged.ShapeKinds),
			zap.Strings("binding_kinds", merged.BindingKinds))
		if c.state != nil {
			c.rebuildLocked(merged)
		}
		c.schemaConfig = merged
	}

	if c.state == nil {
		if err := c.createStateLocked(ctx); err != nil {
			return err
		}
	}

	c.state.Attach(session)
	c.logger.Info("session attached",
		zap.String("room_id", c.roomID),
		zap.String("session_id", session.SessionID),
		zap.Int("sessions", c.state.SessionCount()))
	return nil
}

// Close flushes pending persistence work and tears down the live state.
// The saver is drained first so its flush still observes the state.
func (c *Coordinator) Close() {
	c.saver.Close()

	c.mu.Lock()
	state := c.state
	c.state = nil
	c.mu.Unlock()

	if state != nil {
		state.Close()
	}
}

// initLocked loads the room's durable identity and schema config once per
// residency. The first request for a brand-new room records its identity
// durably before any schema logic runs.
func (c *Coordinator) initLocked(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	cfg, found, err := c.gateway.LoadMeta(ctx, c.roomID)
	if err != nil {
		return err
	}
	if !found {
		cfg = schema.Config{ShapeKinds: []string{}, BindingKinds: []string{}}
		if err := c.gateway.SaveMeta(ctx, c.roomID, cfg); err != nil {
			return err
		}
	}
	c.schemaConfig = cfg
	c.initialized = true
	return nil
}

// rebuildLocked snapshots the live state, closes it and recreates it under
// the widened schema. The document engine binds its vocabulary at
// construction time, so widening cannot happen in place. A snapshot that no
// longer parses is dropped and the room restarts empty.
func (c *Coordinator) rebuildLocked(merged schema.Config) {
	snapshotJSON, err := c.state.SnapshotJSON()
	if err != nil {
		c.logger.Error("snapshot before rebuild failed, restarting room empty",
			zap.String("room_id", c.roomID), zap.Error(err))
		snapshotJSON = nil
	}
	c.state.Close()
	c.state = nil

	rebuilt, err := c.newStateLocked(merged, snapshotJSON)
	if err != nil {
		c.logger.Error("room rebuild with snapshot failed, restarting room empty",
			zap.String("room_id", c.roomID), zap.Error(err))
		rebuilt, err = c.newStateLocked(merged, nil)
		if err != nil {
			return
		}
	}
	c.state = rebuilt
	c.scheduleSave()
}

// createStateLocked lazily constructs the live state from the last durable
// snapshot. A load failure is treated as "no prior snapshot" so the room
// stays available; the trade-off is logged.
func (c *Coordinator) createStateLocked(ctx context.Context) error {
	snapshotJSON, found, err := c.gateway.LoadSnapshot(ctx, c.roomID)
	if err != nil {
		c.logger.Warn("snapshot load failed, starting room empty",
			zap.String("room_id", c.roomID), zap.Error(err))
		snapshotJSON = nil
	} else if !found {
		snapshotJSON = nil
	}

	state, err := c.newStateLocked(c.schemaConfig, snapshotJSON)
	if err != nil {
		c.logger.Error("stored snapshot rejected, starting room empty",
			zap.String("room_id", c.roomID), zap.Error(err))
		state, err = c.newStateLocked(c.schemaConfig, nil)
		if err != nil {
			return err
		}
	}
	c.state = state
	return nil
}

func (c *Coordinator) newStateLocked(cfg schema.Config, snapshotJSON []byte) (*room.State, error) {
	return room.New(room.Config{
		Schema:       schema.Build(cfg),
		SnapshotJSON: snapshotJSON,
		OnChange:     c.scheduleSave,
		Logger:       c.logger,
	})
}

// scheduleSave hands the current state's snapshot provider to the throttled
// saver. The provider captures the coordinator, not a snapshot, so the blob
// written at flush time reflects the latest mutations.
func (c *Coordinator) scheduleSave() {
	c.saver.Schedule(func() ([]byte, error) {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()
		if state == nil {
			return nil, nil
		}
		return state.SnapshotJSON()
	})
}
