// Package store is the durable side of a room: snapshot blobs and the
// per-room metadata slot (identity plus schema config), both keyed by room
// identifier, plus the throttled saver that bounds write amplification.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/discoursegraphs/canvas-backend/internal/schema"
)

const (
	opLoadSnapshot = "store.load_snapshot"
	opSaveSnapshot = "store.save_snapshot"
	opLoadMeta     = "store.load_meta"
	opSaveMeta     = "store.save_meta"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingRoomID   = errors.New("room identifier is required")
	noOpLogger         = zap.NewNop()
)

// GatewayError carries an operation-scoped failure code.
type GatewayError struct {
	code string
	err  error
}

func (e *GatewayError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *GatewayError) Unwrap() error {
	return e.err
}

func newGatewayError(operation, reason string, cause error) error {
	return &GatewayError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// SnapshotRecord is the persisted blob for one room.
type SnapshotRecord struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	SnapshotJSON     string `gorm:"column:snapshot_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SnapshotRecord) TableName() string {
	return "room_snapshots"
}

// MetaRecord is the coordinator's durable slot: room identity confirmation
// plus the schema config the room last ran under.
type MetaRecord struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	ShapeKindsJSON   string `gorm:"column:shape_kinds_json;type:text;not null"`
	BindingKindsJSON string `gorm:"column:binding_kinds_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MetaRecord) TableName() string {
	return "room_meta"
}

// GatewayConfig describes the inputs required to build a Gateway.
type GatewayConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Gateway persists room snapshots and metadata.
type Gateway struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewGateway validates the configuration and returns a Gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Database == nil {
		return nil, newGatewayError("store.gateway.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Gateway{db: cfg.Database, clock: clock, logger: logger}, nil
}

// LoadSnapshot fetches a room's last durable snapshot. Absence is a normal
// outcome for a new room and is reported via found=false, not an error.
func (g *Gateway) LoadSnapshot(ctx context.Context, roomID string) (snapshotJSON []byte, found bool, err error) {
	if roomID == "" {
		return nil, false, newGatewayError(opLoadSnapshot, "missing_room_id", errMissingRoomID)
	}
	var record SnapshotRecord
	queryErr := g.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&record).Error
	if errors.Is(queryErr, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if queryErr != nil {
		g.logError(opLoadSnapshot, "query_failed", queryErr, zap.String("room_id", roomID))
		return nil, false, newGatewayError(opLoadSnapshot, "query_failed", queryErr)
	}
	return []byte(record.SnapshotJSON), true, nil
}

// SaveSnapshot overwrites the room's durable snapshot unconditionally.
func (g *Gateway) SaveSnapshot(ctx context.Context, roomID string, snapshotJSON []byte) error {
	if roomID == "" {
		return newGatewayError(opSaveSnapshot, "missing_room_id", errMissingRoomID)
	}
	record := SnapshotRecord{
		RoomID:           roomID,
		SnapshotJSON:     string(snapshotJSON),
		UpdatedAtSeconds: g.clock().UTC().Unix(),
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"snapshot_json", "updated_at_s"}),
	}).Create(&record).Error
	if err != nil {
		g.logError(opSaveSnapshot, "upsert_failed", err, zap.String("room_id", roomID))
		return newGatewayError(opSaveSnapshot, "upsert_failed", err)
	}
	return nil
}

// LoadMeta fetches the room's durable identity and schema config.
func (g *Gateway) LoadMeta(ctx context.Context, roomID string) (cfg schema.Config, found bool, err error) {
	if roomID == "" {
		return schema.Config{}, false, newGatewayError(opLoadMeta, "missing_room_id", errMissingRoomID)
	}
	var record MetaRecord
	queryErr := g.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&record).Error
	if errors.Is(queryErr, gorm.ErrRecordNotFound) {
		return schema.Config{}, false, nil
	}
	if queryErr != nil {
		g.logError(opLoadMeta, "query_failed", queryErr, zap.String("room_id", roomID))
		return schema.Config{}, false, newGatewayError(opLoadMeta, "query_failed", queryErr)
	}

	var shapeKinds, bindingKinds []string
	if err := json.Unmarshal([]byte(record.ShapeKindsJSON), &shapeKinds); err != nil {
		g.logError(opLoadMeta, "shape_kinds_invalid", err, zap.String("room_id", roomID))
		return schema.Config{}, false, newGatewayError(opLoadMeta, "shape_kinds_invalid", err)
	}
	if err := json.Unmarshal([]byte(record.BindingKindsJSON), &bindingKinds); err != nil {
		g.logError(opLoadMeta, "binding_kinds_invalid", err, zap.String("room_id", roomID))
		return schema.Config{}, false, newGatewayError(opLoadMeta, "binding_kinds_invalid", err)
	}
	return schema.NewConfig(shapeKinds, bindingKinds), true, nil
}

// SaveMeta upserts the room's identity and schema config. Called before any
// schema-dependent room construction so restarts recognize the room.
func (g *Gateway) SaveMeta(ctx context.Context, roomID string, cfg schema.Config) error {
	if roomID == "" {
		return newGatewayError(opSaveMeta, "missing_room_id", errMissingRoomID)
	}
	shapeKindsJSON, err := json.Marshal(cfg.ShapeKinds)
	if err != nil {
		return newGatewayError(opSaveMeta, "shape_kinds_encode_failed", err)
	}
	bindingKindsJSON, err := json.Marshal(cfg.BindingKinds)
	if err != nil {
		return newGatewayError(opSaveMeta, "binding_kinds_encode_failed", err)
	}
	record := MetaRecord{
		RoomID:           roomID,
		ShapeKindsJSON:   string(shapeKindsJSON),
		BindingKindsJSON: string(bindingKindsJSON),
		CreatedAtSeconds: g.clock().UTC().Unix(),
	}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"shape_kinds_json", "binding_kinds_json"}),
	}).Create(&record).Error
	if err != nil {
		g.logError(opSaveMeta, "upsert_failed", err, zap.String("room_id", roomID))
		return newGatewayError(opSaveMeta, "upsert_failed", err)
	}
	return nil
}

func (g *Gateway) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	g.logger.Error("persistence gateway error", attrs...)
}
