// Package document holds the authoritative in-memory record store for one
// canvas room. It is the single writer for the room: every attached session
// funnels mutations through one Engine, which validates record kinds against
// the schema it was constructed with, bumps a logical clock, and reports the
// applied changeset for broadcast.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/discoursegraphs/canvas-backend/internal/schema"
)

var (
	// ErrInvalidRecord indicates a record missing its identifier or kind.
	ErrInvalidRecord = errors.New("document: invalid record")
	// ErrUnknownKind indicates a record kind outside the engine's schema.
	ErrUnknownKind = errors.New("document: unknown record kind")
	// ErrInvalidSnapshot indicates a snapshot payload that fails to parse.
	ErrInvalidSnapshot = errors.New("document: invalid snapshot")
)

// RecordCategory distinguishes shapes from bindings for schema checks.
type RecordCategory string

const (
	// CategoryShape marks a canvas shape record.
	CategoryShape RecordCategory = "shape"
	// CategoryBinding marks a relation between two shapes.
	CategoryBinding RecordCategory = "binding"
)

// Record is one canvas element. Data is carried opaquely; only identity,
// category and kind are interpreted here.
type Record struct {
	ID       string          `json:"id"`
	Category RecordCategory  `json:"category"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data,omitempty"`
	Clock    int64           `json:"clock"`
}

// Changeset is one client mutation batch: records to upsert and record ids
// to remove.
type Changeset struct {
	Put    []Record `json:"put,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// Snapshot is the full serialized engine state, sufficient to resume a room.
type Snapshot struct {
	Clock   int64             `json:"clock"`
	Records map[string]Record `json:"records"`
}

// Engine owns the record set for one room. Safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	schema  *schema.Schema
	records map[string]Record
	clock   int64
}

// NewEngine constructs an engine bound to the provided schema, seeded from
// snapshotJSON when non-nil. The schema is fixed for the engine's lifetime;
// widening the vocabulary requires constructing a new engine from a
// snapshot of this one.
func NewEngine(runtimeSchema *schema.Schema, snapshotJSON []byte) (*Engine, error) {
	if runtimeSchema == nil {
		return nil, errors.New("document: schema is required")
	}
	engine := &Engine{
		schema:  runtimeSchema,
		records: make(map[string]Record),
	}
	if len(snapshotJSON) == 0 {
		return engine, nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(snapshotJSON, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	for id, record := range snapshot.Records {
		if err := engine.checkRecord(record); err != nil {
			return nil, err
		}
		engine.records[id] = record
	}
	engine.clock = snapshot.Clock
	return engine, nil
}

// Apply validates and applies a changeset, returning the effective changeset
// with clocks assigned. Records of unknown kinds reject the whole batch so a
// client never observes a partially applied mutation.
func (e *Engine) Apply(change Changeset) (Changeset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, record := range change.Put {
		if err := e.checkRecord(record); err != nil {
			return Changeset{}, err
		}
	}

	applied := Changeset{Put: make([]Record, 0, len(change.Put))}
	for _, record := range change.Put {
		e.clock++
		record.Clock = e.clock
		e.records[record.ID] = record
		applied.Put = append(applied.Put, record)
	}
	for _, id := range change.Remove {
		if _, ok := e.records[id]; !ok {
			continue
		}
		e.clock++
		delete(e.records, id)
		applied.Remove = append(applied.Remove, id)
	}
	return applied, nil
}

// Snapshot returns a point-in-time copy of all state. Safe to call
// concurrently with Apply.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	records := make(map[string]Record, len(e.records))
	for id, record := range e.records {
		records[id] = record
	}
	return Snapshot{Clock: e.clock, Records: records}
}

// SnapshotJSON serializes the current state for persistence.
func (e *Engine) SnapshotJSON() ([]byte, error) {
	snapshot := e.Snapshot()
	return json.Marshal(snapshot)
}

// RecordCount reports the number of live records.
func (e *Engine) RecordCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}

func (e *Engine) checkRecord(record Record) error {
	if record.ID == "" || record.Kind == "" {
		return fmt.Errorf("%w: id=%q kind=%q", ErrInvalidRecord, record.ID, record.Kind)
	}
	switch record.Category {
	case CategoryShape:
		if !e.schema.SupportsShape(record.Kind) {
			return fmt.Errorf("%w: shape %q", ErrUnknownKind, record.Kind)
		}
	case CategoryBinding:
		if !e.schema.SupportsBinding(record.Kind) {
			return fmt.Errorf("%w: binding %q", ErrUnknownKind, record.Kind)
		}
	default:
		return fmt.Errorf("%w: category %q", ErrInvalidRecord, record.Category)
	}
	return nil
}
