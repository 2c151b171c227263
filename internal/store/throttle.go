package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSaveInterval bounds snapshot writes to one per room per window.
const DefaultSaveInterval = 10 * time.Second

// SnapshotProvider produces the latest serialized room state. It is invoked
// at flush time, not at schedule time, so the written blob reflects the most
// recent mutation within the window.
type SnapshotProvider func() ([]byte, error)

// Saver throttles snapshot writes for one room. Change notifications within
// a window collapse into a single store write; a failed write is dropped and
// the next notification schedules another attempt.
type Saver struct {
	gateway  *Gateway
	roomID   string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending SnapshotProvider
	closed  bool
}

// NewSaver returns a throttled saver for the given room. A non-positive
// interval falls back to DefaultSaveInterval.
func NewSaver(gateway *Gateway, roomID string, interval time.Duration, logger *zap.Logger) *Saver {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Saver{
		gateway:  gateway,
		roomID:   roomID,
		interval: interval,
		logger:   logger,
	}
}

// Schedule records the provider as the latest state source and arms the
// flush timer if none is pending. Never blocks.
func (s *Saver) Schedule(provider SnapshotProvider) {
	if provider == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = provider
	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval, s.flush)
	}
}

// Flush writes any pending snapshot immediately and stops the timer. Used
// on coordinator teardown so buffered edits are not lost to the window.
func (s *Saver) Flush() {
	s.mu.Lock()
	provider := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.write(provider)
}

// Close flushes pending work and rejects further scheduling.
func (s *Saver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.Flush()
}

func (s *Saver) flush() {
	s.mu.Lock()
	provider := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	s.write(provider)
}

func (s *Saver) write(provider SnapshotProvider) {
	if provider == nil {
		return
	}
	snapshotJSON, err := provider()
	if err != nil {
		s.logger.Error("snapshot serialization failed",
			zap.String("room_id", s.roomID), zap.Error(err))
		return
	}
	if len(snapshotJSON) == 0 {
		return
	}
	if err := s.gateway.SaveSnapshot(context.Background(), s.roomID, snapshotJSON); err != nil {
		s.logger.Error("throttled snapshot save failed",
			zap.String("room_id", s.roomID), zap.Error(err))
	}
}
