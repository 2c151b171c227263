package coordinator

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/discoursegraphs/canvas-backend/internal/store"
)

// RegistryConfig describes the inputs required to build a Registry.
type RegistryConfig struct {
	Gateway      *store.Gateway
	SaveInterval time.Duration
	Logger       *zap.Logger
}

// Registry maps room identifiers to their single live coordinator. Lookups
// for the same brand-new room are collapsed through singleflight so two
// concurrent first connects share one instance; the invariant is that no
// two live coordinators for one room identifier ever coexist in-process.
type Registry struct {
	gateway      *store.Gateway
	saveInterval time.Duration
	logger       *zap.Logger

	mu           sync.RWMutex
	coordinators map[string]*Coordinator
	group        singleflight.Group
}

// NewRegistry returns an empty coordinator registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{
		gateway:      cfg.Gateway,
		saveInterval: cfg.SaveInterval,
		logger:       logger,
		coordinators: make(map[string]*Coordinator),
	}
}

// Get returns the coordinator for the room, creating it on first request.
func (r *Registry) Get(roomID string) *Coordinator {
	r.mu.RLock()
	existing, ok := r.coordinators[roomID]
	r.mu.RUnlock()
	if ok {
		return existing
	}

	created, _, _ := r.group.Do(roomID, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.coordinators[roomID]; ok {
			return existing, nil
		}
		instance := New(Config{
			RoomID:       roomID,
			Gateway:      r.gateway,
			SaveInterval: r.saveInterval,
			Logger:       r.logger,
		})
		r.coordinators[roomID] = instance
		r.logger.Info("coordinator created", zap.String("room_id", roomID))
		return instance, nil
	})
	return created.(*Coordinator)
}

// Evict tears down a room's coordinator and removes it from the registry.
// The next request for the room recreates it from durable storage.
func (r *Registry) Evict(roomID string) {
	r.mu.Lock()
	instance, ok := r.coordinators[roomID]
	delete(r.coordinators, roomID)
	r.mu.Unlock()
	if ok {
		instance.Close()
	}
}

// Size reports the number of resident coordinators.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.coordinators)
}

// Close tears down all resident coordinators, flushing pending saves.
func (r *Registry) Close() {
	r.mu.Lock()
	instances := make([]*Coordinator, 0, len(r.coordinators))
	for _, instance := range r.coordinators {
		instances = append(instances, instance)
	}
	r.coordinators = make(map[string]*Coordinator)
	r.mu.Unlock()

	for _, instance := range instances {
		instance.Close()
	}
}
