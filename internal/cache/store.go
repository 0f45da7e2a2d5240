package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the process-wide memo. Entries never expire; they are dropped
// only when their scope's generation moves on. A nil *Store is a valid,
// always-empty store.
type Store struct {
	mu          sync.RWMutex
	entries     map[Key]entry
	generations map[scopeRef]uint64

	group   singleflight.Group
	log     *zap.Logger
	metrics *metrics.RecomputeMetrics
	bus     *Bus
}

type entry struct {
	value      any
	generation uint64
}

func NewStore(log *zap.Logger, m *metrics.RecomputeMetrics) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		entries:     make(map[Key]entry),
		generations: make(map[scopeRef]uint64),
		log:         log.Named("cache"),
		metrics:     m,
	}
}

// Generation returns the current generation of the key's scope.
func (s *Store) Generation(key Key) uint64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[key.scope()]
}

func (s *Store) Get(key Key) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	current := s.generations[key.scope()]
	s.mu.RUnlock()
	if !ok || e.generation != current {
		s.metrics.IncCacheLookup(string(key.Entity), metrics.CacheResultMiss)
		return nil, false
	}
	s.metrics.IncCacheLookup(string(key.Entity), metrics.CacheResultHit)
	return e.value, true
}

// Put stores value computed against generation. A value whose scope was
// invalidated while it was being computed is discarded.
func (s *Store) Put(key Key, generation uint64, value any) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[key.scope()] != generation {
		return false
	}
	s.entries[key] = entry{value: value, generation: generation}
	return true
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) InvalidateScenario(ctx context.Context, scenarioID string, trigger Trigger) {
	s.invalidate(ctx, scopeRef{kind: KindScenario, id: normalize(scenarioID)}, trigger, true)
}

func (s *Store) InvalidateConsortium(ctx context.Context, consortiumID string, trigger Trigger) {
	s.invalidate(ctx, scopeRef{kind: KindConsortium, id: normalize(consortiumID)}, trigger, true)
}

func (s *Store) InvalidatePackage(ctx context.Context, packageID string, trigger Trigger) {
	s.invalidate(ctx, scopeRef{kind: KindPackage, id: normalize(packageID)}, trigger, true)
}

func (s *Store) InvalidateGlobal(ctx context.Context, trigger Trigger) {
	s.invalidate(ctx, scopeRef{kind: KindGlobal}, trigger, true)
}

func (s *Store) invalidate(ctx context.Context, ref scopeRef, trigger Trigger, publish bool) {
	if s == nil {
		return
	}
	if ref.kind != KindGlobal && ref.id == "" {
		return
	}

	s.mu.Lock()
	s.generations[ref]++
	dropped := 0
	for key := range s.entries {
		if key.scope() == ref {
			delete(s.entries, key)
			dropped++
		}
	}
	bus := s.bus
	s.mu.Unlock()

	s.metrics.IncCacheInvalidation(string(trigger))
	s.log.Debug("cache invalidated",
		zap.String("kind", string(ref.kind)),
		zap.String("id", ref.id),
		zap.String("trigger", string(trigger)),
		zap.Int("dropped", dropped),
	)

	if publish && bus != nil {
		if err := bus.Publish(ctx, ref, trigger); err != nil {
			s.log.Warn("cache invalidation publish failed", zap.String("id", ref.id), zap.Error(err))
		}
	}
}

// load fetches key from the store or computes it once across concurrent
// callers of the same generation. A caller arriving after an invalidation
// starts its own flight instead of joining one computing the old generation.
func (s *Store) load(ctx context.Context, key Key, fn func(context.Context) (any, error)) (any, error) {
	if s == nil {
		return fn(ctx)
	}
	if value, ok := s.Get(key); ok {
		return value, nil
	}
	generation := s.Generation(key)
	value, err, _ := s.group.Do(fmt.Sprintf("%s#%d", key, generation), func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		s.Put(key, generation, value)
		return value, nil
	})
	return value, err
}
