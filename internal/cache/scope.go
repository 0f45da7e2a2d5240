package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Scope memoizes values for one logical view construction. Every key is
// computed at most once per scope, however many consumers ask for it.
type Scope struct {
	store *Store

	mu     sync.Mutex
	values map[Key]any
	group  singleflight.Group
}

func NewScope(store *Store) *Scope {
	return &Scope{store: store, values: make(map[Key]any)}
}

func (s *Scope) Store() *Store {
	return s.store
}

func (s *Scope) cached(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *Scope) remember(key Key, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Load returns the value for key, consulting the scope, then the process
// store, then fn.
func Load[T any](ctx context.Context, s *Scope, key Key, fn func(context.Context) (T, error)) (T, error) {
	return load(ctx, s, key, fn, true)
}

// LoadLocal memoizes only within the scope. Used for values that must be
// fresh on every request, such as job progress.
func LoadLocal[T any](ctx context.Context, s *Scope, key Key, fn func(context.Context) (T, error)) (T, error) {
	return load(ctx, s, key, fn, false)
}

func load[T any](ctx context.Context, s *Scope, key Key, fn func(context.Context) (T, error), shared bool) (T, error) {
	var zero T
	if s == nil {
		return fn(ctx)
	}
	if value, ok := s.cached(key); ok {
		return cast[T](key, value)
	}

	value, err, _ := s.group.Do(key.String(), func() (any, error) {
		if value, ok := s.cached(key); ok {
			return value, nil
		}
		compute := func(ctx context.Context) (any, error) { return fn(ctx) }
		var (
			value any
			err   error
		)
		if shared {
			value, err = s.store.load(ctx, key, compute)
		} else {
			value, err = compute(ctx)
		}
		if err != nil {
			return nil, err
		}
		s.remember(key, value)
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	return cast[T](key, value)
}

func cast[T any](key Key, value any) (T, error) {
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: %s holds %T", key, value)
	}
	return typed, nil
}
