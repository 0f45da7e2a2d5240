package cache

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultChannel = "bigdeal:cache:invalidate"

// Bus fans invalidations out to the other processes sharing the database.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

type invalidation struct {
	Origin  string  `json:"origin"`
	Kind    Kind    `json:"kind"`
	ID      string  `json:"id"`
	Trigger Trigger `json:"trigger"`
}

func NewBus(client *redis.Client, log *zap.Logger) *Bus {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		client:  client,
		channel: defaultChannel,
		origin:  uuid.NewString(),
		log:     log.Named("cache.bus"),
	}
}

func (b *Bus) Publish(ctx context.Context, ref scopeRef, trigger Trigger) error {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(invalidation{Origin: b.origin, Kind: ref.kind, ID: ref.id, Trigger: trigger})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// Attach makes store publish its invalidations on b and apply the ones
// received from other processes until ctx is done.
func (b *Bus) Attach(ctx context.Context, store *Store) error {
	if b == nil || store == nil {
		return nil
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("cache bus subscribe: %w", err)
	}

	store.mu.Lock()
	store.bus = b
	store.mu.Unlock()

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				if err := b.apply(ctx, store, []byte(m.Payload)); err != nil {
					b.log.Warn("bad cache invalidation payload", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

var errMalformedInvalidation = errors.New("malformed_invalidation")

func (b *Bus) apply(ctx context.Context, store *Store, payload []byte) error {
	var msg invalidation
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Origin == b.origin {
		return nil
	}
	switch msg.Kind {
	case KindScenario, KindConsortium, KindPackage, KindGlobal:
	default:
		return errMalformedInvalidation
	}
	store.invalidate(ctx, scopeRef{kind: msg.Kind, id: msg.ID}, msg.Trigger, false)
	return nil
}
