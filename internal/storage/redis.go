package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// busChannel is the pub/sub channel carrying broadcast records.  It is
// shared by every engine instance on the same Redis database, which is the
// same-origin scoping the cross-tab contract asks for.
const busChannel = "seatsync:bus"

// RedisStore implements SharedStore on a Redis client.  Transient slots use
// PX expiry so the server forgets them even if the writer dies before its
// cleanup timer fires.
type RedisStore struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedis wraps an established Redis client.  The client must be non-nil;
// callers holding a nil client (Redis unreachable) should pass a nil
// SharedStore around instead.
func NewRedis(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("storage: nil redis client")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetTransient(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Publish(ctx context.Context, rec model.BroadcastRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal broadcast record: %w", err)
	}
	if err := s.client.Publish(ctx, busChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Observe subscribes to the bus channel and dispatches decoded records on a
// dedicated goroutine.  Malformed payloads are logged and skipped; the
// channel carries wake-up hints, so dropping one is harmless.
func (s *RedisStore) Observe(fn func(model.BroadcastRecord)) (func(), error) {
	sub := s.client.Subscribe(context.Background(), busChannel)
	// Confirm the subscription before returning so callers never miss
	// records published right after Observe.
	if _, err := sub.Receive(context.Background()); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			var rec model.BroadcastRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				log.Printf("storage: bad broadcast payload: %v", err)
				continue
			}
			fn(rec)
		}
	}()
	return func() { _ = sub.Close() }, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	for _, sub := range s.subs {
		_ = sub.Close()
	}
	s.subs = nil
	s.mu.Unlock()
	return s.client.Close()
}
