// Package redis provides a Redis-backed storage.Store. It serves as the
// alternate token store shared between the web front end and this client.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/livecenter/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps connection-level failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store implements storage.Store on top of a go-redis client. Keys are
// namespaced with prefix.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps rdb. A ttl of zero stores keys without expiry.
func NewStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Dial creates a client for addr and verifies it with PING.
func Dial(ctx context.Context, addr, prefix string, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Join(ErrRedisUnavailable, err)
	}
	return NewStore(rdb, prefix, ttl), nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", errors.Join(ErrRedisUnavailable, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error { return s.rdb.Close() }
