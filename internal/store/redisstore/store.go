package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "aether:idempo:"

// Store keeps short-lived idempotency claims for queued turns.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl)
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func idempotencyKey(sessionID, key string) string {
	return fmt.Sprintf("%s%s:%s", idempotencyKeyPrefix, sessionID, key)
}

// ClaimIdempotencyKey binds key to jobID for the session. When the key was
// already claimed it returns the earlier job id and claimed=false.
func (s *Store) ClaimIdempotencyKey(ctx context.Context, sessionID, key, jobID string) (string, bool, error) {
	k := idempotencyKey(sessionID, key)
	ok, err := s.rdb.SetNX(ctx, k, jobID, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return jobID, true, nil
	}

	existing, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return "", false, fmt.Errorf("idempotency key %q expired during claim", key)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// ReleaseIdempotencyKey drops a claim whose job could not be created.
func (s *Store) ReleaseIdempotencyKey(ctx context.Context, sessionID, key string) error {
	return s.rdb.Del(ctx, idempotencyKey(sessionID, key)).Err()
}
