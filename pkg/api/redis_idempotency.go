package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore backs idempotent replay with Redis so that replays
// survive process restarts and work across replicas. Entries expire via
// Redis TTL; there is no cleanup goroutine.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

var _ IdempotencyStorer = (*RedisIdempotencyStore)(nil)

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: client,
		ttl:    ttl,
		log:    slog.Default().With("component", "idempotency-redis"),
	}
}

func (s *RedisIdempotencyStore) key(key string) string {
	return "trustcore:idem:" + key
}

// Check returns a cached response if one exists for the key.
func (s *RedisIdempotencyStore) Check(key string) (*CachedResponse, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		// Treat backend trouble as a miss; the handler re-executes.
		s.log.Warn("idempotency lookup failed", "error", err)
		return nil, false
	}

	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.log.Warn("idempotency entry corrupt", "error", err)
		return nil, false
	}
	return &cached, true
}

// Set stores a response under the key with the configured TTL.
func (s *RedisIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	cached := CachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   time.Now(),
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		s.log.Warn("idempotency entry encode failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		s.log.Warn("idempotency store failed", "error", err)
	}
}
