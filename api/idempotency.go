package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// StoredResponse is the replayable outcome of a completed mutation.
type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body,omitempty"`
}

// RedisDeduper records Idempotency-Key values in Redis so every API instance
// replays the first outcome instead of reapplying a mutation.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Add claims the key. It returns true when the key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingMarker, r.ttl).Result()
}

// Remove releases a claimed key so the caller may retry after a failure.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// Complete stores the response for a claimed key, keeping its TTL.
func (r *RedisDeduper) Complete(ctx context.Context, userID, key string, resp StoredResponse) error {
	data, err := sonic.Marshal(resp)
	if err != nil {
		return err
	}
	err = r.client.SetArgs(ctx, r.key(userID, key), data, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
	if errors.Is(err, redis.Nil) {
		// expired while the request ran
		return nil
	}
	return err
}

// Lookup returns the stored response for key. ok is false while the first
// request is still running or after the key expired.
func (r *RedisDeduper) Lookup(ctx context.Context, userID, key string) (resp StoredResponse, ok bool, err error) {
	raw, err := r.client.Get(ctx, r.key(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StoredResponse{}, false, nil
	}
	if err != nil {
		return StoredResponse{}, false, err
	}
	if string(raw) == pendingMarker {
		return StoredResponse{}, false, nil
	}
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return StoredResponse{}, false, err
	}
	return resp, true, nil
}
