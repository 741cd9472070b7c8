// Package store wires the shared Redis-compatible key-value store used by
// the Result Cache, Metadata Cache, Job index, and single-flight markers.
// Every other package that needs Redis takes a *redis.Client directly; this
// package only owns connecting to it and the small generic JSON helpers
// repeated across them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses a redis:// URL and returns a client verified by a PING
// (bounded to 5s); the one client and its connection pool are shared by
// every caller rather than built per caller.
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// GetJSON reads key and unmarshals it into dest. Returns ok=false on a
// cache miss (redis.Nil), not an error.
func GetJSON(ctx context.Context, client *redis.Client, key string, dest interface{}) (ok bool, err error) {
	raw, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals value and writes it to key with the given TTL (zero TTL
// means no expiration).
func SetJSON(ctx context.Context, client *redis.Client, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
