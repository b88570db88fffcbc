// Package cache is the advisory image cache. Entries are JSON encoded and
// every key is namespaced by a global prefix.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMiss = errors.New("cache miss")

type Store interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	// RemoveByPattern deletes every key matching a glob pattern such as
	// movie_image:movie:<id>:*.
	RemoveByPattern(ctx context.Context, pattern string) error
}

func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &v, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
