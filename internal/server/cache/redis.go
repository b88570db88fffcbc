package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanCount = 1000

// RedisStore keeps entries in Redis. Pattern removal walks the keyspace
// with SCAN and UNLINKs matches in pipelined batches.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient builds a client from a comma separated list of addresses
// or redis:// URLs. More than one address selects cluster mode.
func NewRedisClient(ctx context.Context, raw string) (redis.UniversalClient, error) {
	opts, err := ParseUniversalOptions(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if len(opts.Addrs) > 1 {
		opts.DB = 0
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func ParseUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}
		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
	}
	if len(opts.Addrs) == 0 {
		return nil, errors.New("no redis addresses provided")
	}
	return opts, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, prefixed(s.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, prefixed(s.prefix, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Unlink(ctx, prefixed(s.prefix, key)).Err(); err != nil {
		return fmt.Errorf("redis unlink %s: %w", key, err)
	}
	return nil
}

// RemoveByPattern deletes every key matching pattern. A cluster client scans
// each master, since a keyless SCAN only reaches one node.
func (s *RedisStore) RemoveByPattern(ctx context.Context, pattern string) error {
	full := prefixed(s.prefix, pattern)
	return forEachNode(ctx, s.client, func(ctx context.Context, node redis.Cmdable) error {
		return unlinkMatching(ctx, node, full)
	})
}

func forEachNode(ctx context.Context, client redis.UniversalClient, fn func(context.Context, redis.Cmdable) error) error {
	if cluster, ok := client.(*redis.ClusterClient); ok {
		return cluster.ForEachMaster(ctx, func(ctx context.Context, master *redis.Client) error {
			return fn(ctx, master)
		})
	}
	return fn(ctx, client)
}

func unlinkMatching(ctx context.Context, node redis.Cmdable, match string) error {
	var cursor uint64
	for {
		keys, next, err := node.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			pipe := node.Pipeline()
			for _, k := range keys {
				pipe.Unlink(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("redis unlink batch: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
