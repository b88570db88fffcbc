package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process. It serves single node deployments
// and tests.
type MemoryStore struct {
	c      *gocache.Cache
	prefix string
}

func NewMemoryStore(prefix string, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		c:      gocache.New(gocache.NoExpiration, cleanupInterval),
		prefix: prefix,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(prefixed(s.prefix, key))
	if !ok {
		return nil, ErrMiss
	}
	raw := v.([]byte)
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw := make([]byte, len(value))
	copy(raw, value)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.c.Set(prefixed(s.prefix, key), raw, ttl)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.c.Delete(prefixed(s.prefix, key))
	return nil
}

func (s *MemoryStore) RemoveByPattern(ctx context.Context, pattern string) error {
	full := prefixed(s.prefix, pattern)
	if _, err := path.Match(full, ""); err != nil {
		return fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	for k := range s.c.Items() {
		if ok, _ := path.Match(full, k); ok {
			s.c.Delete(k)
		}
	}
	return nil
}

func (s *MemoryStore) Len() int {
	return s.c.ItemCount()
}
