package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type memoryStore struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemory constructs an in-process Store. Entries expire by their TTL
// alone; reads do not extend lifetimes, so a cached view never outlives
// the TTL it was stored with.
func NewMemory() Store {
	c := ttlcache.New(
		ttlcache.WithTTL[string, []byte](DefaultTTL),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go c.Start()
	return &memoryStore{cache: c}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.cache.Stop()
	return nil
}
