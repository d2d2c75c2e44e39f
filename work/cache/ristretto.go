package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"ytlive-proxy/work/logger"
)

// RistrettoStore keeps entries in a ristretto cache with cost equal to entry weight.
type RistrettoStore struct {
	cache *ristretto.Cache[string, *Entry]
}

// NewRistrettoStore creates a store bounded by maxBytes of total cost.
func NewRistrettoStore(maxBytes int64) (*RistrettoStore, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{cache: c}, nil
}

func (s *RistrettoStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := s.cache.Get(key)
	if !ok || e.Expired(time.Now()) {
		return nil, false, nil
	}
	return e, true, nil
}

// Set waits for the write buffer to drain so an immediate Get observes the entry.
func (s *RistrettoStore) Set(_ context.Context, key string, entry *Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if !s.cache.SetWithTTL(key, entry, entry.weight(key), ttl) {
		logger.Debug("{cache/ristretto - Set} write dropped by admission policy")
		return nil
	}
	s.cache.Wait()
	return nil
}

func (s *RistrettoStore) Close() {
	s.cache.Close()
}
