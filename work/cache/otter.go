package cache

import (
	"context"
	"math"
	"time"

	"github.com/maypok86/otter/v2"
)

// OtterStore keeps entries in an otter cache bounded by total weight. Each entry
// expires at its own ExpiresAt, so tiers with different TTLs share one cache.
type OtterStore struct {
	cache *otter.Cache[string, *Entry]
}

// NewOtterStore creates a store holding roughly maxBytes of keys, headers and bodies.
func NewOtterStore(maxBytes int64) (*OtterStore, error) {
	c, err := otter.New(&otter.Options[string, *Entry]{
		MaximumWeight: uint64(maxBytes),
		Weigher: func(key string, e *Entry) uint32 {
			w := e.weight(key)
			if w > math.MaxUint32 {
				return math.MaxUint32
			}
			return uint32(w)
		},
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, *Entry]) time.Duration {
			return time.Until(e.Value.ExpiresAt)
		}),
	})
	if err != nil {
		return nil, err
	}
	return &OtterStore{cache: c}, nil
}

func (s *OtterStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := s.cache.GetIfPresent(key)
	if !ok || e.Expired(time.Now()) {
		return nil, false, nil
	}
	return e, true, nil
}

func (s *OtterStore) Set(_ context.Context, key string, entry *Entry) error {
	if entry.Expired(time.Now()) {
		return nil
	}
	s.cache.Set(key, entry)
	return nil
}

func (s *OtterStore) Close() {
	s.cache.StopAllGoroutines()
}
