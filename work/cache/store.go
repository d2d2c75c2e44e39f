package cache

import (
	"context"
	"fmt"

	"ytlive-proxy/work/config"
)

// Store is the key-value capability behind the cache-aside layer. Implementations own
// expiry: an entry must not be returned once its ExpiresAt has passed.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Close()
}

// NewStore builds the backend selected in the configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.CacheBackend {
	case config.BackendRistretto:
		return NewRistrettoStore(cfg.CacheMaxBytes)
	case config.BackendOtter, "":
		return NewOtterStore(cfg.CacheMaxBytes)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
