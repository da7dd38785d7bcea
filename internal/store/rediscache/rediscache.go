// Package rediscache provides a Redis-backed read-through cache in front of
// a store.NavigationStore, adapted from the teacher's skills/workspaces
// Redis caches (optional, disabled by default).
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/store"
)

// NavigationCache wraps a store.NavigationStore with a Redis read-through
// layer keyed by owner and cache type. One built around a nil client (New
// with an empty addr) behaves like a pass-through to the backing store; a nil
// *NavigationCache is not usable.
type NavigationCache struct {
	backing store.NavigationStore
	client  redis.UniversalClient
	ttl     time.Duration
}

// New connects to addr and wraps backing. If addr is empty, caching is
// disabled and every call delegates straight to backing.
func New(addr string, backing store.NavigationStore, ttl time.Duration) (*NavigationCache, error) {
	if addr == "" {
		return &NavigationCache{backing: backing}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &NavigationCache{backing: backing, client: client, ttl: ttl}, nil
}

func (c *NavigationCache) key(ownerID string, t domain.NavigationCacheType) string {
	return fmt.Sprintf("nexus:navcache:%s:%s", ownerID, t)
}

// GetNavigationCache reads through Redis before falling back to the backing
// store.NavigationStore, populating Redis on a miss.
func (c *NavigationCache) GetNavigationCache(ctx context.Context, ownerID string, t domain.NavigationCacheType) (domain.NexusNavigationCache, error) {
	if c.client == nil {
		return c.backing.GetNavigationCache(ctx, ownerID, t)
	}
	key := c.key(ownerID, t)
	if val, err := c.client.Get(ctx, key).Result(); err == nil {
		var cached domain.NexusNavigationCache
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			return cached, nil
		}
		log.Debug().Str("key", key).Msg("rediscache_navigation_unmarshal_error")
	} else if err != redis.Nil {
		log.Debug().Err(err).Str("key", key).Msg("rediscache_navigation_get_error")
	}

	fresh, err := c.backing.GetNavigationCache(ctx, ownerID, t)
	if err != nil {
		return domain.NexusNavigationCache{}, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

// PutNavigationCache writes through to the backing store.NavigationStore and
// invalidates/refreshes the Redis copy.
func (c *NavigationCache) PutNavigationCache(ctx context.Context, nc domain.NexusNavigationCache) error {
	if err := c.backing.PutNavigationCache(ctx, nc); err != nil {
		return err
	}
	if c.client == nil {
		return nil
	}
	c.store(ctx, c.key(nc.OwnerID, nc.CacheType), nc)
	return nil
}

func (c *NavigationCache) store(ctx context.Context, key string, nc domain.NexusNavigationCache) {
	data, err := json.Marshal(nc)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("rediscache_navigation_marshal_error")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("rediscache_navigation_set_error")
	}
}

// Close releases the Redis client connection, if any.
func (c *NavigationCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ store.NavigationStore = (*NavigationCache)(nil)
