package access

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"gatekit.org/internal/obs"
)

const (
	defaultCacheTTL  = 15 * time.Minute
	defaultCacheSize = 4096
)

type cacheEntry struct {
	perms []string
	epoch uint64
}

// Cache memoizes resolved permission sets in front of the Resolver. Entries
// expire after a TTL that bounds staleness for missed invalidations, while
// explicit invalidation gives near-real-time correctness on mutation paths.
//
// Each principal carries a monotonic epoch. A resolve that started before an
// invalidation observes a stale epoch and its result is discarded instead of
// published, so last-writer-by-epoch wins rather than last-writer-by-time.
type Cache struct {
	resolver *Resolver

	mu      sync.Mutex
	epochs  map[string]uint64
	entries *lru.LRU[string, cacheEntry]
	group   singleflight.Group
}

// NewCache constructs a Cache over the resolver. A non-positive ttl or size
// falls back to defaults.
func NewCache(resolver *Resolver, ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{
		resolver: resolver,
		epochs:   make(map[string]uint64),
		entries:  lru.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

// Resolver exposes the underlying resolver for callers that need direct,
// uncached resolution or hierarchy operations.
func (c *Cache) Resolver() *Resolver { return c.resolver }

// GetEffective returns the effective permission set for a principal, serving
// from cache when possible and resolving through on miss or expiry.
// Concurrent misses for the same principal are coalesced into one resolve.
func (c *Cache) GetEffective(ctx context.Context, userID string) ([]string, error) {
	if entry, ok := c.entries.Get(userID); ok {
		obs.IncPermCacheHit()
		return append([]string(nil), entry.perms...), nil
	}
	obs.IncPermCacheMiss()

	v, err, _ := c.group.Do(userID, func() (any, error) {
		epoch := c.currentEpoch(userID)
		perms, err := c.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.publish(userID, perms, epoch)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	perms := v.([]string)
	return append([]string(nil), perms...), nil
}

// Invalidate drops the cached entry for a principal and bumps its epoch so
// any in-flight resolve that started earlier cannot publish a stale result.
// It returns once the invalidation is applied; callers mutating roles or
// overrides must not acknowledge the mutation before this returns.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	c.epochs[userID]++
	c.mu.Unlock()
	c.entries.Remove(userID)
	obs.IncPermCacheInvalidation()
}

// InvalidateByRole fans an invalidation out to every principal currently
// holding the role, including through descendant roles in the hierarchy.
func (c *Cache) InvalidateByRole(ctx context.Context, roleID string) error {
	holders, err := c.resolver.RoleHolders(ctx, roleID)
	if err != nil {
		return err
	}
	for _, userID := range holders {
		c.Invalidate(userID)
	}
	return nil
}

func (c *Cache) currentEpoch(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[userID]
}

func (c *Cache) publish(userID string, perms []string, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[userID] != epoch {
		return
	}
	c.entries.Add(userID, cacheEntry{perms: perms, epoch: epoch})
}
