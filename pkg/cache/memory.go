package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

type challengeEntry struct {
	difficulty int
	expiresAt  time.Time
}

// MemoryCache keeps challenges and routes in process memory.
type MemoryCache struct {
	mu         sync.RWMutex
	challenges map[string]challengeEntry
	routes     map[string]*types.Route

	// now is swappable for expiry tests
	now func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		challenges: make(map[string]challengeEntry),
		routes:     make(map[string]*types.Route),
		now:        time.Now,
	}
}

func (c *MemoryCache) SaveChallenge(_ context.Context, nonce string, difficulty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Sweep expired entries while we hold the write lock
	now := c.now()
	for key, entry := range c.challenges {
		if now.After(entry.expiresAt) {
			delete(c.challenges, key)
		}
	}

	c.challenges[nonce] = challengeEntry{
		difficulty: difficulty,
		expiresAt:  now.Add(ChallengeTTL),
	}
	return nil
}

func (c *MemoryCache) GetChallenge(_ context.Context, nonce string) (int, bool, error) {
	c.mu.RLock()
	entry, ok := c.challenges[nonce]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return 0, false, nil
	}
	return entry.difficulty, true, nil
}

func (c *MemoryCache) DeleteChallenge(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.challenges[nonce]
	delete(c.challenges, nonce)
	return ok && !c.now().After(entry.expiresAt), nil
}

func (c *MemoryCache) SaveRoute(_ context.Context, route *types.Route) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := *route
	copied.ProxyNodes = append([]string(nil), route.ProxyNodes...)
	c.routes[route.NodeID] = &copied
	return nil
}

func (c *MemoryCache) GetRoute(_ context.Context, nodeID string) (*types.Route, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	route, ok := c.routes[nodeID]
	if !ok {
		return nil, nil
	}

	copied := *route
	copied.ProxyNodes = append([]string(nil), route.ProxyNodes...)
	return &copied, nil
}

func (c *MemoryCache) DeleteRoute(_ context.Context, nodeID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.routes[nodeID]
	delete(c.routes, nodeID)
	return ok, nil
}

func (c *MemoryCache) Close() error {
	return nil
}
