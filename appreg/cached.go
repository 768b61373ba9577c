// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package appreg

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/databrook/databrook/identity"
)

// Cached is a read-through [Directory] that caches lookups from a slower
// backing registry. Each app name gets its own cache entry with expiration.
// Negative lookups (app does not exist) are cached too, so a burst of offers
// naming an unknown app does not hammer the backing store.
type Cached struct {
	mu    sync.RWMutex
	cfg   CachedConfig
	inner Directory
	cache *lru.Cache[string, *dirEntry]
}

var _ Directory = (*Cached)(nil)

// dirEntry represents a cached lookup result for a single app name.
type dirEntry struct {
	owner     identity.Address
	exists    bool
	expiresAt time.Time
}

type CachedConfig struct {
	// ExpiresAfter is the amount of time before a cache entry expires.
	ExpiresAfter time.Duration
	MaxCacheSize int
}

func DefaultCachedConfig() CachedConfig {
	return CachedConfig{
		ExpiresAfter: 1 * time.Minute,
		MaxCacheSize: 1000,
	}
}

func NewCached(inner Directory, cfg CachedConfig) *Cached {
	cache, err := lru.New[string, *dirEntry](cfg.MaxCacheSize)
	if err != nil {
		// This shouldn't happen
		panic("failed to create LRU cache: " + err.Error())
	}

	return &Cached{
		cfg:   cfg,
		inner: inner,
		cache: cache,
	}
}

func (e *dirEntry) isExpired() bool {
	return e.expiresAt.Before(time.Now())
}

func (c *Cached) lookup(ctx context.Context, name string) (*dirEntry, error) {
	c.mu.RLock()
	entry, ok := c.cache.Get(name)
	c.mu.RUnlock()
	if ok && !entry.isExpired() {
		return entry, nil
	}

	entry = &dirEntry{
		expiresAt: time.Now().Add(c.cfg.ExpiresAfter),
	}

	owner, err := c.inner.Owner(ctx, name)
	switch {
	case err == nil:
		entry.owner = owner
		entry.exists = true
	case errors.Is(err, ErrAppNotFound):
		entry.exists = false
	default:
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(name, entry)
	c.mu.Unlock()

	return entry, nil
}

func (c *Cached) Exists(ctx context.Context, name string) (bool, error) {
	entry, err := c.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return entry.exists, nil
}

func (c *Cached) IsOwner(ctx context.Context, name string, addr identity.Address) (bool, error) {
	entry, err := c.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	if !entry.exists {
		return false, ErrAppNotFound
	}
	return entry.owner == addr, nil
}

func (c *Cached) Owner(ctx context.Context, name string) (identity.Address, error) {
	entry, err := c.lookup(ctx, name)
	if err != nil {
		return identity.Address{}, err
	}
	if !entry.exists {
		return identity.Address{}, ErrAppNotFound
	}
	return entry.owner, nil
}

// Invalidate drops the cache entry for name, if any. Registries that mutate
// ownership should call it so the next lookup sees the new state.
func (c *Cached) Invalidate(name string) {
	c.mu.Lock()
	c.cache.Remove(name)
	c.mu.Unlock()
}
