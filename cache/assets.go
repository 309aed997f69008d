// Package cache holds the shared static-asset cache. Ad detail pages
// all pull the same bundled loader scripts; serving them from memory
// via fulfill-from-cache interception saves one origin fetch per page.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Asset is one cached shared response.
type Asset struct {
	Body        []byte
	ContentType string
}

// entry holds a cached asset with its creation timestamp.
type entry struct {
	asset     *Asset
	createdAt time.Time
}

// Assets is an in-memory asset cache with per-key fill locks: when two
// workers miss on the same URL at once, exactly one fetches from the
// origin and the other waits for its result. It is safe for concurrent
// use and is injected into whichever component needs it — there is no
// package-level instance.
type Assets struct {
	mu         sync.RWMutex
	store      map[string]*entry
	locks      map[string]*sync.Mutex
	maxEntries int
	ttl        time.Duration
}

// NewAssets creates an asset cache. A background goroutine evicts
// expired entries every five minutes.
func NewAssets(maxEntries int, ttl time.Duration) *Assets {
	a := &Assets{
		store:      make(map[string]*entry),
		locks:      make(map[string]*sync.Mutex),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
	go a.cleanupLoop()
	return a
}

// Key generates a cache key from the asset URL.
func Key(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

// Get retrieves a cached asset if present and younger than the TTL.
func (a *Assets) Get(key string) (*Asset, bool) {
	a.mu.RLock()
	e, ok := a.store[key]
	a.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > a.ttl {
		return nil, false
	}
	return e.asset, true
}

// GetOrFill returns the cached asset for key, calling fill under the
// key's lock on a miss. A fill error is returned to every waiter and
// nothing is cached.
func (a *Assets) GetOrFill(key string, fill func() (*Asset, error)) (*Asset, error) {
	if asset, ok := a.Get(key); ok {
		return asset, nil
	}

	lock := a.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Another waiter may have filled while we queued on the lock.
	if asset, ok := a.Get(key); ok {
		return asset, nil
	}

	asset, err := fill()
	if err != nil {
		return nil, err
	}
	a.set(key, asset)
	return asset, nil
}

// keyLock returns the mutex owning key, creating it on first use.
func (a *Assets) keyLock(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	return l
}

// set stores an asset. If the cache is at capacity, a random entry is
// evicted to make room (map iteration is random in Go).
func (a *Assets) set(key string, asset *Asset) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.store) >= a.maxEntries {
		for k := range a.store {
			delete(a.store, k)
			break
		}
	}
	a.store[key] = &entry{asset: asset, createdAt: time.Now()}
}

// cleanupLoop evicts expired entries every 5 minutes.
func (a *Assets) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-a.ttl)
		a.mu.Lock()
		for k, e := range a.store {
			if e.createdAt.Before(cutoff) {
				delete(a.store, k)
				delete(a.locks, k)
			}
		}
		a.mu.Unlock()
	}
}
