package auth

import (
	"sync"
	"time"
)

// VerificationCache is an optional positive-verification cache: verifiers
// may cache a positive verification result for a short duration keyed by
// the token string. It never caches failures —
// a bad token is always re-verified against the live secret and clock, so
// revocation-by-expiry is still exact; only the repeated cost of re-parsing
// and re-checking the signature of an already-good token is avoided.
type VerificationCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	byTok map[string]cacheEntry
}

type cacheEntry struct {
	claims    *Claims
	expiresAt time.Time
}

func NewVerificationCache(ttl time.Duration) *VerificationCache {
	return &VerificationCache{ttl: ttl, byTok: make(map[string]cacheEntry)}
}

// Get returns a cached claims set for tokenString if it was stored within
// the cache's TTL window, and reports whether the entry is still live.
func (c *VerificationCache) Get(tokenString string) (*Claims, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byTok[tokenString]
	if !ok {
		return nil, false
	}
	now := time.Now()
	tokenExpired := entry.claims.ExpiresAt != nil && now.After(entry.claims.ExpiresAt.Time)
	if now.After(entry.expiresAt) || tokenExpired {
		delete(c.byTok, tokenString)
		return nil, false
	}
	return entry.claims, true
}

// Put records a positive verification result for tokenString.
func (c *VerificationCache) Put(tokenString string, claims *Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTok[tokenString] = cacheEntry{claims: claims, expiresAt: time.Now().Add(c.ttl)}
}

// VerifyCached is VerifyToken fronted by the positive-verification cache.
func VerifyCached(cache *VerificationCache, tokenString string, cfg TokenConfig) (*Claims, error) {
	if cache != nil {
		if claims, ok := cache.Get(tokenString); ok {
			return claims, nil
		}
	}

	claims, err := VerifyToken(tokenString, cfg)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Put(tokenString, claims)
	}
	return claims, nil
}
