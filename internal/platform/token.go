package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshSkew renews the token this long before its actual expiry so that
// in-flight requests never carry a token that dies mid-request.
const refreshSkew = 30 * time.Second

// fetchFunc obtains a fresh session token and its expiry from the platform.
type fetchFunc func(ctx context.Context) (string, time.Time, error)

// TokenCache holds the platform admin session token.
//
// Concurrent callers that find the token expired share a single login call
// through singleflight; the rest wait for its result instead of issuing
// their own.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	fetch fetchFunc
}

// NewTokenCache creates a token cache backed by the given fetch function.
func NewTokenCache(fetch fetchFunc) *TokenCache {
	return &TokenCache{fetch: fetch}
}

// Token returns a valid session token, refreshing it if expired or absent.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.expiresAt.Add(-refreshSkew)) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	// The context of the first caller drives the shared fetch; later
	// arrivals piggyback on its result.
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		token, expiresAt, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.token = token
		c.expiresAt = expiresAt
		c.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", fmt.Errorf("refreshing session token: %w", err)
	}

	token, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("refreshing session token: unexpected result type %T", v)
	}
	return token, nil
}

// Invalidate discards the cached token so the next Token call refreshes.
// Used when the platform rejects a request with 401 before local expiry.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
