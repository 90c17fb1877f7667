// Package tokencache implements the example TokenProvider adapter
// (C12): an LRU-memoized wrapper around a caller-supplied low-level
// token source, with an optional Redis mirror for cross-instance
// reuse. Memoization is a convenience for adapters only; the core
// itself never coordinates token state across processes.
package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/solventis/dataverse-access-core/internal/core/resilience"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

// fetchRetryPolicy governs retries around Source.FetchToken. Identity
// providers are occasionally flaky under load; a handful of short
// backoffs clears most of it without the caller noticing. A
// ContractAwareChecker keeps the retries from wasting time on a
// credential that is simply invalid.
var fetchRetryPolicy = &resilience.RetryPolicy{
	MaxRetries:   2,
	BaseDelay:    100 * time.Millisecond,
	MaxDelay:     1 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
	ErrorChecker: resilience.NewContractAwareChecker(),
}

type fetchResult struct {
	token     string
	expiresAt time.Time
}

// Source mints a fresh bearer token for resourceURL. Implementations
// talk to whatever identity provider the principal's credentials were
// issued by; CachingTokenProvider only knows how to call it and cache
// the result.
type Source interface {
	FetchToken(ctx context.Context, resourceURL string) (token string, expiresAt time.Time, err error)
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// CachingTokenProvider implements contracts.TokenProvider, memoizing
// tokens keyed by resource URL until they near expiry, then
// transparently refreshing via Source.
type CachingTokenProvider struct {
	source Source
	cache  *lru.Cache[string, cachedToken]
	redis  *redis.Client
	prefix string

	// refreshSkew triggers a refresh this far before the token's
	// actual expiry, to avoid handing out a token that expires mid-call.
	refreshSkew time.Duration

	mu sync.Mutex
}

var _ contracts.TokenProvider = (*CachingTokenProvider)(nil)

// Option configures a CachingTokenProvider.
type Option func(*CachingTokenProvider)

// WithRedisMirror mirrors cached tokens into rdb under keyPrefix, so a
// second process instance can reuse a token this one already fetched
// instead of triggering its own identity-provider round trip.
func WithRedisMirror(rdb *redis.Client, keyPrefix string) Option {
	return func(p *CachingTokenProvider) {
		p.redis = rdb
		p.prefix = keyPrefix
	}
}

// WithRefreshSkew overrides the default 2-minute refresh skew.
func WithRefreshSkew(d time.Duration) Option {
	return func(p *CachingTokenProvider) { p.refreshSkew = d }
}

// New builds a CachingTokenProvider over source with an LRU of the
// given size (one entry per distinct resource URL / principal pair is
// typical, so a few dozen entries comfortably covers most deployments).
func New(source Source, size int, opts ...Option) (*CachingTokenProvider, error) {
	cache, err := lru.New[string, cachedToken](size)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	p := &CachingTokenProvider{source: source, cache: cache, refreshSkew: 2 * time.Minute}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GetToken returns a cached token for resourceURL if it is still
// fresh, otherwise fetches and caches a new one.
func (p *CachingTokenProvider) GetToken(ctx context.Context, resourceURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tok, ok := p.cache.Get(resourceURL); ok && time.Until(tok.expiresAt) > p.refreshSkew {
		return tok.token, nil
	}

	if p.redis != nil {
		if tok, ok := p.getFromRedis(ctx, resourceURL); ok {
			p.cache.Add(resourceURL, tok)
			return tok.token, nil
		}
	}

	fetched, err := resilience.WithRetryFunc(ctx, fetchRetryPolicy, func() (fetchResult, error) {
		token, expiresAt, err := p.source.FetchToken(ctx, resourceURL)
		return fetchResult{token: token, expiresAt: expiresAt}, err
	})
	if err != nil {
		return "", contracts.WrapError(contracts.CodeAuthError, "failed to fetch token", err)
	}

	tok := cachedToken{token: fetched.token, expiresAt: fetched.expiresAt}
	p.cache.Add(resourceURL, tok)
	if p.redis != nil {
		p.setInRedis(ctx, resourceURL, tok)
	}
	return tok.token, nil
}

func (p *CachingTokenProvider) getFromRedis(ctx context.Context, resourceURL string) (cachedToken, bool) {
	val, err := p.redis.Get(ctx, p.redisKey(resourceURL)).Result()
	if err != nil {
		return cachedToken{}, false
	}
	ttl, err := p.redis.TTL(ctx, p.redisKey(resourceURL)).Result()
	if err != nil || ttl <= p.refreshSkew {
		return cachedToken{}, false
	}
	return cachedToken{token: val, expiresAt: time.Now().Add(ttl)}, true
}

func (p *CachingTokenProvider) setInRedis(ctx context.Context, resourceURL string, tok cachedToken) {
	ttl := time.Until(tok.expiresAt)
	if ttl <= 0 {
		return
	}
	// Best-effort: a mirror write failure never blocks the caller that
	// already has a valid token in hand.
	_ = p.redis.Set(ctx, p.redisKey(resourceURL), tok.token, ttl).Err()
}

func (p *CachingTokenProvider) redisKey(resourceURL string) string {
	return p.prefix + resourceURL
}
