package fetcher

import (
	"bytes"
	"context"
	"io"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// CachedFetcher serves repeated downloads of the same URL from memory until
// the entry expires. Several campaigns are often cut from one published
// workbook, so a run fetches each feed once.
type CachedFetcher struct {
	next  Fetcher
	cache *gocache.Cache
}

// NewCachedFetcher wraps next with a response cache. A ttl of zero or less
// disables caching.
func NewCachedFetcher(next Fetcher, ttl time.Duration) *CachedFetcher {
	c := &CachedFetcher{next: next}
	if ttl > 0 {
		c.cache = gocache.New(ttl, 2*ttl)
	}
	return c
}

// Download returns the cached body for url or fetches and caches it.
func (c *CachedFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if c.cache == nil {
		return c.next.Download(ctx, url)
	}
	if data, ok := c.cache.Get(url); ok {
		zap.L().Debug("feed cache hit", zap.String("url", url))
		return io.NopCloser(bytes.NewReader(data.([]byte))), nil
	}

	data, err := ReadAll(ctx, c.next, url)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(url, data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Flush drops every cached response.
func (c *CachedFetcher) Flush() {
	if c.cache != nil {
		c.cache.Flush()
	}
}
