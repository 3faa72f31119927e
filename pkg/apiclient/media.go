package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/livecenter/pkg/apierr"
)

// MediaPathPrefix is where the backend serves media that needs the session.
const MediaPathPrefix = "/media/"

// Media is a fetched media object. Cached values are shared; Data must not be
// modified.
type Media struct {
	URL         string
	ContentType string
	Data        []byte
}

// MediaCache fetches media through a Dispatcher, so requests carry the session
// token, and keeps each result by absolute URL until it is revoked.
type MediaCache struct {
	d *Dispatcher

	flights singleflight.Group

	mu    sync.RWMutex
	items map[string]*Media
	gen   uint64
}

// NewMediaCache creates an empty cache fetching through d.
func NewMediaCache(d *Dispatcher) *MediaCache {
	return &MediaCache{d: d, items: make(map[string]*Media)}
}

// URL resolves a media reference. Absolute URLs are kept; relative ones are
// joined to the backend origin, which is the base URL with its /api/ suffix
// dropped.
func (c *MediaCache) URL(raw string) string {
	if raw == "" {
		return ""
	}
	if isAbsolute(raw) {
		return raw
	}

	origin := strings.TrimRight(c.d.baseURL, "/")
	if i := strings.Index(origin, "/api/"); i >= 0 {
		origin = origin[:i]
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return origin + raw
}

// NeedsAuth reports whether raw points at protected media. References that
// cannot be resolved to an absolute URL are treated as protected.
func (c *MediaCache) NeedsAuth(raw string) bool {
	u, err := url.Parse(c.URL(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return true
	}
	return strings.HasPrefix(u.Path, MediaPathPrefix)
}

// Fetch returns the media at raw, from the cache when present. Concurrent
// fetches of one URL share a single request. Failures are not cached.
func (c *MediaCache) Fetch(ctx context.Context, raw string) (*Media, error) {
	abs := c.URL(raw)
	if abs == "" {
		return nil, apierr.New(apierr.KindClientError, "invalid request: empty media URL")
	}

	c.mu.RLock()
	m, ok := c.items[abs]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := c.flights.Do(abs, func() (any, error) {
		// A flight that ended just before this one may have filled the entry.
		c.mu.RLock()
		m, ok := c.items[abs]
		c.mu.RUnlock()
		if ok {
			return m, nil
		}

		resp, err := c.d.Dispatch(ctx, Descriptor{
			URL:         abs,
			Method:      http.MethodGet,
			Header:      http.Header{"Accept": {"image/*, */*"}},
			Auth:        c.NeedsAuth(raw),
			RetryBudget: c.d.readRetries,
		})
		if err != nil {
			return nil, err
		}

		m = &Media{URL: abs, ContentType: resp.Header.Get(HeaderContentType), Data: resp.Body}
		if !strings.HasPrefix(strings.ToLower(m.ContentType), "image/") {
			c.d.logger.Warn("unexpected content type for media", "url", abs, "content_type", m.ContentType)
		}

		c.mu.Lock()
		// Skip the store when a revoke ran while the request was in flight.
		if c.gen == gen {
			c.items[abs] = m
		}
		c.mu.Unlock()

		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Media), nil
}

// Revoke drops the cached media for raw.
func (c *MediaCache) Revoke(raw string) {
	abs := c.URL(raw)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, abs)
	c.gen++
}

// Purge drops every cached item.
func (c *MediaCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	c.gen++
}
