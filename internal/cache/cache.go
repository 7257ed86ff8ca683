// Package cache holds each participant's local copy of page content
// fetched from the owner. Entries age out on a fixed TTL counted from when
// they were stored; reading an entry does not extend its life, so "stale
// after an hour" means exactly that.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is one cached page rendering.
type Entry struct {
	HTML     string
	StoredAt time.Time
}

// Content is a TTL cache of page id to rendered content.
type Content struct {
	c *ttlcache.Cache[string, Entry]
}

// NewContent creates a content cache whose entries expire ttl after being
// stored. Stop must be called when the session ends.
func NewContent(ttl time.Duration) *Content {
	c := ttlcache.New[string, Entry](
		ttlcache.WithTTL[string, Entry](ttl),
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	go c.Start()
	return &Content{c: c}
}

// Get returns the cached entry for a page, if one is still live.
func (c *Content) Get(pageID string) (Entry, bool) {
	item := c.c.Get(pageID)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

// Put stores freshly fetched content and returns the entry it stored.
func (c *Content) Put(pageID, html string) Entry {
	e := Entry{HTML: html, StoredAt: time.Now()}
	c.c.Set(pageID, e, ttlcache.DefaultTTL)
	return e
}

// Evict removes a page's entry, forcing the next read to refetch.
func (c *Content) Evict(pageID string) {
	c.c.Delete(pageID)
}

// Len returns the number of live entries.
func (c *Content) Len() int {
	return c.c.Len()
}

// Stop shuts down the expiry loop.
func (c *Content) Stop() {
	c.c.Stop()
}
