package translate

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

const (
	defaultCacheCapacity = 200
	// PartialTTL and FinalTTL bound how long a cached rendition stays valid.
	PartialTTL = 120 * time.Second
	FinalTTL   = 10 * time.Minute

	// cacheKeyPrefixLen keeps keys for short texts cheap to build while still
	// distinguishing transcripts that share an opening.
	cacheKeyPrefixLen = 150
	cacheKeySuffixLen = 40
)

type cacheEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// Cache is a bounded TTL cache for translations, keyed by language pair and
// text shape. Repeated partials for a growing utterance mostly miss, but
// recognizer retractions and grammar re-submissions hit. Safe for concurrent
// use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// NewCache creates a cache holding up to capacity renditions; capacity <= 0
// uses the default.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Key builds the lookup key for a rendition. Texts under 300 characters key
// on their prefix alone; longer ones add the suffix and a length class so two
// long transcripts with the same opening stay distinct.
func Key(sourceLang, targetLang, text string) string {
	if len(text) < 300 {
		p := text
		if len(p) > cacheKeyPrefixLen {
			p = p[:cacheKeyPrefixLen]
		}
		return fmt.Sprintf("%s|%s|%d|%s", sourceLang, targetLang, len(text), p)
	}
	prefix := text[:cacheKeyPrefixLen]
	suffix := text[len(text)-cacheKeySuffixLen:]
	return fmt.Sprintf("%s|%s|%d|%s|%s", sourceLang, targetLang, len(text)/50, prefix, suffix)
}

// Get returns the cached rendition and whether it was present and fresh.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	ent := el.Value.(*cacheEntry)
	if c.now().After(ent.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return "", false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Put stores a rendition with the given TTL, evicting the least recently used
// entry when full.
func (c *Cache) Put(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.value = value
		ent.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: expires})
}

// Len returns the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
