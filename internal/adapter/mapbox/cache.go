package mapbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
)

// CachedGeocoder decorates a Geocoder with an in-memory LRU cache. Field
// reports cluster around the same villages, so most lookups repeat.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator holding up to maxEntries places.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

// ForwardGeocode caches by normalized region name, so "Turkana" and
// "TURKANA " share an entry.
func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, region string) (domain.Place, error) {
	key := "fwd:" + domain.RegionKey(region)
	return c.lookup(key, "forward", func() (domain.Place, error) {
		return c.inner.ForwardGeocode(ctx, region)
	})
}

// ReverseGeocode caches by coordinates rounded to four decimals (about 11 m).
func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	key := fmt.Sprintf("rev:%.4f,%.4f", lat, lon)
	return c.lookup(key, "reverse", func() (domain.Place, error) {
		return c.inner.ReverseGeocode(ctx, lat, lon)
	})
}

func (c *CachedGeocoder) lookup(key, method string, fetch func() (domain.Place, error)) (domain.Place, error) {
	if place, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(method, "hit").Inc()
		return place, nil
	}
	c.metrics.GeocodeCache.WithLabelValues(method, "miss").Inc()

	place, err := fetch()
	if err != nil {
		return place, err
	}
	// Empty results are not cached so a transient "not found" can be retried.
	if place.FormattedAddress != "" {
		c.cache.put(key, place)
	}
	return place, nil
}

// lruCache is a mutex-guarded LRU of places backed by a doubly linked list.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Place
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) get(key string) (domain.Place, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Place{}, false
	}
	c.unlink(e)
	c.pushFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Place) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.unlink(e)
		c.pushFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	for len(c.entries) > c.maxEntries && c.tail != nil {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.entries, oldest.key)
	}
}

func (c *lruCache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
