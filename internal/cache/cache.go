// Package cache implements a TTL-based response cache with deterministic key
// generation and a periodic background sweep. A Cache is constructed
// explicitly and injected into whichever components need it; there is no
// package-level instance, so tests never leak entries into each other.
//
// The cache is unbounded by entry count and bounded only by TTL. That is an
// accepted scaling limit for a single client session, not a defect: the sweep
// keeps memory proportional to the number of distinct live keys rather than
// to read traffic.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// cacheHits counts reads served from a still-valid entry.
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shop_cache_hits_total",
		Help: "Total number of cache reads served from a valid entry.",
	})

	// cacheMisses counts reads that found no entry or an expired one.
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shop_cache_misses_total",
		Help: "Total number of cache reads that missed or hit an expired entry.",
	})

	// cacheEntries gauges the current number of stored entries (including
	// not-yet-swept expired ones).
	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shop_cache_entries",
		Help: "Current number of entries held by the response cache.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheEntries)
}

// entry is a single cached value with its storage timestamp and lifetime.
type entry struct {
	data     any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Cache is a TTL key/value store safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration

	stop chan struct{}
	done chan struct{}

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New constructs a Cache with the given default TTL and starts a background
// sweep that removes expired entries every sweepInterval. Call Close to stop
// the sweeper.
func New(defaultTTL, sweepInterval time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Key builds a deterministic cache key from the HTTP method, endpoint, and
// request body. The same logical request always yields the same key: struct
// and map fields are serialized through encoding/json, which orders map keys
// lexicographically. Bodies are hashed to keep keys short.
func Key(method, endpoint string, body any) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = "GET"
	}
	if body == nil {
		return m + " " + endpoint
	}
	raw, err := json.Marshal(body)
	if err != nil {
		// Unserializable bodies degrade to a method+endpoint key.
		return m + " " + endpoint
	}
	sum := sha256.Sum256(raw)
	return m + " " + endpoint + " " + hex.EncodeToString(sum[:8])
}

// Set stores data under key with the given TTL. A TTL <= 0 uses the cache's
// default. Any existing entry is overwritten unconditionally.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{data: data, storedAt: c.now(), ttl: ttl}
	cacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// Get returns the value stored under key if it is still valid. An expired
// entry is deleted and reported as absent, not as an error.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		cacheEntries.Set(float64(len(c.entries)))
		cacheMisses.Inc()
		return nil, false
	}
	cacheHits.Inc()
	return e.data, true
}

// Delete removes the entry under key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	cacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// DeletePrefix removes every entry whose key starts with prefix. Used for
// coarse invalidation of a whole resource family (e.g. all product pages).
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	cacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	cacheEntries.Set(0)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired entries that
// have not been swept yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweeper. The cache remains usable afterwards;
// expired entries are then only collected lazily on read.
func (c *Cache) Close() {
	select {
	case <-c.stop:
		// already closed
	default:
		close(c.stop)
		<-c.done
	}
}

// sweepLoop periodically removes expired entries so memory use is bounded
// independent of read traffic.
func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	cacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
}
