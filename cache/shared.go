package cache

import (
	"slices"
	"sync"
	"time"
)

// Entry represents a cached value
type Entry struct {
	Value      any
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// Config holds configuration for a shared cache
type Config struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before cleanup
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultConfig provides sensible defaults for a shared cache
var DefaultConfig = Config{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// Shared is a TTL cache shared between requests. Entries beyond MaxEntries
// are evicted least recently accessed first.
type Shared struct {
	entries         map[string]*Entry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	now             func() time.Time
}

// NewShared creates a shared cache and starts its cleanup goroutine. Call
// Close to stop it.
func NewShared(config Config) *Shared {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}

	c := &Shared{
		entries:         make(map[string]*Entry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a cached value if it exists and hasn't expired
func (c *Shared) Get(key string) (any, bool) {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.AccessedAt = now
	return entry.Value, true
}

// Set stores a value in the cache
func (c *Shared) Set(key string, value any) {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &Entry{
		Value:      value,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}

	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// Delete removes a key
func (c *Shared) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// cleanup removes expired entries and oldest entries if over limit.
// The caller holds the write lock.
func (c *Shared) cleanup() {
	now := c.now()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	keys := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		keys = append(keys, keyAccess{key: key, accessedAt: entry.AccessedAt})
	}
	slices.SortFunc(keys, func(a, b keyAccess) int { return a.accessedAt.Compare(b.accessedAt) })

	excess := len(c.entries) - c.maxEntries
	for i := 0; i < excess; i++ {
		delete(c.entries, keys[i].key)
	}
}

// cleanupLoop runs periodic cleanup
func (c *Shared) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache
func (c *Shared) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[string]*Entry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *Shared) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := len(c.entries)
	expired := 0
	now := c.now()

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}

	return Stats{
		TotalEntries:   total,
		ExpiredEntries: expired,
		ActiveEntries:  total - expired,
	}
}

// Stats provides information about cache occupancy
type Stats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
