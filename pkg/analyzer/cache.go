package analyzer

import (
	"sync"

	"github.com/objcflow/objcflow/pkg/loader"
)

type cacheEntry struct {
	once sync.Once
	ba   *BinaryAnalyzer
	err  error
}

// Cache hands out one BinaryAnalyzer per binary, building it exactly once
// even under concurrent requests.
type Cache struct {
	conf    *Config
	mu      sync.Mutex
	entries map[loader.Binary]*cacheEntry
}

func NewCache(conf *Config) *Cache {
	return &Cache{
		conf:    conf.normalize(),
		entries: make(map[loader.Binary]*cacheEntry),
	}
}

// Get returns the analyzer for bin, building it on first use. A failed build
// is cached too; Drop the binary to retry.
func (c *Cache) Get(bin loader.Binary) (*BinaryAnalyzer, error) {
	c.mu.Lock()
	e, ok := c.entries[bin]
	if !ok {
		e = &cacheEntry{}
		c.entries[bin] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.ba, e.err = New(bin, c.conf)
	})
	return e.ba, e.err
}

// Drop forgets the analyzer of bin, typically when the binary is closed.
func (c *Cache) Drop(bin loader.Binary) {
	c.mu.Lock()
	delete(c.entries, bin)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
