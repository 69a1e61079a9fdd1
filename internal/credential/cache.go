// Package credential builds credential overlays: provider-normalized
// credential files fetched from the remote store and substituted for the
// on-disk files a plugin expects to read.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ayusman/openusage/internal/cliproxy"
)

// Cache holds normalized credential payloads by cache key. It is shared by
// every batch of the process; writers overwrite unconditionally.
type Cache struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Get returns the payload stored under key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, ok := c.entries[key]
	return payload, ok
}

// Set stores payload under key.
func (c *Cache) Set(key, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = payload
}

// Len returns the number of cached payloads.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// CacheKey derives the key for a plugin's selected account under cfg. Any
// change to the base URL or the API key yields a different key.
func CacheKey(pluginID, selection string, cfg cliproxy.Config) string {
	return fmt.Sprintf("%s::%s::%s", pluginID, selection, Fingerprint(cfg))
}

// Fingerprint identifies cfg without exposing its key.
func Fingerprint(cfg cliproxy.Config) string {
	cfg = cfg.Normalized()
	sum := sha256.Sum256([]byte(cfg.APIKey))
	return cfg.BaseURL + "::" + hex.EncodeToString(sum[:8])
}
