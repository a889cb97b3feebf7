package musiclink

import (
	"sync"
)

// CacheStats reports the number of rows in each cache table.
type CacheStats struct {
	Parse    int `json:"parse"`
	Link     int `json:"link"`
	Render   int `json:"render"`
	Validate int `json:"validate"`
}

// Cache memoizes the four engine operations for the lifetime of the engine.
// Failures are cached too. Rows are never evicted individually; Clear drops everything at once.
//
// The cache does not de-duplicate in-flight work: concurrent misses on the same key each
// compute and the last write wins unless the engine is built WithInFlightDedup.
type Cache struct {
	mu       sync.RWMutex
	parse    map[string]*Song
	link     map[string]string
	render   map[string]*RenderInfo
	validate map[string]bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	c := &Cache{}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.parse = make(map[string]*Song)
	c.link = make(map[string]string)
	c.render = make(map[string]*RenderInfo)
	c.validate = make(map[string]bool)
}

// Clear drops all four tables in one step.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Stats returns the current table sizes.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Parse:    len(c.parse),
		Link:     len(c.link),
		Render:   len(c.render),
		Validate: len(c.validate),
	}
}

func (c *Cache) parsed(key string) (*Song, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	song, ok := c.parse[key]
	return song, ok
}

func (c *Cache) storeParsed(key string, song *Song) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parse[key] = song
	if song != nil {
		c.validate[song.SID()] = true
	}
}

func (c *Cache) rebuilt(sid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	link, ok := c.link[sid]
	return link, ok
}

func (c *Cache) storeRebuilt(sid, link string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link[sid] = link
	if link != "" {
		c.validate[sid] = true
	}
}

func (c *Cache) rendered(sid string) (*RenderInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.render[sid]
	return info, ok
}

// storeRendered never touches the validate table: a failed render is not proof of absence.
func (c *Cache) storeRendered(sid string, info *RenderInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render[sid] = info
}

func (c *Cache) validated(sid string) (valid, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	valid, ok = c.validate[sid]
	return valid, ok
}

func (c *Cache) storeValidated(sid string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validate[sid] = valid
}
