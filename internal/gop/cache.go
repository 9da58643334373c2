package gop

import "sync"

type cacheKey struct {
	path        string
	streamIndex int
}

// Cache memoizes indexes per (file, stream) so repeated queries against the
// same input skip the cold scan.
type Cache struct {
	mu sync.Mutex
	m  map[cacheKey]*Index
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{m: make(map[cacheKey]*Index)}
}

// Get returns the cached index for (path, streamIndex), or nil.
func (c *Cache) Get(path string, streamIndex int) *Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[cacheKey{path, streamIndex}]
}

// Put stores an index for (path, streamIndex).
func (c *Cache) Put(path string, streamIndex int, idx *Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[cacheKey{path, streamIndex}] = idx
}

// GetOrBuild returns the cached index or builds one via build and caches it.
func (c *Cache) GetOrBuild(path string, streamIndex int, build func() (*Index, error)) (*Index, error) {
	if idx := c.Get(path, streamIndex); idx != nil {
		return idx, nil
	}
	idx, err := build()
	if err != nil {
		return nil, err
	}
	c.Put(path, streamIndex, idx)
	return idx, nil
}
