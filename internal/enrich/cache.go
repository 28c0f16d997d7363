package enrich

import "sync"

// ResultCache 服务识别和外部可达性结果的缓存，并发写入时后写覆盖先写
type ResultCache struct {
	mu sync.Mutex
	m  map[string]string
}

func NewResultCache() *ResultCache {
	return &ResultCache{m: make(map[string]string)}
}

func (c *ResultCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *ResultCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
