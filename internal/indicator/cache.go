package indicator

import "sync"

// Cache 定义指标结果缓存的契约，实现可替换。
type Cache interface {
	Get(key string) ([]float64, bool)
	Set(key string, values []float64)
}

const defaultCacheCapacity = 256

// MemoryCache 是带容量上限的进程内缓存，超出上限时淘汰最早写入的条目。
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string][]float64
	order    []string
}

// NewMemoryCache 创建内存缓存，capacity<=0 时使用默认容量。
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &MemoryCache{
		capacity: capacity,
		entries:  make(map[string][]float64, capacity),
	}
}

// Get 查询缓存。
func (c *MemoryCache) Get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	values, ok := c.entries[key]
	return values, ok
}

// Set 写入缓存，必要时淘汰最早的条目。
func (c *MemoryCache) Set(key string, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = values

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}
