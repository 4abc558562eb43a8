package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ResultCache 结果缓存接口（对外导出）
type ResultCache interface {
	// Set 设置缓存值
	// key: 缓存键（工作流ID）
	// ttl: 缓存有效期
	Set(key string, value interface{}, ttl time.Duration) error

	// Get 获取缓存值
	// 返回: 缓存值和是否存在
	Get(key string) (interface{}, bool)

	// Delete 删除缓存值
	Delete(key string) error

	// Clear 清空所有缓存
	Clear() error
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	value      interface{}
	expireTime time.Time
}

// MemoryResultCache 内存结果缓存实现（对外导出）
type MemoryResultCache struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	cache map[string]*cacheEntry
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryResultCache 创建内存结果缓存实例（对外导出）
// cleanInterval<=0时不启动后台清理，过期条目在读取时淘汰
func NewMemoryResultCache(clock clockwork.Clock, cleanInterval time.Duration) *MemoryResultCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &MemoryResultCache{
		clock: clock,
		cache: make(map[string]*cacheEntry),
		stop:  make(chan struct{}),
	}
	if cleanInterval > 0 {
		// 启动清理协程，定期清理过期缓存
		go c.cleanupExpired(cleanInterval)
	}
	return c
}

// Set 设置缓存值
func (c *MemoryResultCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return nil // 空key，忽略
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cacheEntry{
		value:      value,
		expireTime: c.clock.Now().Add(ttl),
	}
	return nil
}

// Get 获取缓存值
func (c *MemoryResultCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	entry, exists := c.cache[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	// 已过期，删除并返回不存在
	if c.clock.Now().After(entry.expireTime) {
		c.mu.Lock()
		if current, ok := c.cache[key]; ok && current == entry {
			delete(c.cache, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Delete 删除缓存值
func (c *MemoryResultCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cache, key)
	return nil
}

// Clear 清空所有缓存
func (c *MemoryResultCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cacheEntry)
	return nil
}

// Len 返回当前条目数（含未清理的过期条目）
func (c *MemoryResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Stop 停止后台清理协程
func (c *MemoryResultCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// cleanupExpired 清理过期缓存（内部方法）
func (c *MemoryResultCache) cleanupExpired(interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			now := c.clock.Now()
			for key, entry := range c.cache {
				if now.After(entry.expireTime) {
					delete(c.cache, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

var _ ResultCache = (*MemoryResultCache)(nil)
