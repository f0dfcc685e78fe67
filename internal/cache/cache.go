package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache 进程内 TTL 缓存
// 仅作为读取加速层使用：每一次缓存读取都有存储层兜底，正确性不依赖缓存内容。
// 不跨进程共享（报警/提醒状态本身必须直接读写存储层，不允许进缓存）。
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *zap.Logger
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// NewCache 创建缓存
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Get 读取键值（惰性剔除过期条目）
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// 二次检查，避免删掉并发写入的新条目
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set 写入键值（带 TTL）
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Delete 删除键
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Cleanup 剔除全部过期条目，返回剔除数量
func (c *Cache) Cleanup() int {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	return removed
}

// Len 当前条目数（含未被惰性剔除的过期条目）
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartJanitor 启动周期性清理（随 ctx 取消退出）
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.Cleanup(); removed > 0 {
					c.logger.Debug("Cache cleanup",
						zap.Int("removed", removed),
					)
				}
			}
		}
	}()
}

// ============================================
// 键命名（按用途分命名空间，TTL 各自独立）
// ============================================

// OwnershipKey 归属校验缓存键
func OwnershipKey(subjectID, ownerID string) string {
	return fmt.Sprintf("ownership:%s:%s", subjectID, ownerID)
}

// DedupKey 提醒去重检查缓存键（day 为 "2006-01-02" 格式）
func DedupKey(subjectID, medicineName, doseTime, day string) string {
	return fmt.Sprintf("dedup:%s:%s:%s:%s", subjectID, medicineName, doseTime, day)
}

// RollupKey 日/周汇总缓存键
func RollupKey(subjectID, concern, day string) string {
	return fmt.Sprintf("rollup:%s:%s:%s", subjectID, concern, day)
}
