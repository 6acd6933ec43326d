package convert

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss はキャッシュに該当エントリが無いことを表します。
var ErrCacheMiss = errors.New("conversion cache miss")

// Cache は変換結果の冪等性キャッシュです。documentId をキーとして
// ページURL集合を保持します。自動失効はなく、明示的な無効化のみを行います。
type Cache interface {
	Get(ctx context.Context, documentID string) (*CacheEntry, error)
	Put(ctx context.Context, entry *CacheEntry) error
	Invalidate(ctx context.Context, documentID string) error
}

// MemoryCache はプロセス内に保持するCache実装です。
// 開発環境とテストで使用します。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewMemoryCache は空のメモリキャッシュを作成します。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

// Get はエントリを取得します。存在しない場合は ErrCacheMiss を返します。
func (c *MemoryCache) Get(ctx context.Context, documentID string) (*CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[documentID]
	if !ok {
		return nil, ErrCacheMiss
	}
	cp := *entry
	cp.PageURLs = append([]string(nil), entry.PageURLs...)
	return &cp, nil
}

// Put はエントリを保存します（last-writer-wins）。
func (c *MemoryCache) Put(ctx context.Context, entry *CacheEntry) error {
	if entry == nil || entry.DocumentID == "" {
		return errors.New("cache entry requires documentId")
	}
	cp := *entry
	cp.PageURLs = append([]string(nil), entry.PageURLs...)
	if cp.ConvertedAt.IsZero() {
		cp.ConvertedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.entries[entry.DocumentID] = &cp
	c.mu.Unlock()
	return nil
}

// Invalidate はエントリを削除します。存在しなくてもエラーにしません。
func (c *MemoryCache) Invalidate(ctx context.Context, documentID string) error {
	c.mu.Lock()
	delete(c.entries, documentID)
	c.mu.Unlock()
	return nil
}
