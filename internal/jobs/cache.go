package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/page-forge/internal/convert"
)

const cacheKeyPrefix = "convcache:"

// Cache は変換結果キャッシュの Redis 実装です。
// 自動失効は持たず、明示的な無効化のみを行います（正しさは無効化に依存）。
type Cache struct {
	rdb *redis.Client
}

// NewCache は Cache を作成します。
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Get はキャッシュエントリを取得します。
func (c *Cache) Get(ctx context.Context, documentID string) (*convert.CacheEntry, error) {
	if documentID == "" {
		return nil, fmt.Errorf("documentID is required")
	}
	data, err := c.rdb.Get(ctx, cacheKey(documentID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, convert.ErrCacheMiss
		}
		return nil, err
	}
	var entry convert.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put はキャッシュエントリを保存します（last-writer-wins）。
func (c *Cache) Put(ctx context.Context, entry *convert.CacheEntry) error {
	if entry == nil || entry.DocumentID == "" {
		return fmt.Errorf("cache entry requires documentId")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(entry.DocumentID), payload, 0).Err()
}

// Invalidate はキャッシュエントリを削除します。
func (c *Cache) Invalidate(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("documentID is required")
	}
	return c.rdb.Del(ctx, cacheKey(documentID)).Err()
}

func cacheKey(id string) string {
	return cacheKeyPrefix + id
}
