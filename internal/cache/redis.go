// Package cache は短縮コードからリダイレクト先を引くためのRedisキャッシュを提供する。
// キャッシュする項目はリンク作成後に変化しないため、無効化は行わずTTLのみで管理する。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "shortlink:code:"

// Entry はキャッシュに保持するリダイレクト情報。
type Entry struct {
	LinkID      string `json:"link_id"`
	OriginalURL string `json:"original_url"`
}

// LinkCache はリダイレクト情報キャッシュの実装。
type LinkCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLinkCache はRedisクライアントからLinkCacheを生成する。
func NewLinkCache(client *redis.Client, ttl time.Duration) *LinkCache {
	return &LinkCache{client: client, ttl: ttl}
}

// Connect はredis://形式のURLで接続し、疎通確認を行ってLinkCacheを返す。
func Connect(ctx context.Context, redisURL string, ttl time.Duration) (*LinkCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewLinkCache(client, ttl), nil
}

// Get は短縮コードのエントリを返す。未登録の場合はnil, nilを返す。
func (c *LinkCache) Get(ctx context.Context, shortCode string) (*Entry, error) {
	raw, err := c.client.Get(ctx, keyPrefix+shortCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &entry, nil
}

// Set は短縮コードのエントリをTTL付きで保存する。
func (c *LinkCache) Set(ctx context.Context, shortCode string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+shortCode, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (c *LinkCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (c *LinkCache) Close() error {
	return c.client.Close()
}
