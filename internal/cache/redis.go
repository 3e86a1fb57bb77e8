// Package cache provides a Redis-backed read cache for reconstructed
// document content. Entries are scoped per document id and bounded by TTL;
// writers invalidate on append, restore, claim and delete so readers never
// see a stale view longer than one transaction.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillvault/quillvault/internal/document/service"
	"github.com/quillvault/quillvault/pkg/logger"
)

const defaultTTL = 5 * time.Minute

// ContentCache stores serialized ContentViews under "doc:view:<id>".
type ContentCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a cache with the given key prefix (empty means "doc:view:")
// and TTL (zero means 5 minutes).
func New(client *redis.Client, prefix string, ttl time.Duration) *ContentCache {
	if prefix == "" {
		prefix = "doc:view:"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ContentCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *ContentCache) key(docID string) string {
	return c.prefix + docID
}

func (c *ContentCache) GetView(ctx context.Context, docID string) (*service.ContentView, bool) {
	b, err := c.client.Get(ctx, c.key(docID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warnf("cache get for %s failed: %v", docID, err)
		}
		return nil, false
	}
	var v service.ContentView
	if err := json.Unmarshal(b, &v); err != nil {
		// poisoned entry, drop it
		_ = c.client.Del(ctx, c.key(docID)).Err()
		return nil, false
	}
	return &v, true
}

func (c *ContentCache) SetView(ctx context.Context, docID string, v *service.ContentView) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(docID), b, c.ttl).Err(); err != nil {
		logger.Warnf("cache set for %s failed: %v", docID, err)
	}
}

func (c *ContentCache) Invalidate(ctx context.Context, docID string) {
	if err := c.client.Del(ctx, c.key(docID)).Err(); err != nil {
		logger.Warnf("cache invalidate for %s failed: %v", docID, err)
	}
}
