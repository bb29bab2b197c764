package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"agendia/backend/internal/domain"
)

// BlockCache caches effective-block query results in Redis. Keys embed a
// per-tenant generation counter; bumping the counter on mutation retires
// every cached window for that tenant without key scans. All failures
// degrade to a cache miss.
type BlockCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func New(addr string, ttl time.Duration, log *slog.Logger) (*BlockCache, error) {
	if log == nil {
		log = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BlockCache{
		client: client,
		ttl:    ttl,
		log:    log.With(slog.String("component", "cache.blocks")),
	}, nil
}

func (c *BlockCache) Close() error {
	return c.client.Close()
}

func generationKey(tenantID string) string {
	return "blocks:gen:" + tenantID
}

func (c *BlockCache) Generation(ctx context.Context, tenantID string) int64 {
	gen, err := c.client.Get(ctx, generationKey(tenantID)).Int64()
	if err != nil && err != redis.Nil {
		c.log.Warn("generation read failed", slog.Any("err", err), slog.String("tenant_id", tenantID))
	}
	return gen
}

func (c *BlockCache) Get(ctx context.Context, key string) ([]domain.EffectiveBlock, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache read failed", slog.Any("err", err))
		}
		return nil, false
	}
	var blocks []domain.EffectiveBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		c.log.Warn("cache entry corrupt", slog.Any("err", err))
		return nil, false
	}
	return blocks, true
}

func (c *BlockCache) Set(ctx context.Context, key string, blocks []domain.EffectiveBlock) {
	raw, err := json.Marshal(blocks)
	if err != nil {
		c.log.Warn("cache encode failed", slog.Any("err", err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", slog.Any("err", err))
	}
}

func (c *BlockCache) Invalidate(ctx context.Context, tenantID string) {
	if err := c.client.Incr(ctx, generationKey(tenantID)).Err(); err != nil {
		c.log.Warn("cache invalidation failed", slog.Any("err", err), slog.String("tenant_id", tenantID))
	}
}
