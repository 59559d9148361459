package readiness

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	platformredis "custos/internal/platform/redis"
	id "custos/pkg/domain"
)

// RedisCache stores readiness results in Redis with a TTL. Cache failures
// are logged and treated as misses; scoring must never depend on Redis
// being up.
type RedisCache struct {
	client *platformredis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisCache(client *platformredis.Client, ttl time.Duration, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func cacheKey(wsID id.WorkspaceID) string {
	return "custos:readiness:" + wsID.String()
}

func (c *RedisCache) Get(ctx context.Context, wsID id.WorkspaceID) (*Result, bool) {
	raw, err := c.client.Get(ctx, cacheKey(wsID)).Bytes()
	if err != nil {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.WarnContext(ctx, "readiness cache decode failed", "error", err)
		return nil, false
	}
	return &res, true
}

func (c *RedisCache) Set(ctx context.Context, wsID id.WorkspaceID, res *Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.log.WarnContext(ctx, "readiness cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(wsID), raw, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "readiness cache write failed", "error", err)
	}
}
