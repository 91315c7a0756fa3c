package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-audit/audit"
)

// setIfNewer replaces the cached record only when the incoming id is higher,
// so a slow writer can never shadow a newer record.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, rec = pcall(cjson.decode, cur)
  if ok and rec['id'] and tonumber(rec['id']) >= tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Cached keeps the newest record of each entity in Redis in front of another
// Store. Redis failures are logged and never fail an audit operation.
type Cached struct {
	next   audit.Store
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCached(next audit.Store, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		prefix: "audit:last:",
		logger: logger,
	}
}

func (c *Cached) Append(ctx context.Context, rec audit.Record) (audit.Record, error) {
	saved, err := c.next.Append(ctx, rec)
	if err != nil {
		return saved, err
	}
	c.remember(ctx, saved)
	return saved, nil
}

func (c *Cached) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Record, error) {
	return c.next.ListByEntity(ctx, entityType, entityID)
}

func (c *Cached) FirstByEntity(ctx context.Context, entityType, entityID string) (*audit.Record, error) {
	return c.next.FirstByEntity(ctx, entityType, entityID)
}

func (c *Cached) CountByEntity(ctx context.Context, entityType, entityID string) (int, error) {
	return c.next.CountByEntity(ctx, entityType, entityID)
}

func (c *Cached) LastByEntity(ctx context.Context, entityType, entityID string) (*audit.Record, error) {
	key := c.key(entityType, entityID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec audit.Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			return &rec, nil
		}
		c.logger.WarnContext(ctx, "store: dropping undecodable cached audit", "key", key)
		_ = c.rdb.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "store: audit cache read failed", "key", key, "error", err)
	}

	rec, err := c.next.LastByEntity(ctx, entityType, entityID)
	if err != nil || rec == nil {
		return rec, err
	}
	c.remember(ctx, *rec)
	return rec, nil
}

// Refresh reloads the newest record of one entity into the cache. Processes
// that append through another Cached instance call it on notification.
func (c *Cached) Refresh(ctx context.Context, entityType, entityID string) error {
	rec, err := c.next.LastByEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	if rec == nil {
		return c.rdb.Del(ctx, c.key(entityType, entityID)).Err()
	}
	c.remember(ctx, *rec)
	return nil
}

func (c *Cached) remember(ctx context.Context, rec audit.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		c.logger.WarnContext(ctx, "store: encode audit for cache failed", "record_id", rec.ID, "error", err)
		return
	}
	key := c.key(rec.EntityType, rec.EntityID)
	if err := setIfNewer.Run(ctx, c.rdb, []string{key}, payload, rec.ID, c.ttl.Milliseconds()).Err(); err != nil {
		c.logger.WarnContext(ctx, "store: audit cache write failed", "key", key, "error", err)
	}
}

func (c *Cached) key(entityType, entityID string) string {
	return c.prefix + entityType + ":" + entityID
}

var (
	_ audit.Store = (*Memory)(nil)
	_ audit.Store = (*Cached)(nil)
)
