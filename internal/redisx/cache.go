package redisx

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache keeps JSON snapshots of orders in Redis. Every failure is
// logged and treated as a miss; Postgres stays the source of truth.
type OrderCache struct {
	RDB redis.Cmdable
	TTL time.Duration
	Log *slog.Logger
}

var _ orders.OrderCache = (*OrderCache)(nil)

func NewOrderCache(rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	if log == nil {
		log = slog.Default()
	}
	return &OrderCache{RDB: rdb, TTL: ttl, Log: log}
}

// setIfGen writes the snapshot only while the generation key still holds the
// value the reader saw. A missing generation counts as 0.
var setIfGen = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func (c *OrderCache) Get(ctx context.Context, id int64) (*orders.Order, int64, bool) {
	vals, err := c.RDB.MGet(ctx, OrderKey(id), OrderGenKey(id)).Result()
	if err != nil {
		c.Log.Warn("order cache get", "order_id", id, "err", err)
		return nil, -1, false
	}
	gen := int64(0)
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			c.Log.Warn("order cache generation", "order_id", id, "err", err)
			return nil, -1, false
		}
	}
	s, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}
	var o orders.Order
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		c.Log.Warn("order cache decode", "order_id", id, "err", err)
		return nil, gen, false
	}
	return &o, gen, true
}

func (c *OrderCache) Set(ctx context.Context, o *orders.Order, gen int64) {
	if gen < 0 {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		c.Log.Warn("order cache encode", "order_id", o.ID, "err", err)
		return
	}
	keys := []string{OrderKey(o.ID), OrderGenKey(o.ID)}
	stored, err := setIfGen.Run(ctx, c.RDB, keys, strconv.FormatInt(gen, 10), b, c.TTL.Milliseconds()).Int()
	if err != nil {
		c.Log.Warn("order cache set", "order_id", o.ID, "err", err)
		return
	}
	if stored == 0 {
		c.Log.Debug("order cache set skipped, snapshot is stale", "order_id", o.ID, "gen", gen)
	}
}

// Invalidate bumps the generation and drops the snapshot in one MULTI.
func (c *OrderCache) Invalidate(ctx context.Context, id int64) {
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, OrderGenKey(id))
		p.Expire(ctx, OrderGenKey(id), TTLOrderGen)
		p.Del(ctx, OrderKey(id))
		return nil
	})
	if err != nil {
		c.Log.Warn("order cache invalidate", "order_id", id, "err", err)
	}
}
