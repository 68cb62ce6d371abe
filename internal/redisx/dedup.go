package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids per consuming service.
type Deduper struct {
	RDB     redis.Cmdable
	Service string
	TTL     time.Duration
}

func (d *Deduper) ttl() time.Duration {
	if d.TTL <= 0 {
		return TTLDedup
	}
	return d.TTL
}

func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, DedupKey(d.Service, eventID))
}

// Mark records eventID as processed. It reports false when it was already
// marked.
func (d *Deduper) Mark(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, DedupKey(d.Service, eventID), "1", d.ttl()).Result()
}
