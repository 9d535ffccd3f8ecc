package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper remembers processor event ids with SETNX so redelivered
// webhooks can be dropped cheaply. The database's conditional transition
// remains authoritative when redis is cold or unavailable.
type EventDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewEventDeduper(rdb *redis.Client, ttl time.Duration) *EventDeduper {
	return &EventDeduper{rdb: rdb, ttl: ttl}
}

func (d *EventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, "evt:"+eventID, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
