package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Idempotency remembers which order a client key produced. Postgres stays
// the source of truth; this only saves a transaction on retries.
type Idempotency struct{ RDB redis.Cmdable }

func (i Idempotency) Lookup(ctx context.Context, externalID string) (string, bool, error) {
	id, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

func (i Idempotency) Remember(ctx context.Context, externalID, orderID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

// Dedup marks event ids as processed per consumer.
type Dedup struct {
	RDB      redis.Cmdable
	Consumer string
}

// First reports whether eventID is seen for the first time.
func (d Dedup) First(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Consumer, eventID), 1, TTLDedup).Result()
}

// Forget drops the mark so a failed event can be retried.
func (d Dedup) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Consumer, eventID)).Err()
}
