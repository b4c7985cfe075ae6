package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// SummaryCache is a best-effort orders.SummaryCache. Redis trouble never
// reaches the caller: reads miss and writes are dropped, and after a run of
// failures the breaker stops calling Redis for a while.
type SummaryCache struct {
	RDB redis.Cmdable
	TTL time.Duration
	Log zerolog.Logger

	cb *gobreaker.CircuitBreaker[[]byte]
}

func NewSummaryCache(rdb redis.Cmdable, log zerolog.Logger) *SummaryCache {
	c := &SummaryCache{RDB: rdb, TTL: TTLSummaryCache, Log: log}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "redis-summary-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a miss is a healthy answer
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

func (c *SummaryCache) GetSummary(ctx context.Context, orderID string) (orders.OrderSummary, bool) {
	b, err := c.cb.Execute(func() ([]byte, error) {
		return c.RDB.Get(ctx, fmt.Sprintf(KeyOrderSummary, orderID)).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Log.Debug().Err(err).Str("order_id", orderID).Msg("summary cache read")
		}
		return orders.OrderSummary{}, false
	}
	var s orders.OrderSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return orders.OrderSummary{}, false
	}
	return s, true
}

// SetSummary stores the summary a committed write just produced,
// replacing whatever was cached.
func (c *SummaryCache) SetSummary(ctx context.Context, s orders.OrderSummary) {
	c.write(ctx, s, false)
}

// FillSummary caches a summary loaded on a miss. It never replaces an
// existing entry, which may be newer than what the reader loaded.
func (c *SummaryCache) FillSummary(ctx context.Context, s orders.OrderSummary) {
	c.write(ctx, s, true)
}

func (c *SummaryCache) write(ctx context.Context, s orders.OrderSummary, onlyIfAbsent bool) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	key := fmt.Sprintf(KeyOrderSummary, s.ID)
	_, err = c.cb.Execute(func() ([]byte, error) {
		if onlyIfAbsent {
			return nil, c.RDB.SetNX(ctx, key, b, c.TTL).Err()
		}
		return nil, c.RDB.Set(ctx, key, b, c.TTL).Err()
	})
	if err != nil {
		c.Log.Debug().Err(err).Str("order_id", s.ID).Bool("fill", onlyIfAbsent).Msg("summary cache write")
	}
}

// Health reports the breaker state; only a closed breaker is healthy.
func (c *SummaryCache) Health() (string, bool) {
	st := c.cb.State()
	return st.String(), st == gobreaker.StateClosed
}
