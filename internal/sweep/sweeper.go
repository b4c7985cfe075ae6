// Package sweep expires orders whose reservation hold has lapsed, either on a
// timer or on request from the order.expiry.requested topic.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

type Lister interface {
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type Expirer interface {
	ExpireReservation(ctx context.Context, orderID string) (orders.Status, error)
}

type Observer interface {
	SweepRun(result string, expired int)
}

// LockFunc tries to become the only active sweeper for ttl. ok=false means
// another replica holds the lock.
type LockFunc func(ctx context.Context, ttl time.Duration) (unlock func(), ok bool, err error)

// RedisLock builds a LockFunc on a redis lease. The lease is extended every
// ttl/2 until unlock, so a slow sweep keeps it.
func RedisLock(l redisx.Locker, key string, log zerolog.Logger) LockFunc {
	return func(ctx context.Context, ttl time.Duration) (func(), bool, error) {
		lk, err := l.TryAcquire(ctx, key, ttl)
		if err != nil || lk == nil {
			return nil, false, err
		}
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			t := time.NewTicker(ttl / 2)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					if err := lk.Extend(context.Background(), ttl); err != nil {
						log.Warn().Err(err).Str("key", key).Msg("extend sweep lock")
						return
					}
				}
			}
		}()
		return func() {
			close(stop)
			<-done
			if err := lk.Release(context.Background()); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("release sweep lock")
			}
		}, true, nil
	}
}

type Sweeper struct {
	Store    Lister
	Orders   Expirer
	Clock    func() time.Time
	Batch    int
	Interval time.Duration
	LockTTL  time.Duration

	Lock     LockFunc         // optional
	Requests orders.Publisher // optional: publish requests instead of expiring inline
	Observer Observer         // optional
	Dedup    Deduper          // optional
	Log      zerolog.Logger
	Producer string
}

type Result struct {
	Due       int
	Expired   int
	Skipped   int
	Failed    int
	Requested int
}

func (s *Sweeper) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

// RunOnce handles one batch of due orders. Orders that another transaction
// already settled are counted as skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	now := s.now()
	ids, err := s.Store.DueForExpiry(ctx, now, batch)
	if err != nil {
		return Result{}, err
	}
	res := Result{Due: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.Requests != nil {
			if err := s.request(ctx, id, now); err != nil {
				res.Failed++
				s.Log.Error().Err(err).Str("order_id", id).Msg("publish expiry request")
				continue
			}
			res.Requested++
			continue
		}
		_, err := s.Orders.ExpireReservation(ctx, id)
		switch {
		case err == nil:
			res.Expired++
		case lostRace(err):
			res.Skipped++
		default:
			res.Failed++
			s.Log.Error().Err(err).Str("order_id", id).Msg("expire reservation")
		}
	}
	return res, nil
}

func (s *Sweeper) request(ctx context.Context, orderID string, now time.Time) error {
	env, err := orders.NewEnvelope(orders.EventTypeExpiryRequested, s.Producer, orderID, now,
		orders.ExpiryRequestedPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	return s.Requests.Publish(ctx, orders.TopicExpiryRequested, env)
}

// Run sweeps every Interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.Lock != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		unlock, ok, err := s.Lock(ctx, ttl)
		if err != nil {
			s.Log.Warn().Err(err).Msg("acquire sweep lock")
			s.observe("error", 0)
			return
		}
		if !ok {
			s.observe("skipped", 0)
			return
		}
		defer unlock()
	}

	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.Log.Error().Err(err).Msg("sweep")
			s.observe("error", res.Expired)
		}
		return
	}
	s.observe("ok", res.Expired)
	if res.Due > 0 {
		s.Log.Info().
			Int("due", res.Due).
			Int("expired", res.Expired).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Int("requested", res.Requested).
			Msg("sweep finished")
	}
}

func (s *Sweeper) observe(result string, expired int) {
	if s.Observer != nil {
		s.Observer.SweepRun(result, expired)
	}
}

// lostRace reports errors that mean the order no longer needs expiring.
func lostRace(err error) bool {
	return errors.Is(err, orders.ErrInvalidStateTransition) ||
		errors.Is(err, orders.ErrOrderNotFound) ||
		errors.Is(err, orders.ErrReservationActive)
}

type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// HandleExpiryRequested is the kafka handler for on-demand expiry. Requests
// for orders that are already settled or not yet due are dropped. A failure
// forgets the dedup mark so the consumer's retry gets through; if every
// retry fails the order is still due and the next sweep asks again.
func (s *Sweeper) HandleExpiryRequested(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.Log.Warn().Err(err).Int64("offset", m.Offset).Msg("drop malformed expiry request")
		return nil
	}
	if env.EventType != orders.EventTypeExpiryRequested {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.ExpiryRequestedPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		s.Log.Warn().Err(err).Str("event_id", env.EventID).Msg("drop malformed expiry request")
		return nil
	}

	if s.Dedup != nil && env.EventID != "" {
		first, err := s.Dedup.First(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	_, err = s.Orders.ExpireReservation(ctx, p.OrderID)
	switch {
	case err == nil:
		s.observe("request", 1)
		return nil
	case lostRace(err):
		s.Log.Debug().Err(err).Str("order_id", p.OrderID).Msg("expiry request skipped")
		return nil
	default:
		if s.Dedup != nil && env.EventID != "" {
			_ = s.Dedup.Forget(ctx, env.EventID)
		}
		return err
	}
}
