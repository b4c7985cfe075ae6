package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type runs struct {
	mu      sync.Mutex
	results []string
	expired int
}

func (r *runs) SweepRun(result string, expired int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.expired += expired
}

func (r *runs) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results...), r.expired
}

type env struct {
	store *memstore.Store
	svc   *orders.Service
	clock *clock
	p     inventory.Product
}

func setup(t *testing.T) *env {
	t.Helper()
	e := &env{store: memstore.New(), clock: &clock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}}
	e.p = inventory.Product{
		ID: uuid.NewString(), Name: "Camiseta", SKU: "CAMI-001", Variant: "M",
		Price: decimal.RequireFromString("49.90"), Available: 10, Active: true,
	}
	e.store.PutProduct(e.p)
	e.svc = orders.NewService(e.store, zerolog.Nop())
	e.svc.Clock = e.clock.Now
	return e
}

func (e *env) order(t *testing.T, qty int, method string) string {
	t.Helper()
	res, err := e.svc.CreateOrder(context.Background(), orders.CreateOrderInput{
		Items:         []orders.ItemInput{{ProductID: e.p.ID, Qty: qty}},
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return res.OrderID
}

func (e *env) sweeper() *Sweeper {
	return &Sweeper{Store: e.store, Orders: e.svc, Clock: e.clock.Now, Batch: 10, Log: zerolog.Nop()}
}

func (e *env) status(t *testing.T, id string) orders.Status {
	t.Helper()
	o, err := e.store.Order(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestRunOnce_ExpiresLapsedHolds(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	stale := e.order(t, 3, "")
	declared := e.order(t, 2, "")
	_, err := e.svc.DeclarePayment(ctx, declared, "nequi", "r")
	require.NoError(t, err)
	cod := e.order(t, 1, "cod")

	e.clock.Advance(30 * time.Minute)
	fresh := e.order(t, 1, "")

	avail, _ := e.stock(t)
	assert.Equal(t, 3, avail)

	e.clock.Advance(orders.DefaultHold - 29*time.Minute)
	res, err := e.sweeper().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 2, Expired: 2}, res)

	assert.Equal(t, orders.StatusExpired, e.status(t, stale))
	assert.Equal(t, orders.StatusExpired, e.status(t, declared))
	assert.Equal(t, orders.StatusPendingDelivery, e.status(t, cod))
	assert.Equal(t, orders.StatusPendingPayment, e.status(t, fresh))

	avail, reserved := e.stock(t)
	assert.Equal(t, 8, avail)
	assert.Equal(t, 2, reserved)
}

func (e *env) stock(t *testing.T) (int, int) {
	t.Helper()
	p, err := e.store.Product(context.Background(), e.p.ID)
	require.NoError(t, err)
	return p.Available, p.Reserved
}

type racingExpirer struct{ err error }

func (r racingExpirer) ExpireReservation(context.Context, string) (orders.Status, error) {
	return "", r.err
}

type fixedLister []string

func (f fixedLister) DueForExpiry(context.Context, time.Time, int) ([]string, error) { return f, nil }

func TestRunOnce_CountsLostRacesAsSkipped(t *testing.T) {
	s := &Sweeper{Store: fixedLister{"a", "b"}, Orders: racingExpirer{err: orders.ErrInvalidStateTransition}, Log: zerolog.Nop()}
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 2, Skipped: 2}, res)

	s.Orders = racingExpirer{err: errors.New("db down")}
	res, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 2, Failed: 2}, res)
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []orders.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic != orders.TopicExpiryRequested {
		return errors.New("unexpected topic " + topic)
	}
	p.envs = append(p.envs, env)
	return nil
}

func TestFanoutThenHandleRequests(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	id := e.order(t, 4, "")
	e.clock.Advance(orders.DefaultHold)

	pub := &recordingPublisher{}
	s := e.sweeper()
	s.Requests = pub
	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 1, Requested: 1}, res)
	assert.Equal(t, orders.StatusPendingPayment, e.status(t, id))
	require.Len(t, pub.envs, 1)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	worker := e.sweeper()
	worker.Dedup = redisx.Dedup{RDB: rdb, Consumer: "sweeper"}
	value, err := json.Marshal(pub.envs[0])
	require.NoError(t, err)
	msg := kafkago.Message{Topic: orders.TopicExpiryRequested, Value: value}

	require.NoError(t, worker.HandleExpiryRequested(ctx, msg))
	assert.Equal(t, orders.StatusExpired, e.status(t, id))
	// redelivery is a no-op
	require.NoError(t, worker.HandleExpiryRequested(ctx, msg))
	avail, reserved := e.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

func TestHandleExpiryRequested_DropsJunkAndRetriesFailures(t *testing.T) {
	s := &Sweeper{Orders: racingExpirer{err: errors.New("db down")}, Log: zerolog.Nop()}
	ctx := context.Background()

	assert.NoError(t, s.HandleExpiryRequested(ctx, kafkago.Message{Value: []byte("{not json")}))

	env, err := orders.NewEnvelope(orders.EventTypeExpiryRequested, "test", "o-1", time.Now(),
		orders.ExpiryRequestedPayload{OrderID: "o-1"})
	require.NoError(t, err)
	value, _ := json.Marshal(env)
	assert.Error(t, s.HandleExpiryRequested(ctx, kafkago.Message{Value: value}))

	s.Orders = racingExpirer{err: orders.ErrReservationActive}
	assert.NoError(t, s.HandleExpiryRequested(ctx, kafkago.Message{Value: value}))
}

type flakyExpirer struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyExpirer) ExpireReservation(context.Context, string) (orders.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return "", errors.New("db down")
	}
	return orders.StatusExpired, nil
}

func TestHandleExpiryRequested_RetryPassesDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	exp := &flakyExpirer{fails: 1}
	obs := &runs{}
	s := &Sweeper{Orders: exp, Dedup: redisx.Dedup{RDB: rdb, Consumer: "sweeper"}, Observer: obs, Log: zerolog.Nop()}
	ctx := context.Background()

	env, err := orders.NewEnvelope(orders.EventTypeExpiryRequested, "test", "o-1", time.Now(),
		orders.ExpiryRequestedPayload{OrderID: "o-1"})
	require.NoError(t, err)
	value, _ := json.Marshal(env)
	msg := kafkago.Message{Value: value}

	require.Error(t, s.HandleExpiryRequested(ctx, msg))
	require.NoError(t, s.HandleExpiryRequested(ctx, msg))
	require.NoError(t, s.HandleExpiryRequested(ctx, msg))
	assert.Equal(t, 2, exp.calls)
	results, expired := obs.snapshot()
	assert.Equal(t, []string{"request"}, results)
	assert.Equal(t, 1, expired)
}

func TestRun_LoopsUntilCancelled(t *testing.T) {
	e := setup(t)
	id := e.order(t, 2, "")
	e.clock.Advance(2 * orders.DefaultHold)

	obs := &runs{}
	s := e.sweeper()
	s.Interval = 5 * time.Millisecond
	s.Observer = obs

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		results, _ := obs.snapshot()
		return len(results) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	results, expired := obs.snapshot()
	assert.Equal(t, 1, expired)
	assert.Equal(t, "ok", results[0])
	assert.Equal(t, orders.StatusExpired, e.status(t, id))
}

func TestRun_SkipsWithoutLock(t *testing.T) {
	e := setup(t)
	id := e.order(t, 2, "")
	e.clock.Advance(2 * orders.DefaultHold)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	locker := redisx.Locker{RDB: rdb}

	held, err := locker.TryAcquire(context.Background(), redisx.KeySweepLock, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	obs := &runs{}
	s := e.sweeper()
	s.Lock = RedisLock(locker, redisx.KeySweepLock, zerolog.Nop())
	s.Observer = obs

	s.tick(context.Background())
	results, _ := obs.snapshot()
	assert.Equal(t, []string{"skipped"}, results)
	assert.Equal(t, orders.StatusPendingPayment, e.status(t, id))

	require.NoError(t, held.Release(context.Background()))
	s.tick(context.Background())
	results, expired := obs.snapshot()
	assert.Equal(t, []string{"skipped", "ok"}, results)
	assert.Equal(t, 1, expired)
	assert.False(t, mr.Exists(redisx.KeySweepLock))
}

func TestRedisLock_KeepsLeaseUntilUnlock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lock := RedisLock(redisx.Locker{RDB: rdb}, redisx.KeySweepLock, zerolog.Nop())
	ttl := 40 * time.Millisecond
	unlock, ok, err := lock(context.Background(), ttl)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock(context.Background(), ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	// miniredis does not age keys on its own; the keepalive resets the TTL
	mr.SetTTL(redisx.KeySweepLock, time.Hour)
	require.Eventually(t, func() bool { return mr.TTL(redisx.KeySweepLock) == ttl }, time.Second, 5*time.Millisecond)

	unlock()
	assert.False(t, mr.Exists(redisx.KeySweepLock))
}
