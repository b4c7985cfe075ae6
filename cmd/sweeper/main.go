package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName+"-sweeper")
	if cfg.StoreDriver == "memory" {
		log.Fatal().Msg("the memory store is swept inside cmd/api; run the sweeper against postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: int32(cfg.SweeperWorkers) + 2})
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	store := &postgres.Store{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for status changes and, in fan-out mode, expiry requests.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(context.Background())
	events := kafkax.EventPublisher{P: prod}

	col := metrics.New()
	svc := orders.NewService(store, log)
	svc.Hold = cfg.ReservationHold
	svc.Events = events
	svc.Cache = redisx.NewSummaryCache(rdb, log)
	svc.Observer = col
	svc.Producer = cfg.ServiceName + "-sweeper"

	sw := &sweep.Sweeper{
		Store:    store,
		Orders:   svc,
		Batch:    cfg.SweepBatch,
		Interval: cfg.SweepInterval,
		LockTTL:  cfg.SweepLockTTL,
		Lock:     sweep.RedisLock(redisx.Locker{RDB: rdb}, redisx.KeySweepLock, log),
		Observer: col,
		Dedup:    redisx.Dedup{RDB: rdb, Consumer: cfg.SweeperGroup},
		Log:      log,
		Producer: svc.Producer,
	}
	if cfg.SweepFanout {
		sw.Requests = events
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.SweeperGroup, orders.TopicExpiryRequested, cfg.SweeperWorkers, log)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", col.Handler())
	srv := &http.Server{Addr: cfg.SweeperMetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Dur("interval", cfg.SweepInterval).Bool("fanout", cfg.SweepFanout).Msg("sweeper started")
		return sw.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("group", cfg.SweeperGroup).Int("workers", cfg.SweeperWorkers).Msg("expiry request consumer started")
		return cons.Start(gctx, sw.HandleExpiryRequested)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
	}
	prod.Close()
	prod.WaitClosed()
}
