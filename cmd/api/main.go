package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer closeStore()

	col := metrics.New()
	svc := orders.NewService(store, log)
	svc.Hold = cfg.ReservationHold
	svc.Observer = col
	svc.Producer = cfg.ServiceName

	// Redis
	var (
		idem   httpx.IdempotencyStore
		probes []httpx.Probe
	)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache := redisx.NewSummaryCache(rdb, log)
		svc.Cache = cache
		idem = redisx.Idempotency{RDB: rdb}
		probes = append(probes, httpx.Probe{Name: "summary-cache", Health: cache.Health})
	}

	// Kafka producer runs on its own context so it can flush after the signal.
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(context.Background())
		svc.Events = kafkax.EventPublisher{P: prod}
	}

	router := httpx.NewRouter(col.Handler(), probes...)
	(&httpx.OrdersHandler{Svc: svc, Idem: idem, Log: log}).Register(router)
	(&httpx.AdminHandler{Svc: svc, Auth: httpx.NewAllowlistAuthorizer(cfg.AdminEmails), Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	// The memory store lives in this process, so nobody else can sweep it.
	if cfg.StoreDriver == "memory" {
		sw := &sweep.Sweeper{
			Store:    store,
			Orders:   svc,
			Batch:    cfg.SweepBatch,
			Interval: cfg.SweepInterval,
			Observer: col,
			Log:      log.With().Str("component", "sweeper").Logger(),
		}
		g.Go(func() error { return sw.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (orders.Store, func(), error) {
	catalog, err := readCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, nil, err
	}

	if cfg.StoreDriver == "memory" {
		s := memstore.New()
		for _, p := range catalog {
			s.PutProduct(p)
		}
		log.Info().Int("products", len(catalog)).Msg("memory store ready")
		return s, func() {}, nil
	}

	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			return nil, nil, err
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
	if err != nil {
		return nil, nil, err
	}
	s := &postgres.Store{DB: db}
	if len(catalog) > 0 {
		n, err := s.SeedProducts(ctx, catalog)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Int("inserted", n).Int("catalog", len(catalog)).Msg("catalog seeded")
	}
	return s, db.Close, nil
}

func readCatalog(path string) ([]inventory.Product, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return inventory.DecodeCatalog(f, time.Now().UTC())
}
