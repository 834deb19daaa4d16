package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmedgar/nekowat/internal/api"
	"github.com/rmedgar/nekowat/internal/catalog"
	catconsumer "github.com/rmedgar/nekowat/internal/catalog/consumer"
	catpublisher "github.com/rmedgar/nekowat/internal/catalog/publisher"
	"github.com/rmedgar/nekowat/internal/matchcache"
	"github.com/rmedgar/nekowat/internal/usage"
	"github.com/rmedgar/nekowat/internal/wat/dispatcher"
	"github.com/rmedgar/nekowat/internal/wat/gate"
	"github.com/rmedgar/nekowat/internal/wat/index"
	"github.com/rmedgar/nekowat/internal/wat/matcher"
	"github.com/rmedgar/nekowat/internal/wat/ratelimit"
	"github.com/rmedgar/nekowat/internal/whitelist"
	"github.com/rmedgar/nekowat/pkg/config"
	"github.com/rmedgar/nekowat/pkg/health"
	"github.com/rmedgar/nekowat/pkg/kafka"
	"github.com/rmedgar/nekowat/pkg/logger"
	"github.com/rmedgar/nekowat/pkg/metrics"
	"github.com/rmedgar/nekowat/pkg/postgres"
	pkgredis "github.com/rmedgar/nekowat/pkg/redis"
	"github.com/rmedgar/nekowat/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting nekowat", "port", cfg.Server.Port, "owner", cfg.Bot.OwnerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// PostgreSQL. Without it the catalog and whitelist are memory-only.
	var db *postgres.Client
	db, err = postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, running without persistence", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	// Redis-backed candidate cache.
	var cache *matchcache.Cache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, match caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cache = matchcache.New(redisClient, cfg.Redis, m)
		slog.Info("match cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	// Access gate, seeded from the whitelist table when available.
	gateCfg := gate.Config{
		Owner:   cfg.Bot.OwnerID,
		Enabled: cfg.Bot.WhitelistEnabled,
	}
	if db != nil {
		wlStore := whitelist.NewStore(db)
		entries, err := wlStore.LoadAll(ctx)
		if err != nil {
			slog.Error("failed to load whitelist", "error", err)
			os.Exit(1)
		}
		gateCfg.Entries = entries
		gateCfg.Store = wlStore
	}
	g := gate.New(gateCfg)
	m.WhitelistSize.Set(float64(g.Size()))

	// Catalog: index built from PostgreSQL, changes fanned out over Kafka.
	idx := index.New()
	catOpts := []catalog.Option{catalog.WithMetrics(m)}
	if db != nil {
		catOpts = append(catOpts, catalog.WithStore(catalog.NewStore(db)))
	}
	if cache != nil {
		catOpts = append(catOpts, catalog.WithInvalidator(cache))
	}
	catPublisher := catpublisher.New(kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CatalogEvents))
	defer catPublisher.Close()
	catOpts = append(catOpts, catalog.WithPublisher(catPublisher))
	cat := catalog.NewService(idx, catOpts...)
	if err := cat.Load(ctx); err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog ready", "wats", cat.Size())

	var inv catalog.Invalidator
	if cache != nil {
		inv = cache
	}
	catConsumer := catconsumer.New(kafka.NewConsumer(
		cfg.Kafka, cfg.Kafka.Topics.CatalogEvents,
		catconsumer.HandleMessage(idx, inv, m),
	))
	go func() {
		if err := catConsumer.Start(ctx); err != nil {
			slog.Error("catalog consumer error", "error", err)
		}
	}()

	// Usage pipeline: collector publishes, aggregator consumes.
	collector := usage.NewCollector(kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.UsageEvents), 10000)
	collector.Start(ctx)
	defer collector.Close()

	var aggregator *usage.Aggregator
	usageConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.UsageEvents,
		func(ctx context.Context, key, value []byte) error {
			return usage.HandleEvent(aggregator)(ctx, key, value)
		})
	aggregator = usage.NewAggregator(usageConsumer)
	go func() {
		if err := aggregator.Start(ctx); err != nil {
			slog.Error("usage aggregator error", "error", err)
		}
	}()

	// Dispatcher: gate → rate limit → match.
	limiter := ratelimit.New(cfg.Bot.RateLimitPerUser, cfg.Bot.RateLimitWindow)
	dispOpts := []dispatcher.Option{
		dispatcher.WithLimiter(limiter),
		dispatcher.WithMetrics(m),
	}
	if cache != nil {
		dispOpts = append(dispOpts, dispatcher.WithCache(cache))
	}
	d := dispatcher.New(g, matcher.New(idx, cfg.Bot.InlinePageSize), dispOpts...)

	// Health checks.
	checker := health.NewChecker()
	checker.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d wats indexed", idx.Len()),
		}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	// Metrics server.
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	// RPC server for persistent-connection transports.
	rpcServer := rpc.NewServer()
	api.RegisterRPC(rpcServer, d, cat, aggregator)
	go func() {
		if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.Server.RPCPort)); err != nil {
			slog.Error("rpc server error", "error", err)
		}
	}()
	defer rpcServer.Stop()

	// HTTP server.
	h := api.New(d, cat, collector, aggregator)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, checker, m, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("nekowat listening", "addr", server.Addr, "rpc_port", cfg.Server.RPCPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Let in-flight requests drain before the deferred closes tear down the
	// collector and producers.
	<-shutdownDone
	slog.Info("nekowat stopped")
}
