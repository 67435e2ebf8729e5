package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"moddispatch/internal/api"
	"moddispatch/internal/buildinfo"
	"moddispatch/internal/config"
	"moddispatch/internal/dispatch"
	"moddispatch/internal/distance"
	"moddispatch/internal/metrics"
	"moddispatch/internal/obs"
	"moddispatch/internal/store"
	"moddispatch/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithFields(log.Fields{"version": buildinfo.Version, "commit": buildinfo.Commit}).Info("starting dispatch api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := map[string]api.Pinger{}
	mem := store.NewMemory()
	var runs store.RunStore = mem
	var outbox store.Outbox = mem
	var cache store.DistanceCache = mem
	var rdb *redis.Client

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to open postgres")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("failed to migrate postgres")
		}
		runs, outbox = pg, pg
		if cfg.CacheBackend == "postgres" {
			cache = &store.Layered{L1: mem, L2: pg}
		}
		deps["postgres"] = pg
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		rc := store.NewRedisClient(rdb)
		if cfg.CacheBackend == "redis" {
			cache = &store.Layered{L1: mem, L2: rc}
		}
		deps["redis"] = rc
	}

	providers, routeTypes, err := buildProviders(cfg, cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to configure routing")
	}

	var broker api.EventBroker = api.NewBroker()
	if rdb != nil {
		broker = api.NewRedisBroker(rdb, logger)
	}
	notifiers := []dispatch.Notifier{api.BrokerNotifier{Broker: broker}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, webhooks.NewPublisher(outbox, []webhooks.Target{{URL: cfg.WebhookURL, Secret: cfg.WebhookSecret}}, logger))
		go webhooks.NewWorker(outbox, cfg.WebhookMaxAttempts, logger).Run(ctx)
	}

	engine := dispatch.New(dispatch.Options{
		Providers: providers,
		Cache:     cache,
		Runs:      runs,
		Notifiers: notifiers,
		Log:       logger,
		Defaults:  &dispatch.Defaults{Params: cfg.Params, Config: cfg.Route},

		LogRequests: cfg.LogRequests,
	})

	metrics.RegisterDefault()
	go pruneLoop(ctx, mem)

	s := &api.Server{
		Engine:     engine,
		Runs:       runs,
		Broker:     broker,
		Log:        logger,
		RouteTypes: routeTypes,
		Deps:       deps,
		Settings:   cfg.Summary(),
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	logger.WithField("addr", srv.Addr).Info("API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server error")
	}
	logger.Info("API stopped")
}

// buildProviders always serves haversine and adds the configured HTTP backend on top.
func buildProviders(cfg config.Config, cache store.DistanceCache, l log.FieldLogger) (map[distance.Backend]distance.MatrixProvider, []distance.Backend, error) {
	ttl := time.Duration(cfg.Route.CacheExpirationTime) * time.Second
	wrap := func(b distance.Backend, p distance.MatrixProvider) distance.MatrixProvider {
		return &distance.Cached{Backend: p, Cache: cache, Name: b, TTL: ttl, Log: l, OnLookup: metrics.ObserveCacheLookup}
	}
	providers := map[distance.Backend]distance.MatrixProvider{
		distance.BackendHaversine: wrap(distance.BackendHaversine, distance.NewHaversine()),
	}
	routeTypes := []distance.Backend{distance.BackendHaversine}

	b, err := distance.ParseBackend(cfg.RoutingBackend)
	if err != nil {
		return nil, nil, err
	}
	if b == distance.BackendHaversine {
		return providers, routeTypes, nil
	}
	if cfg.RoutingURL == "" {
		return nil, nil, errors.New("ROUTING_URL is required for " + string(b))
	}
	p, err := distance.New(b, cfg.RoutingURL, distance.Options{Tasks: cfg.RoutingTasks, RPS: cfg.RoutingRPS})
	if err != nil {
		return nil, nil, err
	}
	providers[b] = wrap(b, p)
	return providers, append(routeTypes, b), nil
}

func pruneLoop(ctx context.Context, m *store.Memory) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Prune()
		}
	}
}
