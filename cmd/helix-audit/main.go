package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/godamri/helix-audit/app"
	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/cache"
	"github.com/godamri/helix-audit/config"
	"github.com/godamri/helix-audit/crypto"
	"github.com/godamri/helix-audit/database"
	logpkg "github.com/godamri/helix-audit/log"
	"github.com/godamri/helix-audit/messaging"
	"github.com/godamri/helix-audit/pkg/contextx"
	"github.com/godamri/helix-audit/server"
	"github.com/godamri/helix-audit/server/api"
	"github.com/godamri/helix-audit/server/health"
	"github.com/godamri/helix-audit/server/middleware"
	"github.com/godamri/helix-audit/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("HELIX_AUDIT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.NewLoader[Config]("", *configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "helix-audit: %v\n", err)
		os.Exit(1)
	}

	logger := logpkg.New(cfg.Log)
	slog.SetDefault(logger)

	runner := app.NewRunner(logger)
	runner.ShutdownTimeout = cfg.Server.ShutdownTimeout
	runner.Run(func(ctx context.Context) (func(context.Context) error, error) {
		return start(ctx, cfg, logger)
	})
}

// start wires the service and returns its shutdown function. Closers run in
// reverse order of creation.
func start(ctx context.Context, cfg *Config, logger *slog.Logger) (func(context.Context) error, error) {
	var closers []func() error
	shutdown := func(context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (func(context.Context) error, error) {
		_ = shutdown(context.Background())
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.Database, cfg.Log.Service)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, db.Close)

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx, db, logger); err != nil {
			return fail(err)
		}
	}

	var (
		auditStore audit.Store = store.NewPostgres(db)
		cached     *store.Cached
		rdb        *redis.Client
	)
	if cfg.Redis.Enabled() {
		rdb, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rdb.Close)
		cached = store.NewCached(auditStore, rdb, cfg.Audit.CacheTTL, logger)
		auditStore = cached
	}

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeNotifier)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auditor, err := audit.New(cfg.Audit, auditStore,
		audit.WithLogger(logger),
		audit.WithMetrics(audit.NewMetrics(reg)),
		audit.WithNotifier(notifier),
		audit.WithActorResolver(audit.ContextActorResolver{DefaultType: "user"}),
		audit.WithTenantResolver(audit.ContextTenantResolver{}),
		audit.WithMetadataResolver("ip_address", contextString(contextx.GetRemoteIP)),
		audit.WithMetadataResolver("user_agent", contextString(contextx.GetUserAgent)),
		audit.WithMetadataResolver("request_id", contextString(contextx.GetRequestID)),
		audit.WithMetadataResolver("reason", contextString(contextx.GetAuditReason)),
	)
	if err != nil {
		return fail(err)
	}

	// Keep the last-record cache coherent with hosts appending elsewhere.
	if cached != nil && cfg.Kafka.Enabled() && cfg.Kafka.RefreshCache {
		consumer, err := messaging.NewConsumer(messaging.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID + "-cache",
			Topic:          cfg.Audit.KafkaTopic,
			MaxRetries:     5,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		}, logger, messaging.NotificationHandler(logger, func(ctx context.Context, n audit.Notification) error {
			return cached.Refresh(ctx, n.EntityType, n.EntityID)
		}))
		if err != nil {
			return fail(err)
		}
		workers := messaging.NewConsumerManager(logger)
		workers.Register(consumer)
		workers.Start(ctx)
		closers = append(closers, workers.Close)
	}

	authStrategy, err := buildAuth(ctx, cfg.Auth, logger)
	if err != nil {
		return fail(err)
	}

	probes := map[string]health.Probe{"postgres": health.ProbeFunc(db.PingContext)}
	if rdb != nil {
		probes["redis"] = health.ProbeFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	checker := health.NewChecker(logger, probes)

	router := newRouter(cfg, logger, reg, rdb, authStrategy, checker, api.New(auditor, logger, nil))

	var grpcSrv *grpc.Server
	if cfg.Server.EnableGRPC {
		interceptors := []grpc.UnaryServerInterceptor{middleware.GRPCRecoveryInterceptor(logger)}
		if rdb != nil && cfg.RateLimit.Rate > 0 {
			interceptors = append(interceptors, middleware.NewRateLimiter(rdb, cfg.RateLimit, logger).UnaryInterceptor)
		}
		grpcSrv = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
		hs := grpchealth.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, hs)
		go checker.SyncGRPC(ctx, hs, 10*time.Second)
	}

	srv := server.New(cfg.Server, logger, router, grpcSrv)
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Start(ctx)
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
		serveErr <- err
	}()
	closers = append(closers, func() error {
		return <-serveErr
	})

	logger.Info("helix-audit started",
		"http_port", cfg.Server.HTTPPort,
		"cache", cached != nil,
		"kafka", cfg.Kafka.Enabled(),
	)
	return shutdown, nil
}

func newRouter(
	cfg *Config,
	logger *slog.Logger,
	reg *prometheus.Registry,
	rdb *redis.Client,
	authStrategy middleware.AuthStrategy,
	checker *health.Checker,
	handler *api.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.PanicRecovery(logger))
	r.Use(middleware.OTelMiddleware(cfg.Log.Service))
	r.Use(middleware.TraceIDMiddleware)
	r.Use(middleware.NewHTTPMetrics(reg).Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders)

	checker.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestContext)
		if authStrategy != nil {
			r.Use(middleware.NewAuthMiddleware(authStrategy).HTTPMiddleware)
		}
		if rdb != nil {
			r.Use(middleware.NewRateLimiter(rdb, cfg.RateLimit, logger).Middleware)
			r.Use(middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
				RedisClient: rdb,
				Logger:      logger,
			}))
		}
		handler.Register(r)
	})
	return r
}

// buildNotifier assembles the notification chain: an in-process emitter that
// logs every announcement, then Kafka and a stdout JSON-lines writer when
// configured.
func buildNotifier(ctx context.Context, cfg *Config, logger *slog.Logger) (audit.Notifier, func() error, error) {
	emitter := audit.NewEmitter()
	for _, ev := range []audit.Event{audit.EventCreate, audit.EventUpdate, audit.EventDelete} {
		emitter.On(ev.Topic(), func(ctx context.Context, n audit.Notification) error {
			logger.DebugContext(ctx, "audit recorded",
				"event", n.Event,
				"entity_type", n.EntityType,
				"entity_id", n.EntityID,
				"record_id", n.RecordID,
			)
			return nil
		})
	}
	chain := audit.MultiNotifier{emitter}
	var closers []func() error

	if cfg.Kafka.Enabled() {
		switch cfg.Kafka.Driver {
		case "sarama":
			kn, err := audit.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Audit.KafkaTopic, logger)
			if err != nil {
				return nil, nil, err
			}
			chain = append(chain, kn)
			closers = append(closers, kn.Close)
		default:
			producer, err := messaging.NewProducer(ctx, cfg.Kafka.Config, logger)
			if err != nil {
				return nil, nil, err
			}
			chain = append(chain, messaging.NewNotifier(producer, cfg.Audit.KafkaTopic))
			closers = append(closers, producer.Close)
		}
	}

	if cfg.NotifyStdout {
		an := audit.NewAsyncNotifier(os.Stdout, cfg.Audit.NotifyBufferSize, cfg.Audit.NotifyBlockOnFull, logger)
		chain = append(chain, an)
		closers = append(closers, an.Close)
	}

	return chain, func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}, nil
}

func buildAuth(ctx context.Context, cfg AuthConfig, logger *slog.Logger) (middleware.AuthStrategy, error) {
	switch cfg.Mode {
	case "jwt":
		verifier, err := crypto.NewKeySet(ctx, cfg.JWKS, logger)
		if err != nil {
			return nil, err
		}
		return middleware.NewJWTStrategy(verifier, logger), nil
	case "gateway":
		strategy, err := middleware.NewTrustedHeaderStrategy(cfg.Gateway, logger)
		if err != nil {
			return nil, err
		}
		return strategy, nil
	default:
		logger.Warn("authentication disabled, audit records carry no actor")
		return nil, nil
	}
}

func contextString(get func(context.Context) string) audit.MetadataResolver {
	return audit.MetadataResolverFunc(func(ctx context.Context) (any, error) {
		if v := get(ctx); v != "" {
			return v, nil
		}
		return nil, nil
	})
}
