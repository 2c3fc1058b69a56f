package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/libs/grpcx"
	"github.com/healthcenter/frontdesk/libs/httpx"
	"github.com/healthcenter/frontdesk/libs/kafkax"
	otelx "github.com/healthcenter/frontdesk/libs/otel"
	"github.com/healthcenter/frontdesk/libs/runtime"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/handlers"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/intake"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/jobs"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/metrics"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/notify"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		runtime.NewLogger("appointment-service", "info").Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	repo := storage.NewAppointmentRepository(pool, cfg.Location)
	outboxRepo := outbox.NewRepository()
	jobRepo := jobs.NewRepository()
	emitter := notify.NewOutboxEmitter(pool, outboxRepo)

	adjudicator := adjudication.New(repo, outboxRepo, emitter, logger, adjudication.WithMetrics(m))
	booker := intake.New(repo, adjudicator, outboxRepo, logger,
		intake.WithMetrics(m),
		intake.WithEnqueue(jobRepo.Hook(cfg.Grace, nil)),
	)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Metrics:   m,
	})
	go publisher.Run(ctx)

	worker := jobs.NewWorker(pool, jobRepo, outboxRepo, repo, adjudicator, logger, jobs.WorkerConfig{
		Interval: 2 * time.Second,
		Backoff:  cfg.Backoff,
	})
	go worker.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}

	var limiter httpx.Limiter = httpx.NewMemoryLimiter(cfg.BookingRateLimit, time.Minute)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisLimiter(rdb, cfg.BookingRateLimit, time.Minute, "rl:booking")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	healthSrv := grpcx.NewHealth(cfg.Service, db.ReadyCheck(pool), 5*time.Second, logger)
	grpcSrv := grpcx.NewServer(logger)
	healthSrv.Register(grpcSrv)
	go healthSrv.Run(ctx)
	if err := grpcx.Serve(ctx, logger, grpcSrv, ":"+cfg.GRPCPort); err != nil {
		logger.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}

	router := runtime.NewRouter(checks...)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	handlers.NewAppointmentHandler(booker, adjudicator, repo, cfg.Location, logger).Mount(router, handlers.Guards{
		Booking: httpx.RateLimit(limiter, httpx.ClientIP, logger, true),
		Admin:   httpx.RequireRole(cfg.AdminJWTSecret, "admin"),
	})

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "Authorization", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(64<<10),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "appointments"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, logger, srv)
}
