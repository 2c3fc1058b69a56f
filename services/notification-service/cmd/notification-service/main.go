package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/healthcenter/frontdesk/libs/config"
	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/libs/httpx"
	"github.com/healthcenter/frontdesk/libs/kafkax"
	otelx "github.com/healthcenter/frontdesk/libs/otel"
	"github.com/healthcenter/frontdesk/libs/runtime"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/consumer"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/delivery"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/handlers"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/inbox"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/storage"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/stream"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	port, err := config.Port("PORT", "8085")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	brokers := config.String("KAFKA_BROKERS", "")

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	origins := config.List("CORS_ALLOWED_ORIGINS", "")
	notifications := storage.NewRepository(pool)
	hub := stream.NewHub(logger, origins)
	processor := delivery.NewProcessor(notifications, hub, logger)

	if len(kafkax.SplitBrokers(brokers)) > 0 {
		eventConsumer := consumer.New(logger, pool, inbox.NewRepository(), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", delivery.EventNotificationRequested),
		}, processor.Handle)
		go eventConsumer.Run(ctx)
	} else {
		logger.Warn("notification consumer disabled (no kafka brokers configured)")
	}

	router := runtime.NewRouter(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.NewNotificationHandler(notifications, hub, logger).Mount(router)

	handler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader},
		}),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "notification"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, logger, srv)
}
