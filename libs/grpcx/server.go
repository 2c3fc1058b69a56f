package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func NewServer(logger *slog.Logger, extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(serverInterceptor(logger)),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

// HealthProbe reports whether the named dependency is currently usable.
type HealthProbe func(context.Context) error

// Health serves grpc.health.v1 for service and keeps its status in step with probe.
type Health struct {
	service  string
	probe    HealthProbe
	interval time.Duration
	server   *health.Server
	logger   *slog.Logger
}

func NewHealth(service string, probe HealthProbe, interval time.Duration, logger *slog.Logger) *Health {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	srv := health.NewServer()
	srv.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Health{service: service, probe: probe, interval: interval, server: srv, logger: logger}
}

func (h *Health) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Refresh runs the probe once and publishes the result.
func (h *Health) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if h.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.probe(probeCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.logger.Warn("health probe failed", "service", h.service, "err", err)
		}
	}
	h.server.SetServingStatus(h.service, status)
	h.server.SetServingStatus("", status)
}

// Run refreshes until ctx ends, then marks everything NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Serve listens on addr and stops gracefully when ctx ends.
func Serve(ctx context.Context, logger *slog.Logger, srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return nil
}
