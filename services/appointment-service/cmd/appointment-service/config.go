package main

import (
	"time"

	"github.com/healthcenter/frontdesk/libs/config"
)

type serviceConfig struct {
	Service          string
	Port             string
	GRPCPort         string
	DatabaseURL      string
	KafkaBrokers     string
	RedisAddr        string
	RedisPassword    string
	Location         *time.Location
	LogLevel         string
	AdminJWTSecret   string
	BookingRateLimit int
	Grace            time.Duration
	Backoff          time.Duration
	CORSOrigins      []string
}

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:        config.String("SERVICE_NAME", "appointment-service"),
		KafkaBrokers:   config.String("KAFKA_BROKERS", ""),
		RedisAddr:      config.String("REDIS_ADDR", ""),
		RedisPassword:  config.String("REDIS_PASSWORD", ""),
		LogLevel:       config.String("LOG_LEVEL", "info"),
		AdminJWTSecret: config.String("ADMIN_JWT_SECRET", ""),
		CORSOrigins:    config.List("CORS_ALLOWED_ORIGINS", ""),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.Location, err = config.Location("CLINIC_TIMEZONE", "UTC"); err != nil {
		return cfg, err
	}
	if cfg.BookingRateLimit, err = config.Int("BOOKING_RATE_LIMIT", 30); err != nil {
		return cfg, err
	}
	if cfg.Grace, err = config.Duration("ADJUDICATION_GRACE", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Backoff, err = config.Duration("ADJUDICATION_BACKOFF", time.Minute); err != nil {
		return cfg, err
	}
	return cfg, nil
}
