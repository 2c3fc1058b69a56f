// Command clinicctl is the operator CLI for the appointment service: schema migrations, manual
// adjudication, status overrides, slot suggestions and re-enqueueing stuck PENDING appointments.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/libs/runtime"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/intake"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/jobs"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/notify"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyDatabaseURL = "DATABASE_URL"
	keyTimezone    = "CLINIC_TIMEZONE"
	keyGRPCAddr    = "GRPC_ADDR"
	keyLogLevel    = "LOG_LEVEL"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries settings shared by every subcommand.
type cli struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}
	c.v.AutomaticEnv()
	c.v.SetDefault(keyTimezone, "UTC")
	c.v.SetDefault(keyGRPCAddr, "localhost:9093")
	c.v.SetDefault(keyLogLevel, "warn")

	root := &cobra.Command{
		Use:           "clinicctl",
		Short:         "Operate the clinic appointment service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.String("database-url", "", "Postgres connection string (env DATABASE_URL)")
	flags.String("timezone", "", "clinic IANA time zone (env CLINIC_TIMEZONE)")
	flags.String("grpc-addr", "", "appointment-service gRPC address (env GRPC_ADDR)")
	flags.String("log-level", "", "debug|info|warn|error (env LOG_LEVEL)")
	_ = c.v.BindPFlag(keyDatabaseURL, flags.Lookup("database-url"))
	_ = c.v.BindPFlag(keyTimezone, flags.Lookup("timezone"))
	_ = c.v.BindPFlag(keyGRPCAddr, flags.Lookup("grpc-addr"))
	_ = c.v.BindPFlag(keyLogLevel, flags.Lookup("log-level"))

	root.AddCommand(
		c.migrateCmd(),
		c.adjudicateCmd(),
		c.forceStatusCmd(),
		c.suggestCmd(),
		c.pendingCmd(),
		c.healthCmd(),
	)
	return root
}

func (c *cli) logger() *slog.Logger {
	return runtime.NewLogger("clinicctl", c.v.GetString(keyLogLevel))
}

func (c *cli) location() (*time.Location, error) {
	name := strings.TrimSpace(c.v.GetString(keyTimezone))
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s must be an IANA time zone (got %q): %w", keyTimezone, name, err)
	}
	return loc, nil
}

func (c *cli) databaseURL() (string, error) {
	url := strings.TrimSpace(c.v.GetString(keyDatabaseURL))
	if url == "" {
		return "", fmt.Errorf("%s is required", keyDatabaseURL)
	}
	return url, nil
}

// services is the slice of the appointment service a command needs.
type services struct {
	pool        *db.Pool
	repo        *storage.AppointmentRepository
	jobs        *jobs.Repository
	adjudicator *adjudication.Adjudicator
	intake      *intake.Service
}

func (s *services) Close() { s.pool.Close() }

func (c *cli) open(ctx context.Context) (*services, error) {
	url, err := c.databaseURL()
	if err != nil {
		return nil, err
	}
	loc, err := c.location()
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, url, db.Options{MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	logger := c.logger()
	repo := storage.NewAppointmentRepository(pool, loc)
	outboxRepo := outbox.NewRepository()
	adj := adjudication.New(repo, outboxRepo, notify.NewOutboxEmitter(pool, outboxRepo), logger)
	return &services{
		pool:        pool,
		repo:        repo,
		jobs:        jobs.NewRepository(),
		adjudicator: adj,
		intake:      intake.New(repo, adj, outboxRepo, logger),
	}, nil
}
