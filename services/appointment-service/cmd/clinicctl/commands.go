package main

import (
	"context"
	"fmt"
	"time"

	"github.com/healthcenter/frontdesk/libs/grpcx"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func (c *cli) adjudicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adjudicate <appointment-id>",
		Short: "Run the authoritative conflict check for one appointment and notify the patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			d, err := svc.adjudicator.Adjudicate(ctx, args[0])
			if err != nil {
				return err
			}
			c.printDecision(d)
			return nil
		},
	}
}

func (c *cli) printDecision(d adjudication.Decision) {
	fmt.Fprintf(c.out, "%s %s %s\n", d.Appointment.ID, d.Appointment.ScheduledAt.Format(model.TimeLayout), d.Status())
	if d.Conflicting != nil {
		fmt.Fprintf(c.out, "conflicts with %s at %s\n", d.Conflicting.ID, d.Conflicting.ScheduledAt.Format(model.TimeLayout))
	}
	for _, s := range d.Suggestions {
		fmt.Fprintf(c.out, "suggested %s\n", s.Format(model.TimeLayout))
	}
}

func (c *cli) forceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-status <appointment-id> <PENDING|APPROVED|DISAPPROVED>",
		Short: "Override an appointment status without a conflict check or notification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseStatus(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			appt, err := svc.adjudicator.ForceStatus(ctx, args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s %s %s\n", appt.ID, appt.ScheduledAt.Format(model.TimeLayout), appt.Status)
			return nil
		},
	}
}

func (c *cli) suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Show free slots",
	}

	var reference string
	horizon := &cobra.Command{
		Use:   "horizon",
		Short: "First free hourly slots over the next seven days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := c.location()
			if err != nil {
				return err
			}
			ref := time.Now().In(loc)
			if reference != "" {
				if ref, err = model.ParseScheduledAt(reference, loc); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			slots, err := svc.intake.SuggestHorizon(ctx, ref)
			if err != nil {
				return err
			}
			for _, s := range slots {
				fmt.Fprintln(c.out, s.Format(model.TimeLayout))
			}
			return nil
		},
	}
	horizon.Flags().StringVar(&reference, "reference", "", `reference time, "2006-01-02 15:04" or RFC3339 (default now)`)

	var date string
	business := &cobra.Command{
		Use:   "business-hours",
		Short: "First free business-hours start on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := c.location()
			if err != nil {
				return err
			}
			day, err := model.ParseDate(date, loc)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			slot, err := svc.intake.SuggestBusinessHours(ctx, day)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, slot)
			return nil
		},
	}
	business.Flags().StringVar(&date, "date", "", "date as 2006-01-02")
	_ = business.MarkFlagRequired("date")

	cmd.AddCommand(horizon, business)
	return cmd
}

func (c *cli) pendingCmd() *cobra.Command {
	var (
		since string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Enqueue adjudication for every PENDING appointment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive (got %d)", limit)
			}
			loc, err := c.location()
			if err != nil {
				return err
			}
			from := model.StartOfDay(time.Now().In(loc))
			if since != "" {
				if from, err = model.ParseDate(since, loc); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			svc, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			ids, err := svc.repo.ListPendingIDs(ctx, from, limit)
			if err != nil {
				return err
			}
			queued := 0
			now := time.Now()
			for _, id := range ids {
				ok, err := svc.jobs.Enqueue(ctx, svc.pool, id, now)
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", id, err)
				}
				if ok {
					queued++
				}
			}
			fmt.Fprintf(c.out, "pending %d, queued %d, already queued %d\n", len(ids), queued, len(ids)-queued)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "earliest appointment date, 2006-01-02 (default today)")
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum appointments to enqueue")
	return cmd
}

func (c *cli) healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the appointment service gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpcx.Dial(c.v.GetString(keyGRPCAddr), nil)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "appointment-service"})
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			fmt.Fprintln(c.out, resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("appointment-service is %s", resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}
