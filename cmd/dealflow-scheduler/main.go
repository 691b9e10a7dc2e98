package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/billing"
	"github.com/platinummonkey/dealflow/pkg/config"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/orgs"
	"github.com/platinummonkey/dealflow/pkg/rbac"
)

var (
	runOnce = flag.Bool("run-once", false, "Run every job once and exit")
	jobName = flag.String("job", "", "With --run-once, run only this job (plan-sync, invitation-purge, token-cleanup)")
)

// job is one scheduled task
type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "dealflow-scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	jobs := buildJobs(cfg, db, logger)

	// Run once mode (for testing or manual backfills)
	if *runOnce {
		failed := false
		for _, j := range jobs {
			if *jobName != "" && j.name != *jobName {
				continue
			}
			if err := runJob(ctx, j, logger); err != nil {
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	for _, j := range jobs {
		if _, err := c.AddFunc(j.schedule, func() { _ = runJob(ctx, j, logger) }); err != nil {
			logger.WithError(err).WithField("job", j.name).Error("failed to schedule job")
			os.Exit(1)
		}
		logger.WithFields(map[string]interface{}{"job": j.name, "schedule": j.schedule}).Info("job scheduled")
	}

	c.Start()
	logger.Info("scheduler started")

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	// Wait for running jobs to finish
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}

func buildJobs(cfg *config.Config, db *sql.DB, logger *observability.Logger) []job {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gate := authz.NewGate(cfg.Auth.SuperAdminEmail)
	tokens := auth.NewTokenStore(db)
	invitations := orgs.NewInvitations(orgs.InvitationsConfig{
		DB:      db,
		Gate:    gate,
		Roles:   rbac.NewStore(db),
		Tokens:  tokens,
		Metrics: metrics,
		Logger:  logger,
	})

	jobs := []job{
		{
			name:     "invitation-purge",
			schedule: cfg.Scheduler.InvitationPurgeSchedule,
			run: func(ctx context.Context) error {
				n, err := invitations.PurgeStale(ctx, cfg.Scheduler.InvitationMaxAge)
				if err == nil {
					logger.Infof("purged %d stale invitations", n)
				}
				return err
			},
		},
		{
			name:     "token-cleanup",
			schedule: cfg.Scheduler.InvitationPurgeSchedule,
			run: func(ctx context.Context) error {
				n, err := tokens.DeleteExpired(ctx, time.Now())
				if err == nil {
					logger.Infof("deleted %d expired tokens", n)
				}
				return err
			},
		},
	}

	if cfg.Billing.SecretKey == "" {
		logger.Warn("billing provider not configured, plan sync disabled")
		return jobs
	}
	stripe := billing.NewStripeClient(billing.StripeConfig{
		SecretKey: cfg.Billing.SecretKey,
		BaseURL:   cfg.Billing.APIBaseURL,
		Timeout:   cfg.Billing.RequestTimeout,
	}, metrics, logger)
	planSync := billing.NewPlanSync(db, stripe, metrics, logger)

	return append(jobs, job{
		name:     "plan-sync",
		schedule: cfg.Scheduler.PlanSyncSchedule,
		run: func(ctx context.Context) error {
			_, err := planSync.Run(ctx)
			return err
		},
	})
}

func runJob(ctx context.Context, j job, logger *observability.Logger) error {
	start := time.Now()
	jobLogger := logger.WithField("job", j.name)
	jobLogger.Info("job started")

	if err := j.run(ctx); err != nil {
		jobLogger.WithError(err).Error("job failed")
		return err
	}
	jobLogger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("job completed")
	return nil
}
