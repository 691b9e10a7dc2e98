package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/dealflow/pkg/api"
	"github.com/platinummonkey/dealflow/pkg/audit"
	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/billing"
	"github.com/platinummonkey/dealflow/pkg/config"
	"github.com/platinummonkey/dealflow/pkg/database"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/middleware"
	"github.com/platinummonkey/dealflow/pkg/notify"
	"github.com/platinummonkey/dealflow/pkg/observability"
	"github.com/platinummonkey/dealflow/pkg/orgs"
	"github.com/platinummonkey/dealflow/pkg/rbac"
)

var (
	version     = "dev"
	autoMigrate = flag.Bool("migrate", true, "Apply pending database migrations on startup")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "dealflow-api").
		WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if *autoMigrate {
		applied, err := database.Migrate(ctx, db, orgs.Migrations, auth.Migrations, rbac.Migrations, billing.Migrations)
		if err != nil {
			return err
		}
		logger.Infof("applied %d migrations", applied)
	}

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	redisClient, throttle, err := newThrottle(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditDB, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	auditLogger := audit.NewMultiLogger(auditDB, audit.NewLogrusLogger(os.Stdout))

	gate := authz.NewGate(cfg.Auth.SuperAdminEmail, authz.WithMetrics(metrics), authz.WithAuditLogger(auditLogger))
	users := auth.NewUserStore(db)
	tokens := auth.NewTokenStore(db)
	roles := rbac.NewRegistry(db, gate, auditLogger, logger)
	directory := orgs.NewDirectory(db, gate, auditLogger, metrics, logger)

	var notifier notify.Notifier = notify.NewLogNotifier(cfg.Mail.AcceptURL, logger)
	if cfg.Mail.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:      cfg.Mail.SMTPHost,
			Port:      cfg.Mail.SMTPPort,
			Username:  cfg.Mail.SMTPUsername,
			Password:  cfg.Mail.SMTPPassword,
			Sender:    cfg.Mail.Sender,
			AcceptURL: cfg.Mail.AcceptURL,
		}, logger)
	}

	// The provider interfaces stay nil when billing is not configured
	var (
		provider  billing.Provider
		source    billing.SubscriptionSource
		customers orgs.CustomerProvisioner
	)
	if cfg.Billing.SecretKey != "" {
		stripe := billing.NewStripeClient(billing.StripeConfig{
			SecretKey: cfg.Billing.SecretKey,
			BaseURL:   cfg.Billing.APIBaseURL,
			Timeout:   cfg.Billing.RequestTimeout,
		}, metrics, logger)
		provider, source, customers = stripe, stripe, stripe
	} else {
		logger.Warn("billing provider not configured, checkout and webhooks are disabled")
	}

	server := api.NewServer(api.Config{
		Orgs:    directory,
		Members: orgs.NewMembers(db, gate, auditLogger, logger),
		Invitations: orgs.NewInvitations(orgs.InvitationsConfig{
			DB:       db,
			Gate:     gate,
			Roles:    roles.Store(),
			Tokens:   tokens,
			Notifier: notifier,
			Audit:    auditLogger,
			Metrics:  metrics,
			Logger:   logger,
			TokenTTL: cfg.Auth.TokenTTL,
		}),
		Registrar: orgs.NewRegistrar(orgs.RegistrarConfig{
			DB:        db,
			Roles:     roles,
			Tokens:    tokens,
			Customers: customers,
			Audit:     auditLogger,
			Logger:    logger,
			TokenTTL:  cfg.Auth.TokenTTL,
		}),
		Authenticator: authz.NewAuthenticator(authz.AuthenticatorConfig{
			Users:     users,
			Tokens:    tokens,
			Gate:      gate,
			Standings: directory,
			Throttle:  throttle,
			Audit:     auditLogger,
			Metrics:   metrics,
			Logger:    logger,
			TokenTTL:  cfg.Auth.TokenTTL,
		}),
		Billing: billing.NewService(billing.ServiceConfig{
			DB:          db,
			Gate:        gate,
			Provider:    provider,
			Audit:       auditLogger,
			Logger:      logger,
			FrontendURL: cfg.Billing.FrontendURL,
		}),
		Webhooks:       newWebhooks(cfg, db, directory, source, auditLogger, metrics, logger),
		Authenticate:   middleware.NewAuthMiddleware(tokens, users).Handler,
		Gate:           gate,
		RBAC:           rbac.NewHandlers(roles),
		Audit:          auditDB,
		SignupThrottle: throttle,
		TrustedProxies: proxies,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API listening on %s", apiServer.Addr)
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.Infof("health and metrics listening on %s", healthServer.Addr)
		return listen(healthServer)
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.RecordDBStats(db.Stats())
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

// listen serves until shutdown; a clean shutdown is not an error
func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", srv.Addr, err)
	}
	return nil
}

// newThrottle uses Redis when configured so limits are shared between
// instances, and an in-process limiter otherwise
func newThrottle(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*redis.Client, authz.Throttle, error) {
	throttleCfg := middleware.ThrottleConfig{Attempts: cfg.Auth.LoginAttempts, Window: cfg.Auth.LoginWindow}

	if cfg.Redis.URL == "" {
		local := middleware.NewLocalThrottle(throttleCfg)
		local.StartCleanup(ctx, 5*time.Minute)
		logger.Info("using in-process login throttle")
		return nil, local, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, middleware.NewRedisThrottle(client, throttleCfg, "dealflow:throttle"), nil
}

// newWebhooks returns nil when billing is not configured so the webhook
// route is not mounted
func newWebhooks(cfg *config.Config, db *sql.DB, directory *orgs.Directory, source billing.SubscriptionSource,
	auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) api.WebhookHandler {
	if source == nil || cfg.Billing.WebhookSecret == "" {
		return nil
	}
	return billing.NewReconciler(billing.ReconcilerConfig{
		DB:            db,
		Orgs:          directory,
		Provider:      source,
		WebhookSecret: cfg.Billing.WebhookSecret,
		Tolerance:     cfg.Billing.WebhookTolerance,
		Audit:         auditLogger,
		Metrics:       metrics,
		Logger:        logger,
	})
}
