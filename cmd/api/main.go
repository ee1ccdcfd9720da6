package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"gymdesk/internal/attendance"
	"gymdesk/internal/clock"
	"gymdesk/internal/config"
	"gymdesk/internal/httpapi"
	"gymdesk/internal/logger"
	"gymdesk/internal/membership"
	"gymdesk/internal/observability"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
	"gymdesk/internal/reporting"
	"gymdesk/internal/staff"
	"gymdesk/internal/store/memory"
	"gymdesk/internal/store/postgres"
)

// backend is the storage surface the services are built on.
type backend struct {
	members  membership.Repository
	ledger   attendance.Repository
	plans    plans.Repository
	payments payments.Repository
	sources  reporting.Sources
	health   httpapi.Pinger
	close    func() error
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{
			DSN:                cfg.Postgres.DSN,
			MaxOpenConns:       cfg.Postgres.MaxOpenConns,
			MaxIdleConns:       cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:    cfg.Postgres.ConnMaxLifetime,
			Migrate:            cfg.Postgres.Migrate,
			BreakerMaxFailures: cfg.Postgres.BreakerMaxFailures,
			BreakerTimeout:     cfg.Postgres.BreakerTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &backend{
			members:  st.Members(),
			ledger:   st.Attendance(),
			plans:    st,
			payments: st,
			sources:  reporting.Sources{Sessions: st.Attendance(), Payments: st, Members: st.Members(), Events: st},
			health:   st,
			close:    st.Close,
		}, nil
	default:
		log.Warn("using the in-memory store; data is lost on restart")
		st := memory.New()
		return &backend{
			members:  st.Members(),
			ledger:   st.Attendance(),
			plans:    st,
			payments: st,
			sources:  reporting.Sources{Sessions: st.Attendance(), Payments: st, Members: st.Members(), Events: st},
			health:   st,
			close:    func() error { return nil },
		}, nil
	}
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gymdesk:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = be.close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	loc := cfg.Location()
	clk := clock.System{}
	tokens := staff.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clk)
	svc := httpapi.Services{
		Members:    membership.NewService(be.members, clk, loc, log.Named("membership"), metrics),
		Attendance: attendance.NewService(be.ledger, clk, loc, log.Named("attendance"), metrics),
		Plans:      plans.NewService(be.plans, clk, log.Named("plans")),
		Payments:   payments.NewService(be.payments, clk, log.Named("payments")),
		Reports:    reporting.NewService(be.sources, clk, loc, log.Named("reporting")),
		Staff:      staff.NewService(cfg.StaffAccounts(), tokens, cfg.Auth.LoginPerMinute, log.Named("staff")),
		Tokens:     tokens,
	}

	opts := httpapi.Options{
		Location:    loc,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      log.Named("http"),
		Metrics:     metrics,
		MetricsPath: cfg.Metrics.Path,
		Health:      be.health,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = reg
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.NewRouter(svc, opts),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("graceful shutdown complete")
	return nil
}
