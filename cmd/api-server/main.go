package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/backend"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/seed"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("backend", cfg.StoreBackend),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	be, err := backend.Open(rootCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.StoreBackend, err)
	}
	defer be.Close()

	// The memory store starts empty and nothing else can reach it.
	if !be.Shared() {
		if err := seedDemo(rootCtx, be.Store, log); err != nil {
			return err
		}
	}

	m := metrics.NewCollector("slot_booking")
	svc := booking.NewService(be.Store, be.Store, clock.New(loc), log.Named("booking"),
		booking.WithMetrics(m),
		booking.WithTxTimeout(cfg.TxTimeout.Std()))

	var checks []api.Check
	if be.Ping != nil {
		checks = append(checks, api.Check{Name: be.Name, Critical: true, Probe: be.Ping})
	}

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Search:  booking.NewSearch(be.Store, log.Named("search")),
		Retry: booking.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: 25 * time.Millisecond,
			MaxDelay:  500 * time.Millisecond,
			Log:       log,
		},
		Checks:  checks,
		Metrics: m,
		Log:     log.Named("http"),
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout.Std()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func seedDemo(ctx context.Context, w booking.DirectoryWriter, log *zap.Logger) error {
	s := seed.New(w, nil, log)
	for i := 0; i < 3; i++ {
		d, err := s.Doctor(ctx, s.Schedule(5))
		if err != nil {
			return err
		}
		log.Info("demo doctor", zap.String("id", d.ID.String()), zap.String("name", d.Name), zap.Any("schedule", d.Schedule))
	}
	for i := 0; i < 5; i++ {
		p, err := s.Patient(ctx)
		if err != nil {
			return err
		}
		log.Info("demo patient", zap.String("id", p.ID.String()), zap.String("name", p.Name))
	}
	return nil
}
