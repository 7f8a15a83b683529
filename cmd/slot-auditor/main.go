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

	"github.com/hackgods/slot-booking/internal/backend"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/metrics"
)

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

	log.Info("slot-auditor starting up",
		zap.String("env", cfg.Env),
		zap.String("backend", cfg.StoreBackend),
		zap.Duration("interval", cfg.AuditInterval.Std()))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := backend.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal("open backend", zap.Error(err))
	}
	defer be.Close()
	if !be.Shared() {
		log.Fatal("the memory backend is private to one process; audit postgres or redis")
	}

	m := metrics.NewCollector("slot_booking")
	srv := &http.Server{
		Addr:              ":" + cfg.AuditorPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	auditor := booking.NewAuditor(be.Store, be.Store, log.Named("auditor"), m)

	// Run once at startup
	runOnce(rootCtx, auditor, log)

	ticker := time.NewTicker(cfg.AuditInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping slot auditor")
			return
		case <-ticker.C:
			runOnce(rootCtx, auditor, log)
		}
	}
}

func runOnce(ctx context.Context, auditor *booking.Auditor, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	start := time.Now()
	violations, err := auditor.Run(runCtx)
	if err != nil {
		log.Error("audit run error", zap.Error(err))
		return
	}
	log.Info("audit run complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("violations", len(violations)))
}
