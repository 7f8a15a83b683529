package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/backend"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/seed"
)

type seedConfig struct {
	Doctors     int `envconfig:"DOCTORS" default:"100"`
	Patients    int `envconfig:"PATIENTS" default:"9000"`
	MaxCapacity int `envconfig:"MAX_CAPACITY" default:"10"`
}

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

	var opts seedConfig
	if err := envconfig.Process("seed", &opts); err != nil {
		log.Fatal("seed config", zap.Error(err))
	}

	log.Info("seed starting", zap.String("backend", cfg.StoreBackend))

	ctx := context.Background()
	be, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open backend", zap.Error(err))
	}
	defer be.Close()

	if !be.Shared() {
		log.Fatal("seeding the memory backend has no effect; use postgres or redis")
	}

	res, err := seed.New(be.Store, nil, log).Run(ctx, seed.Options{
		Doctors:     opts.Doctors,
		Patients:    opts.Patients,
		MaxCapacity: opts.MaxCapacity,
	})
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	log.Info("seed complete", zap.Int("doctors", len(res.Doctors)), zap.Int("patients", len(res.Patients)))
}
