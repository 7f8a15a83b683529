package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/metrics"
)

type RouterConfig struct {
	Service BookingService
	Search  AppointmentFinder
	Retry   booking.RetryPolicy // caller side retry of conflicts
	Checks  []Check
	Metrics *metrics.Collector
	Log     *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/appointments", createAppointmentHandler(cfg.Service, cfg.Retry))
	r.Get("/appointments", listAppointmentsHandler(cfg.Search))
	r.Get("/slots/{doctorID}/{date}/{startTime}", slotStatusHandler(cfg.Service))

	return r
}
