package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/slot-booking/internal/api"
)

func probe(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestReadiness(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name   string
		checks []api.Check
		status int
		want   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all up", []api.Check{{Name: "postgres", Critical: true, Probe: probe(nil)}}, http.StatusOK, "ok"},
		{"critical down", []api.Check{{Name: "postgres", Critical: true, Probe: probe(down)}}, http.StatusServiceUnavailable, "error"},
		{"optional down", []api.Check{
			{Name: "postgres", Critical: true, Probe: probe(nil)},
			{Name: "redis", Probe: probe(down)},
		}, http.StatusOK, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := api.NewHealthHandler(tt.checks, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, decode[api.ReadinessResponse](t, rec).Status)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := api.NewRouter(api.RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
