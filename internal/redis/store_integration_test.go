//go:build integration

package redisclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/booking/bookingtest"
)

func TestStore_StoreSuite(t *testing.T) {
	bookingtest.RunStoreSuite(t, func(t *testing.T) bookingtest.Backend {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "6379/tcp")
		require.NoError(t, err)

		client, err := NewRedisClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", "")
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		retry := booking.RetryPolicy{Attempts: 50, BaseDelay: 2 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
		return NewStore(client, retry, zap.NewNop())
	})
}
