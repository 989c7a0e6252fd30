//go:build integration

package leaselock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/OFFIS-RIT/compass/backend/internal/db"
)

func TestLockerPostgres(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "compass",
				"POSTGRES_PASSWORD": "compass",
				"POSTGRES_DB":       "compass",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	url := fmt.Sprintf("postgres://compass:compass@%s:%s/compass?sslmode=disable", host, port.Port())
	require.NoError(t, db.Migrate("../../migrations/postgres", url))

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	a := New(pool, Options{TTL: time.Minute, TokenPrefix: "a-"})
	b := New(pool, Options{TTL: time.Minute, TokenPrefix: "b-"})

	lease, err := a.Acquire(ctx, "compass:pipeline")
	require.NoError(t, err)
	_, err = b.Acquire(ctx, "compass:pipeline")
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, b.WithLease(ctx, "compass:pipeline", func(context.Context) error { return nil }))

	var n int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM job_locks").Scan(&n))
	assert.Equal(t, 0, n)
}
