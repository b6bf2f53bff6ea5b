package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"

	"concierge/internal/docstore"
)

// TestRepositoriesPostgres runs the suite against a throwaway Postgres for
// both drivers. It needs Docker and CONCIERGE_PG_TESTS=1.
func TestRepositoriesPostgres(t *testing.T) {
	if os.Getenv("CONCIERGE_PG_TESTS") != "1" {
		t.Skip("set CONCIERGE_PG_TESTS=1 to run Postgres integration tests")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("concierge"),
		postgres.WithUsername("concierge"),
		postgres.WithPassword("concierge"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	for _, driver := range []string{docstore.DriverPgx, docstore.DriverPq} {
		t.Run(driver, func(t *testing.T) {
			runRepositorySuite(t, func(t *testing.T) *docstore.Client {
				c, err := docstore.Open(ctx, docstore.Options{
					Driver:         driver,
					DSN:            dsn,
					MaxOpenConns:   8,
					AcquireTimeout: 10 * time.Second,
					PingTimeout:    30 * time.Second,
				}, zaptest.NewLogger(t))
				require.NoError(t, err)
				t.Cleanup(func() { _ = c.Close() })
				require.NoError(t, c.Migrate(ctx))
				_, err = c.DB().ExecContext(ctx, `TRUNCATE entities CASCADE`)
				require.NoError(t, err)
				return c
			})
		})
	}
}
