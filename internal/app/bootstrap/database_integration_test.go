//go:build integration

package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDatabase_MigratesFreshDatabase(t *testing.T) {
	ctx := context.Background()
	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("fresh_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	t.Setenv("POSTGRES_DSN", dsn)

	// Services starting together all migrate the same fresh database.
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, cleanup, err := Database(ctx, nil)
			defer cleanup()
			if err == nil && conn == nil {
				err = errors.New("no connection")
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	conn, cleanup, err := Database(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, conn)
	defer cleanup()

	for _, table := range []string{"orders", "order_outbox", "payment_charges", "delivery_jobs"} {
		assert.True(t, conn.DB.Migrator().HasTable(table), table)
	}
}
