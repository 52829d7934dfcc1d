package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Apurer/order-fulfillment/internal/platform/migrations"
	platformpostgres "github.com/Apurer/order-fulfillment/internal/platform/postgres"
)

// Database connects to POSTGRES_DSN and applies the shared schema before any
// store touches it. A nil Conn with a nil error means the process runs on
// in-memory stores.
func Database(ctx context.Context, logger *slog.Logger) (*platformpostgres.Conn, func(), error) {
	conn, cleanup := platformpostgres.ConnectFromEnv(ctx, logger)
	if conn == nil {
		return nil, cleanup, nil
	}
	if err := migrations.Run(conn.DB.WithContext(ctx)); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to migrate database: %w", err)
	}
	if logger != nil {
		logger.Info("database schema up to date")
	}
	return conn, cleanup, nil
}
