package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	deliverypostgres "github.com/Apurer/order-fulfillment/internal/domains/delivery/adapters/persistence/postgres"
	orderspostgres "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/persistence/postgres"
)

const defaultRetentionHours = 24

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	conn, cleanup, err := bootstrap.Database(ctx, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()
	if conn == nil {
		log.Fatal("POSTGRES_DSN not set or connection failed; cannot purge outbox")
	}

	hours, err := bootstrap.PositiveInt("OUTBOX_RETENTION_HOURS", defaultRetentionHours)
	if err != nil {
		log.Fatal(err)
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	sent, err := orderspostgres.NewRepository(conn.DB).PurgeSent(ctx, cutoff)
	if err != nil {
		log.Fatalf("failed to purge outbox: %v", err)
	}
	jobs, err := deliverypostgres.NewJobStore(conn.DB).PurgeCompleted(ctx, cutoff)
	if err != nil {
		log.Fatalf("failed to purge delivery jobs: %v", err)
	}
	logger.Info("outbox purge completed", slog.Int64("outbox_rows", sent), slog.Int64("delivery_jobs", jobs), slog.Time("cutoff", cutoff))
}
