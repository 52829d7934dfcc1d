package ports

import (
	"context"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
)

// Scheduler durably records that an order's delivery timeline must run. It
// returns only once the schedule survives a process restart. Scheduling the
// same order again has no effect.
type Scheduler interface {
	Schedule(ctx context.Context, orderID string, receivedAt time.Time) error
}

// JobStore persists the stage jobs driven by the polling scheduler.
type JobStore interface {
	// Enqueue stores the jobs unless the order already has them and reports whether anything was stored.
	Enqueue(ctx context.Context, jobs ...domain.Job) (bool, error)
	// Due returns unpublished jobs due at or before now whose previous stage is published, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	MarkPublished(ctx context.Context, orderID string, stage int, at time.Time) error
	// MarkFailed records a failed attempt and postpones the job to retryAt.
	MarkFailed(ctx context.Context, orderID string, stage int, reason string, retryAt time.Time) error
	// PurgeCompleted deletes the jobs of orders whose final stage was published before the cutoff.
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}
