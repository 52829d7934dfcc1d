package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
)

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

// Relay publishes outbox messages in creation order and marks them sent. A
// crash between publish and mark re-publishes the message, which consumers
// absorb through idempotent handling.
type Relay struct {
	outbox    ports.Outbox
	publisher messaging.Publisher
	logger    *slog.Logger
	interval  time.Duration
	batch     int
	wake      <-chan struct{}
	now       func() time.Time
}

type RelayOption func(*Relay)

// WithRelayInterval sets how often pending messages are swept.
func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRelayBatch caps how many messages one sweep loads at a time.
func WithRelayBatch(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithWakeup triggers an immediate sweep whenever ch receives.
func WithWakeup(ch <-chan struct{}) RelayOption {
	return func(r *Relay) { r.wake = ch }
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRelay(outbox ports.Outbox, publisher messaging.Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  defaultRelayInterval,
		batch:     defaultRelayBatch,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run sweeps the outbox on every tick or wakeup until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush publishes every pending message and returns how many were sent.
// It stops at the first publish failure so ordering is preserved.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	sent := 0
	for {
		pending, err := r.outbox.Pending(ctx, r.now(), r.batch)
		if err != nil {
			return sent, fmt.Errorf("load pending outbox: %w", err)
		}
		for _, msg := range pending {
			if err := r.publisher.Publish(ctx, msg.Topic, msg.Payload); err != nil {
				return sent, fmt.Errorf("publish outbox message %s: %w", msg.ID, err)
			}
			if err := r.outbox.MarkSent(ctx, msg.ID, r.now()); err != nil {
				return sent, fmt.Errorf("mark outbox message %s sent: %w", msg.ID, err)
			}
			sent++
			r.logger.Info("outbox message published",
				slog.String("topic", msg.Topic),
				slog.String("order.id", msg.Key),
				slog.String("outbox.id", msg.ID))
		}
		if len(pending) < r.batch {
			return sent, nil
		}
	}
}
