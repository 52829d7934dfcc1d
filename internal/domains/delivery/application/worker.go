package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/delivery/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

// Worker turns payment events into scheduled delivery timelines. A payment is
// acknowledged as soon as its timeline is durably scheduled, so the consumer
// never holds a delivery for the length of the timeline.
type Worker struct {
	scheduler ports.Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(scheduler ports.Scheduler, opts ...Option) *Worker {
	w := &Worker{
		scheduler: scheduler,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Subscription consumes PAYMENT_SUCCESSFUL from the queue of the same name.
func (w *Worker) Subscription() messaging.Subscription {
	return messaging.Subscription{
		Queue:   contracts.TopicPaymentSuccessful,
		Topic:   contracts.TopicPaymentSuccessful,
		Handler: w.HandlePaymentSuccessful,
	}
}

func (w *Worker) HandlePaymentSuccessful(ctx context.Context, msg messaging.Message) error {
	event, err := contracts.Decode[contracts.PaymentSuccessful](msg.Body)
	if err != nil {
		w.logger.ErrorContext(ctx, "rejecting malformed payment event",
			slog.String("queue", msg.Queue), slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		return messaging.Permanent(err)
	}
	if err := w.scheduler.Schedule(ctx, event.OrderID, w.now()); err != nil {
		return fmt.Errorf("schedule delivery for order %s: %w", event.OrderID, err)
	}
	w.logger.InfoContext(ctx, "delivery scheduled", slog.String("order.id", event.OrderID))
	return nil
}
