package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

// Worker charges each created order once and announces the payment.
type Worker struct {
	ledger    ports.Ledger
	gateway   ports.Gateway
	publisher messaging.Publisher
	logger    *slog.Logger
	now       func() time.Time
	outcomes  metric.Int64Counter
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

func WithMeter(m metric.Meter) Option {
	return func(w *Worker) {
		if m != nil {
			w.outcomes, _ = m.Int64Counter("payments.worker.orders",
				metric.WithDescription("ORDER_CREATED events handled by outcome"))
		}
	}
}

func NewWorker(ledger ports.Ledger, gateway ports.Gateway, publisher messaging.Publisher, opts ...Option) *Worker {
	w := &Worker{
		ledger:    ledger,
		gateway:   gateway,
		publisher: publisher,
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

// Subscription consumes ORDER_CREATED from the queue of the same name.
func (w *Worker) Subscription() messaging.Subscription {
	return messaging.Subscription{
		Queue:   contracts.TopicOrderCreated,
		Topic:   contracts.TopicOrderCreated,
		Handler: w.HandleOrderCreated,
	}
}

// HandleOrderCreated charges the order unless the ledger already holds its
// charge, then publishes PAYMENT_SUCCESSFUL. The event is published again for
// an already charged order since an earlier attempt may have stopped short of it.
func (w *Worker) HandleOrderCreated(ctx context.Context, msg messaging.Message) error {
	event, err := contracts.Decode[contracts.OrderCreated](msg.Body)
	if err != nil {
		w.record(ctx, "malformed")
		w.logger.ErrorContext(ctx, "rejecting malformed order event",
			slog.String("queue", msg.Queue), slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		return messaging.Permanent(err)
	}
	log := w.logger.With(slog.String("order.id", event.OrderID))

	charge, err := w.ledger.Get(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("load charge for order %s: %w", event.OrderID, err)
	}
	if charge != nil {
		w.record(ctx, "duplicate")
		log.InfoContext(ctx, "order already charged, re-announcing payment", slog.String("charge.id", charge.ChargeID))
	} else {
		charge, err = w.charge(ctx, event)
		if err != nil {
			if errors.Is(err, ports.ErrChargeConflict) || errors.Is(err, ports.ErrDeclined) || errors.Is(err, domain.ErrInvalidCharge) {
				w.record(ctx, "rejected")
				log.ErrorContext(ctx, "payment rejected", slog.String("error", err.Error()))
				return messaging.Permanent(err)
			}
			w.record(ctx, "failed")
			return err
		}
		w.record(ctx, "charged")
		log.InfoContext(ctx, "payment captured",
			slog.String("charge.id", charge.ChargeID), slog.String("amount", charge.Amount.StringFixed(2)))
	}

	if err := messaging.PublishJSON(ctx, w.publisher, contracts.TopicPaymentSuccessful, contracts.PaymentSuccessful{
		OrderID:   event.OrderID,
		EmittedAt: w.now(),
	}); err != nil {
		return fmt.Errorf("publish %s for order %s: %w", contracts.TopicPaymentSuccessful, event.OrderID, err)
	}
	log.InfoContext(ctx, "payment announced", slog.String("topic", contracts.TopicPaymentSuccessful))
	return nil
}

func (w *Worker) charge(ctx context.Context, event contracts.OrderCreated) (*domain.Charge, error) {
	chargeID, err := w.gateway.Charge(ctx, ports.ChargeRequest{
		OrderID:        event.OrderID,
		CustomerID:     event.CustomerID,
		Amount:         event.TotalPrice,
		IdempotencyKey: event.OrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("charge order %s: %w", event.OrderID, err)
	}
	charge, err := domain.NewCharge(event.OrderID, chargeID, event.CustomerID, event.TotalPrice, w.now())
	if err != nil {
		return nil, err
	}
	saved, err := w.ledger.Record(ctx, *charge)
	if err != nil {
		return nil, fmt.Errorf("record charge for order %s: %w", event.OrderID, err)
	}
	return saved, nil
}

func (w *Worker) record(ctx context.Context, outcome string) {
	if w.outcomes != nil {
		w.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
