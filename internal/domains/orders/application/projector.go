package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

// ProjectorSubscriber names the order service's subscription queues.
const ProjectorSubscriber = "order-service"

const (
	defaultMaxDeferrals = 3
	defaultDeferDelay   = time.Second
)

// Projector applies payment and delivery events to the order store. It is the
// only writer of order status.
type Projector struct {
	repo         ports.Repository
	logger       *slog.Logger
	maxDeferrals int
	deferDelay   time.Duration
	applied      metric.Int64Counter

	mu        sync.Mutex
	deferrals map[string]int
}

type ProjectorOption func(*Projector)

func WithProjectorLogger(logger *slog.Logger) ProjectorOption {
	return func(p *Projector) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDeferral sets how often an out-of-order event is handed back to the
// broker, and the pause before each hand-back, before it is dead-lettered.
func WithDeferral(maxDeferrals int, delay time.Duration) ProjectorOption {
	return func(p *Projector) {
		if maxDeferrals >= 0 {
			p.maxDeferrals = maxDeferrals
		}
		if delay >= 0 {
			p.deferDelay = delay
		}
	}
}

func WithProjectorMeter(m metric.Meter) ProjectorOption {
	return func(p *Projector) {
		if m != nil {
			p.applied, _ = m.Int64Counter("orders.projector.transitions",
				metric.WithDescription("Order status transitions handled by the projector"))
		}
	}
}

func NewProjector(repo ports.Repository, opts ...ProjectorOption) *Projector {
	p := &Projector{
		repo:         repo,
		logger:       slog.Default(),
		maxDeferrals: defaultMaxDeferrals,
		deferDelay:   defaultDeferDelay,
		deferrals:    map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Subscriptions lists the queues the projector consumes. Payment events reach
// the projector through its own queue so the delivery worker sees them too.
func (p *Projector) Subscriptions() []messaging.Subscription {
	return []messaging.Subscription{
		{
			Queue:   messaging.SubscriptionQueue(contracts.TopicPaymentSuccessful, ProjectorSubscriber),
			Topic:   contracts.TopicPaymentSuccessful,
			Handler: p.HandlePaymentSuccessful,
		},
		{
			Queue:   contracts.TopicDeliveryInProgress,
			Topic:   contracts.TopicDeliveryInProgress,
			Handler: p.HandleDeliveryUpdate(contracts.TopicDeliveryInProgress),
		},
		{
			Queue:   contracts.TopicDeliveryCompleted,
			Topic:   contracts.TopicDeliveryCompleted,
			Handler: p.HandleDeliveryUpdate(contracts.TopicDeliveryCompleted),
		},
	}
}

// HandlePaymentSuccessful confirms the paid order.
func (p *Projector) HandlePaymentSuccessful(ctx context.Context, msg messaging.Message) error {
	event, err := contracts.Decode[contracts.PaymentSuccessful](msg.Body)
	if err != nil {
		return p.reject(ctx, msg, "", err)
	}
	return p.apply(ctx, msg, event.OrderID, domain.StatusConfirmed)
}

// HandleDeliveryUpdate returns the handler for a delivery topic. The status in
// the payload must be the one the topic announces.
func (p *Projector) HandleDeliveryUpdate(topic string) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		event, err := contracts.Decode[contracts.DeliveryStatus](msg.Body)
		if err != nil {
			return p.reject(ctx, msg, "", err)
		}
		if expected, _ := contracts.DeliveryTopic(event.Status); expected != topic {
			err := fmt.Errorf("%w: status %s does not belong on %s", messaging.ErrDeserialization, event.Status, topic)
			return p.reject(ctx, msg, event.OrderID, err)
		}
		return p.apply(ctx, msg, event.OrderID, domain.Status(event.Status))
	}
}

func (p *Projector) apply(ctx context.Context, msg messaging.Message, orderID string, to domain.Status) error {
	key := deferralKey(msg, orderID, to)
	result, err := p.repo.Transition(ctx, orderID, to)
	switch {
	case err == nil:
		p.forget(key)
		p.record(ctx, to, result.Applied)
		current := to
		if result.Order != nil {
			current = result.Order.Status
		}
		if result.Applied {
			p.logger.InfoContext(ctx, "order status updated",
				slog.String("order.id", orderID), slog.String("status", string(current)), slog.String("queue", msg.Queue))
		} else {
			p.logger.InfoContext(ctx, "duplicate or stale event ignored",
				slog.String("order.id", orderID), slog.String("status", string(current)),
				slog.String("requested", string(to)), slog.String("queue", msg.Queue))
		}
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		if attempt, ok := p.deferral(key); ok {
			p.logger.WarnContext(ctx, "out-of-order event deferred",
				slog.String("order.id", orderID), slog.String("requested", string(to)),
				slog.Int("attempt", attempt), slog.String("queue", msg.Queue))
			p.pause(ctx)
			return fmt.Errorf("defer %s for order %s: %w", to, orderID, err)
		}
		return p.reject(ctx, msg, orderID, err)
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, domain.ErrInvalidStatus):
		p.forget(key)
		return p.reject(ctx, msg, orderID, err)
	default:
		return fmt.Errorf("transition order %s to %s: %w", orderID, to, err)
	}
}

func (p *Projector) reject(ctx context.Context, msg messaging.Message, orderID string, err error) error {
	p.logger.ErrorContext(ctx, "event rejected, routing to dead-letter queue",
		slog.String("order.id", orderID),
		slog.String("queue", msg.Queue),
		slog.String("message_id", msg.ID),
		slog.String("error", err.Error()))
	return messaging.Permanent(err)
}

// deferral counts an out-of-order delivery and reports whether it may still be retried.
func (p *Projector) deferral(key string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deferrals[key] >= p.maxDeferrals {
		delete(p.deferrals, key)
		return 0, false
	}
	p.deferrals[key]++
	return p.deferrals[key], true
}

func (p *Projector) forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.deferrals, key)
}

func (p *Projector) pause(ctx context.Context) {
	if p.deferDelay <= 0 {
		return
	}
	timer := time.NewTimer(p.deferDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (p *Projector) record(ctx context.Context, to domain.Status, applied bool) {
	if p.applied == nil {
		return
	}
	p.applied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.status", string(to)),
		attribute.Bool("applied", applied),
	))
}

// deferralKey identifies a delivery across redeliveries. Messages without an ID
// fall back to what they ask for.
func deferralKey(msg messaging.Message, orderID string, to domain.Status) string {
	if msg.ID != "" {
		return msg.ID
	}
	return msg.Queue + "/" + orderID + "/" + string(to)
}
