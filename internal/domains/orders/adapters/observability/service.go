package observability

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/application"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
)

const tracerName = "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/observability/service"

// Service decorates the orders service with tracing, logging, and metrics.
type Service struct {
	inner   ports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wraps the core orders service.
func New(inner ports.Service, opts ...Option) ports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  slog.Default(),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return s
}

func (s *Service) SubmitOrder(ctx context.Context, input ports.SubmitOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.SubmitOrder",
		trace.WithAttributes(attribute.String("order.customer_id", input.CustomerID), attribute.Int("order.items", len(input.Items))))
	defer span.End()

	result, err := s.inner.SubmitOrder(ctx, input)
	if err != nil {
		s.metrics.recordRejected(ctx, err)
		return nil, s.handleError(ctx, span, err, "failed to submit order", slog.String("order.customer_id", input.CustomerID))
	}
	span.SetAttributes(attribute.String("order.id", result.ID))
	s.metrics.recordSubmitted(ctx)
	s.logInfo(ctx, "order submitted",
		slog.String("order.id", result.ID),
		slog.String("order.customer_id", result.CustomerID),
		slog.String("order.total_price", result.TotalPrice.StringFixed(2)))
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	result, err := s.inner.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			span.SetAttributes(attribute.Bool("order.found", false))
			return nil, err
		}
		return nil, s.handleError(ctx, span, err, "failed to load order", slog.String("order.id", id))
	}
	span.SetAttributes(attribute.String("order.status", string(result.Status)))
	return result, nil
}

func (s *Service) ListOrders(ctx context.Context, customerID string) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders", trace.WithAttributes(attribute.String("order.customer_id", customerID)))
	defer span.End()

	result, err := s.inner.ListOrders(ctx, customerID)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list customer orders", slog.String("order.customer_id", customerID))
	}
	span.SetAttributes(attribute.Int("order.count", len(result)))
	return result, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListAll")
	defer span.End()

	result, err := s.inner.ListAll(ctx)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list orders")
	}
	span.SetAttributes(attribute.Int("order.count", len(result)))
	return result, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.logger != nil {
		level := slog.LevelError
		if errors.Is(err, application.ErrInvalidInput) {
			level = slog.LevelWarn
		}
		attrs = append(attrs, slog.String("error", err.Error()))
		s.logger.LogAttrs(ctx, level, msg, attrs...)
	}
	return err
}

type serviceMetrics struct {
	ordersSubmitted metric.Int64Counter
	ordersRejected  metric.Int64Counter
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	submitted, _ := m.Int64Counter("orders.service.orders_submitted", metric.WithDescription("Number of orders accepted"))
	rejected, _ := m.Int64Counter("orders.service.orders_rejected", metric.WithDescription("Number of order submissions that failed"))
	return serviceMetrics{ordersSubmitted: submitted, ordersRejected: rejected}
}

func (m serviceMetrics) recordSubmitted(ctx context.Context) {
	if m.ordersSubmitted != nil {
		m.ordersSubmitted.Add(ctx, 1)
	}
}

func (m serviceMetrics) recordRejected(ctx context.Context, err error) {
	if m.ordersRejected != nil {
		m.ordersRejected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("invalid_input", errors.Is(err, application.ErrInvalidInput))))
	}
}

var _ ports.Service = (*Service)(nil)
