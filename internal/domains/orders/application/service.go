package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

// Service orchestrates order submission and queries. Submission records the
// ORDER_CREATED event in the outbox with the order; the Relay publishes it.
type Service struct {
	repo  ports.Repository
	now   func() time.Time
	newID func() string
}

type ServiceOption func(*Service)

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides order and message identifiers.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewService(repo ports.Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) SubmitOrder(ctx context.Context, input ports.SubmitOrderInput) (*domain.Order, error) {
	order, err := domain.NewOrder(input.CustomerID, input.RestaurantID, input.Items, input.TotalPrice)
	if err != nil {
		return nil, mapError(err)
	}
	now := s.now()
	order.ID = s.newID()
	order.CreatedAt = now
	order.UpdatedAt = now

	msg, err := s.orderCreatedMessage(order, now)
	if err != nil {
		return nil, err
	}
	saved, err := s.repo.Create(ctx, order, msg)
	if err != nil {
		return nil, mapError(err)
	}
	return saved, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ports.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, customerID string) ([]*domain.Order, error) {
	return s.repo.ListByCustomer(ctx, strings.TrimSpace(customerID))
}

func (s *Service) ListAll(ctx context.Context) ([]*domain.Order, error) {
	return s.repo.List(ctx)
}

func (s *Service) orderCreatedMessage(order *domain.Order, now time.Time) (ports.OutboxMessage, error) {
	items := make([]contracts.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, contracts.LineItem{ItemName: item.ItemName, Quantity: item.Quantity})
	}
	payload, err := json.Marshal(contracts.OrderCreated{
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		RestaurantID: order.RestaurantID,
		Items:        items,
		TotalPrice:   order.TotalPrice,
		Status:       string(order.Status),
		CreatedAt:    order.CreatedAt,
		EmittedAt:    now,
	})
	if err != nil {
		return ports.OutboxMessage{}, fmt.Errorf("encode %s: %w", contracts.TopicOrderCreated, err)
	}
	return ports.OutboxMessage{
		ID:        s.newID(),
		Topic:     contracts.TopicOrderCreated,
		Key:       order.ID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

var _ ports.Service = (*Service)(nil)
