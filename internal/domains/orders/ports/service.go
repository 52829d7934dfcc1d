package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
)

// SubmitOrderInput carries a new order as submitted by a customer.
type SubmitOrderInput struct {
	CustomerID   string
	RestaurantID string
	Items        []domain.LineItem
	TotalPrice   decimal.Decimal
}

// Service exposes order use cases to adapters.
type Service interface {
	SubmitOrder(ctx context.Context, input SubmitOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, customerID string) ([]*domain.Order, error)
	ListAll(ctx context.Context) ([]*domain.Order, error)
}
