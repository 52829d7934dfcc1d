package mapper

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
)

type LineItem struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

// CreateOrder is the submission body. CustomerID is accepted as an alias of UserID.
type CreateOrder struct {
	UserID       string           `json:"userId"`
	CustomerID   string           `json:"customerId,omitempty"`
	RestaurantID string           `json:"restaurantId"`
	Items        []LineItem       `json:"items"`
	TotalPrice   *decimal.Decimal `json:"totalPrice"`
}

// Order is the transport representation of the aggregate.
type Order struct {
	ID           string          `json:"orderId"`
	UserID       string          `json:"userId"`
	RestaurantID string          `json:"restaurantId"`
	Items        []LineItem      `json:"items"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ToSubmitInput converts a request body into the service input. A missing
// totalPrice is reported as a field error.
func ToSubmitInput(body CreateOrder) (ports.SubmitOrderInput, map[string]string) {
	customer := strings.TrimSpace(body.UserID)
	if customer == "" {
		customer = strings.TrimSpace(body.CustomerID)
	}
	items := make([]domain.LineItem, 0, len(body.Items))
	for _, item := range body.Items {
		items = append(items, domain.LineItem{ItemName: item.ItemName, Quantity: item.Quantity})
	}
	input := ports.SubmitOrderInput{
		CustomerID:   customer,
		RestaurantID: body.RestaurantID,
		Items:        items,
	}
	if body.TotalPrice == nil {
		return input, map[string]string{"totalPrice": "is required"}
	}
	input.TotalPrice = *body.TotalPrice
	return input, nil
}

func FromDomainOrder(order *domain.Order) Order {
	if order == nil {
		return Order{}
	}
	items := make([]LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItem{ItemName: item.ItemName, Quantity: item.Quantity})
	}
	return Order{
		ID:           order.ID,
		UserID:       order.CustomerID,
		RestaurantID: order.RestaurantID,
		Items:        items,
		TotalPrice:   order.TotalPrice,
		Status:       string(order.Status),
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
}

func FromDomainOrders(orders []*domain.Order) []Order {
	list := make([]Order, 0, len(orders))
	for _, order := range orders {
		list = append(list, FromDomainOrder(order))
	}
	return list
}
