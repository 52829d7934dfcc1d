// Package contracts holds the wire format of the events exchanged by the
// fulfillment services. Every payload is JSON; the event kind is the topic.
package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
)

const (
	TopicOrderCreated       = "ORDER_CREATED"
	TopicPaymentSuccessful  = "PAYMENT_SUCCESSFUL"
	TopicDeliveryInProgress = "DELIVERY_IN_PROGRESS"
	TopicDeliveryCompleted  = "DELIVERY_COMPLETED"
)

// Status values carried by delivery events.
const (
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
)

// Topics lists every topic of the saga in flow order.
func Topics() []string {
	return []string{TopicOrderCreated, TopicPaymentSuccessful, TopicDeliveryInProgress, TopicDeliveryCompleted}
}

// DeliveryTopic returns the topic announcing status, if it is a delivery status.
func DeliveryTopic(status string) (string, bool) {
	switch status {
	case StatusOutForDelivery:
		return TopicDeliveryInProgress, true
	case StatusDelivered:
		return TopicDeliveryCompleted, true
	default:
		return "", false
	}
}

type LineItem struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

// OrderCreated is the full order snapshot emitted once per accepted submission.
type OrderCreated struct {
	OrderID      string          `json:"orderId"`
	CustomerID   string          `json:"customerId"`
	RestaurantID string          `json:"restaurantId"`
	Items        []LineItem      `json:"items"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	EmittedAt    time.Time       `json:"emittedAt"`
}

func (e OrderCreated) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("%w: orderId is required", messaging.ErrDeserialization)
	}
	return nil
}

type PaymentSuccessful struct {
	OrderID   string    `json:"orderId"`
	EmittedAt time.Time `json:"emittedAt"`
}

func (e PaymentSuccessful) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("%w: orderId is required", messaging.ErrDeserialization)
	}
	return nil
}

// DeliveryStatus is carried by both DELIVERY_IN_PROGRESS and DELIVERY_COMPLETED.
type DeliveryStatus struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	EmittedAt time.Time `json:"emittedAt"`
}

func (e DeliveryStatus) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("%w: orderId is required", messaging.ErrDeserialization)
	}
	if _, ok := DeliveryTopic(e.Status); !ok {
		return fmt.Errorf("%w: unknown delivery status %q", messaging.ErrDeserialization, e.Status)
	}
	return nil
}

// Event is implemented by every payload type.
type Event interface {
	OrderCreated | PaymentSuccessful | DeliveryStatus
	Validate() error
}

// Decode unmarshals body into T and validates it. Failures wrap messaging.ErrDeserialization.
func Decode[T Event](body []byte) (T, error) {
	var event T
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("%w: %w", messaging.ErrDeserialization, err)
	}
	if err := event.Validate(); err != nil {
		return event, err
	}
	return event, nil
}
