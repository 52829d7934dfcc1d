package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("order validation failed")

// ValidationError lists the offending fields of a submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type LineItem struct {
	ItemName string
	Quantity int
}

// Order is the aggregate tracked through the fulfillment saga.
type Order struct {
	ID           string
	CustomerID   string
	RestaurantID string
	Items        []LineItem
	TotalPrice   decimal.Decimal
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrder validates a submission and returns a PENDING order without an ID.
func NewOrder(customerID, restaurantID string, items []LineItem, totalPrice decimal.Decimal) (*Order, error) {
	order := &Order{
		CustomerID:   strings.TrimSpace(customerID),
		RestaurantID: strings.TrimSpace(restaurantID),
		Items:        append([]LineItem(nil), items...),
		TotalPrice:   totalPrice,
		Status:       StatusPending,
	}
	for i := range order.Items {
		order.Items[i].ItemName = strings.TrimSpace(order.Items[i].ItemName)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// Validate enforces invariants on the aggregate.
func (o *Order) Validate() error {
	fields := map[string]string{}
	if o.CustomerID == "" {
		fields["customerId"] = "is required"
	}
	if len(o.Items) == 0 {
		fields["items"] = "must contain at least one line item"
	}
	for i, item := range o.Items {
		if item.ItemName == "" {
			fields[fmt.Sprintf("items[%d].itemName", i)] = "is required"
		}
		if item.Quantity < 1 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be at least 1"
		}
	}
	if o.TotalPrice.IsNegative() {
		fields["totalPrice"] = "must not be negative"
	}
	if o.Status != "" && !o.Status.Valid() {
		fields["status"] = "is invalid"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Advance moves the order to target when it is the next stage. It reports
// whether anything changed; an order already at or beyond target is left as is.
func (o *Order) Advance(target Status, at time.Time) (bool, error) {
	decision, err := Decide(o.Status, target)
	if err != nil {
		return false, err
	}
	if decision != Apply {
		return false, nil
	}
	o.Status = target
	o.UpdatedAt = at
	return true, nil
}

// Clone returns a deep copy safe to hand out of a repository.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	return &clone
}
