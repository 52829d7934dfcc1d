package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/domain"
)

// ErrChargeConflict indicates an order was already charged a different amount.
var ErrChargeConflict = errors.New("charge conflict")

// ErrDeclined is returned by a Gateway that refused the charge outright.
var ErrDeclined = errors.New("payment declined")

// Ledger remembers which orders have been charged so redelivered events are not charged twice.
type Ledger interface {
	// Get returns the charge recorded for the order, or nil when unknown.
	Get(ctx context.Context, orderID string) (*domain.Charge, error)
	// Record persists the charge; if the order already has the same charge it is returned.
	// When the order was charged a different amount, ErrChargeConflict is returned with the stored charge.
	Record(ctx context.Context, charge domain.Charge) (*domain.Charge, error)
}

// ChargeRequest asks the gateway to capture a payment. IdempotencyKey makes
// repeated requests for the same order resolve to one capture.
type ChargeRequest struct {
	OrderID        string
	CustomerID     string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Gateway captures payments.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (chargeID string, err error)
}
