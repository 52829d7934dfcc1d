package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidCharge = errors.New("invalid charge")

// Charge records a captured payment. There is at most one per order.
type Charge struct {
	OrderID    string
	ChargeID   string
	CustomerID string
	Amount     decimal.Decimal
	ChargedAt  time.Time
}

// NewCharge validates the receipt of a captured payment.
func NewCharge(orderID, chargeID, customerID string, amount decimal.Decimal, at time.Time) (*Charge, error) {
	c := &Charge{
		OrderID:    strings.TrimSpace(orderID),
		ChargeID:   strings.TrimSpace(chargeID),
		CustomerID: strings.TrimSpace(customerID),
		Amount:     amount,
		ChargedAt:  at,
	}
	switch {
	case c.OrderID == "":
		return nil, errors.Join(ErrInvalidCharge, errors.New("order id is required"))
	case c.ChargeID == "":
		return nil, errors.Join(ErrInvalidCharge, errors.New("charge id is required"))
	case c.Amount.IsNegative():
		return nil, errors.Join(ErrInvalidCharge, errors.New("amount must not be negative"))
	}
	return c, nil
}

// SameAs reports whether other describes the same payment.
func (c Charge) SameAs(other Charge) bool {
	return c.OrderID == other.OrderID && c.Amount.Equal(other.Amount)
}
