package memory

import (
	"context"
	"sync"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
)

var _ ports.Ledger = (*Ledger)(nil)

// Ledger provides an in-memory charge ledger for development and tests.
type Ledger struct {
	mu      sync.RWMutex
	charges map[string]domain.Charge
}

func NewLedger() *Ledger {
	return &Ledger{charges: map[string]domain.Charge{}}
}

func (l *Ledger) Get(_ context.Context, orderID string) (*domain.Charge, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	charge, ok := l.charges[orderID]
	if !ok {
		return nil, nil
	}
	return &charge, nil
}

func (l *Ledger) Record(_ context.Context, charge domain.Charge) (*domain.Charge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.charges[charge.OrderID]; ok {
		if !existing.SameAs(charge) {
			return &existing, ports.ErrChargeConflict
		}
		return &existing, nil
	}
	l.charges[charge.OrderID] = charge
	saved := charge
	return &saved, nil
}

// Len returns how many orders have been charged.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.charges)
}
