package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
	platformpostgres "github.com/Apurer/order-fulfillment/internal/platform/postgres"
)

var _ ports.Ledger = (*Ledger)(nil)

// Ledger persists captured charges in PostgreSQL.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Get loads the charge for an order, returning nil when absent.
func (l *Ledger) Get(ctx context.Context, orderID string) (*domain.Charge, error) {
	if err := l.ensureDB(); err != nil {
		return nil, err
	}
	var record chargeRecord
	if err := l.db.WithContext(ctx).First(&record, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// Record inserts the charge; an existing row for the order is returned when it
// matches, otherwise ErrChargeConflict is returned with the stored charge.
func (l *Ledger) Record(ctx context.Context, charge domain.Charge) (*domain.Charge, error) {
	if err := l.ensureDB(); err != nil {
		return nil, err
	}
	record := toRecord(charge)
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		if !platformpostgres.IsUniqueViolation(err) {
			return nil, err
		}
		existing, getErr := l.Get(ctx, charge.OrderID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, err
		}
		if !existing.SameAs(charge) {
			return existing, ports.ErrChargeConflict
		}
		return existing, nil
	}
	return record.toDomain(), nil
}

func (l *Ledger) ensureDB() error {
	if l == nil || l.db == nil {
		return errors.New("postgres payment ledger not configured")
	}
	return nil
}

type chargeRecord struct {
	OrderID    string          `gorm:"primaryKey;column:order_id;size:64"`
	ChargeID   string          `gorm:"column:charge_id;size:128"`
	CustomerID string          `gorm:"column:customer_id"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(12,2)"`
	ChargedAt  time.Time       `gorm:"column:charged_at"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (chargeRecord) TableName() string { return "payment_charges" }

func toRecord(c domain.Charge) chargeRecord {
	return chargeRecord{
		OrderID:    c.OrderID,
		ChargeID:   c.ChargeID,
		CustomerID: c.CustomerID,
		Amount:     c.Amount,
		ChargedAt:  c.ChargedAt,
	}
}

func (r chargeRecord) toDomain() *domain.Charge {
	return &domain.Charge{
		OrderID:    r.OrderID,
		ChargeID:   r.ChargeID,
		CustomerID: r.CustomerID,
		Amount:     r.Amount,
		ChargedAt:  r.ChargedAt.UTC(),
	}
}
