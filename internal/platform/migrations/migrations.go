package migrations

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const schemaLockKey int64 = 0x0f01f11e

// Run applies the schema shared by the fulfillment services. Every process runs
// it once at startup through bootstrap.Database; adapters never automigrate.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		// Services booting together serialize on the lock instead of racing CREATE TABLE.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", schemaLockKey).Error; err != nil {
			return err
		}
		return tx.AutoMigrate(
			&orderRecord{},
			&outboxRecord{},
			&chargeRecord{},
			&deliveryJobRecord{},
		)
	})
}

type lineItem struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

// Order schema mirrors the orders Postgres adapter.
type orderRecord struct {
	ID           string          `gorm:"primaryKey;column:id;type:uuid"`
	CustomerID   string          `gorm:"column:customer_id;not null;index:idx_orders_customer_created,priority:1"`
	RestaurantID string          `gorm:"column:restaurant_id"`
	Items        []lineItem      `gorm:"column:items;type:jsonb;serializer:json"`
	TotalPrice   decimal.Decimal `gorm:"column:total_price;type:numeric(12,2)"`
	Status       string          `gorm:"column:status;type:varchar(32);not null;index"`
	CreatedAt    time.Time       `gorm:"column:created_at;index;index:idx_orders_customer_created,priority:2,sort:desc"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (orderRecord) TableName() string { return "orders" }

// Outbox schema mirrors the orders outbox adapter.
type outboxRecord struct {
	ID        string     `gorm:"primaryKey;column:id;type:uuid"`
	Topic     string     `gorm:"column:topic;type:varchar(64);not null"`
	Key       string     `gorm:"column:key;index"`
	Payload   []byte     `gorm:"column:payload;type:bytea;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;index:idx_order_outbox_pending,priority:2"`
	SentAt    *time.Time `gorm:"column:sent_at;index:idx_order_outbox_pending,priority:1"`
}

func (outboxRecord) TableName() string { return "order_outbox" }

// Charge schema mirrors the payments ledger.
type chargeRecord struct {
	OrderID    string          `gorm:"primaryKey;column:order_id;size:64"`
	ChargeID   string          `gorm:"column:charge_id;size:128"`
	CustomerID string          `gorm:"column:customer_id"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(12,2)"`
	ChargedAt  time.Time       `gorm:"column:charged_at"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (chargeRecord) TableName() string { return "payment_charges" }

// Delivery job schema mirrors the delivery job store.
type deliveryJobRecord struct {
	OrderID     string     `gorm:"primaryKey;column:order_id;size:64"`
	Stage       int        `gorm:"primaryKey;column:stage"`
	Status      string     `gorm:"column:status;type:varchar(32)"`
	DueAt       time.Time  `gorm:"column:due_at;index:idx_delivery_jobs_due,priority:2"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   string     `gorm:"column:last_error"`
	PublishedAt *time.Time `gorm:"column:published_at;index:idx_delivery_jobs_due,priority:1"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (deliveryJobRecord) TableName() string { return "delivery_jobs" }
