package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
)

// OutboxChannel is the NOTIFY channel signalled when outbox rows are committed.
const OutboxChannel = "order_outbox"

var (
	_ ports.Repository = (*Repository)(nil)
	_ ports.Outbox     = (*Repository)(nil)
)

// Repository persists orders and their outbox in PostgreSQL using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed repository. Caller manages the DB
// lifecycle; bootstrap.Database applies the schema at process start.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type lineItem struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

// orderRecord maps the order aggregate to a relational table.
type orderRecord struct {
	ID           string          `gorm:"primaryKey;column:id;type:uuid"`
	CustomerID   string          `gorm:"column:customer_id"`
	RestaurantID string          `gorm:"column:restaurant_id"`
	Items        []lineItem      `gorm:"column:items;type:jsonb;serializer:json"`
	TotalPrice   decimal.Decimal `gorm:"column:total_price;type:numeric(12,2)"`
	Status       string          `gorm:"column:status;type:varchar(32)"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (orderRecord) TableName() string { return "orders" }

type outboxRecord struct {
	ID        string     `gorm:"primaryKey;column:id;type:uuid"`
	Topic     string     `gorm:"column:topic"`
	Key       string     `gorm:"column:key"`
	Payload   []byte     `gorm:"column:payload"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	SentAt    *time.Time `gorm:"column:sent_at"`
}

func (outboxRecord) TableName() string { return "order_outbox" }

// Create inserts the order and its outbox rows in one transaction and notifies
// listeners on commit.
func (r *Repository) Create(ctx context.Context, order *domain.Order, outbox ...ports.OutboxMessage) (*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New("order is nil")
	}
	clone := order.Clone()
	if clone.Status == "" {
		clone.Status = domain.StatusPending
	}
	if err := clone.Validate(); err != nil {
		return nil, err
	}
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = clone.CreatedAt
	}

	record := toRecord(clone)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if len(outbox) == 0 {
			return nil
		}
		rows := make([]outboxRecord, 0, len(outbox))
		for _, msg := range outbox {
			rows = append(rows, toOutboxRecord(msg, clone.CreatedAt))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", OutboxChannel, clone.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

// GetByID fetches an order by identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ports.ErrNotFound
	}
	var record orderRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// ListByCustomer returns a customer's orders, newest first.
func (r *Repository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	return r.find(r.db.WithContext(ctx).Where("customer_id = ?", customerID))
}

// List returns all orders, newest first.
func (r *Repository) List(ctx context.Context) ([]*domain.Order, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	return r.find(r.db.WithContext(ctx))
}

// Transition locks the row, decides against the stored status and writes only
// when the requested status is the next stage.
func (r *Repository) Transition(ctx context.Context, id string, to domain.Status) (ports.TransitionResult, error) {
	if err := r.ensureDB(); err != nil {
		return ports.TransitionResult{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ports.TransitionResult{}, ports.ErrNotFound
	}
	var result ports.TransitionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record orderRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ports.ErrNotFound
			}
			return err
		}
		order := record.toDomain()
		applied, err := order.Advance(to, time.Now().UTC())
		result.Order = order
		if err != nil || !applied {
			return err
		}
		if err := tx.Model(&orderRecord{}).Where("id = ?", id).Updates(map[string]any{
			"status":     string(order.Status),
			"updated_at": order.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return ports.TransitionResult{Order: result.Order}, err
	}
	return result, nil
}

// Pending returns unsent outbox messages, oldest first.
func (r *Repository) Pending(ctx context.Context, before time.Time, limit int) ([]ports.OutboxMessage, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	query := r.db.WithContext(ctx).
		Where("sent_at IS NULL AND created_at <= ?", before).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []outboxRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	pending := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, row.toPort())
	}
	return pending, nil
}

// MarkSent stamps a message as published.
func (r *Repository) MarkSent(ctx context.Context, id string, at time.Time) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&outboxRecord{}).Where("id = ?", id).Update("sent_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// PurgeSent deletes messages published before the cutoff.
func (r *Repository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	if err := r.ensureDB(); err != nil {
		return 0, err
	}
	result := r.db.WithContext(ctx).Where("sent_at IS NOT NULL AND sent_at < ?", before).Delete(&outboxRecord{})
	return result.RowsAffected, result.Error
}

func (r *Repository) find(query *gorm.DB) ([]*domain.Order, error) {
	var records []orderRecord
	if err := query.Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(records))
	for i := range records {
		orders = append(orders, records[i].toDomain())
	}
	return orders, nil
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres order repository not configured")
	}
	return nil
}

func toRecord(order *domain.Order) orderRecord {
	items := make([]lineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItem{ItemName: item.ItemName, Quantity: item.Quantity})
	}
	return orderRecord{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		RestaurantID: order.RestaurantID,
		Items:        items,
		TotalPrice:   order.TotalPrice,
		Status:       string(order.Status),
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
}

func (r orderRecord) toDomain() *domain.Order {
	items := make([]domain.LineItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.LineItem{ItemName: item.ItemName, Quantity: item.Quantity})
	}
	return &domain.Order{
		ID:           r.ID,
		CustomerID:   r.CustomerID,
		RestaurantID: r.RestaurantID,
		Items:        items,
		TotalPrice:   r.TotalPrice,
		Status:       domain.Status(r.Status),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func toOutboxRecord(msg ports.OutboxMessage, fallback time.Time) outboxRecord {
	rec := outboxRecord{
		ID:        msg.ID,
		Topic:     msg.Topic,
		Key:       msg.Key,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt,
		SentAt:    msg.SentAt,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = fallback
	}
	return rec
}

func (r outboxRecord) toPort() ports.OutboxMessage {
	return ports.OutboxMessage{
		ID:        r.ID,
		Topic:     r.Topic,
		Key:       r.Key,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt.UTC(),
		SentAt:    r.SentAt,
	}
}
