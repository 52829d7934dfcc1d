package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
)

var (
	_ ports.Repository = (*Repository)(nil)
	_ ports.Outbox     = (*Repository)(nil)
)

// Repository is an in-memory order and outbox persistence adapter.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	outbox []ports.OutboxMessage
	wake   chan struct{}
	now    func() time.Time
}

func NewRepository() *Repository {
	return &Repository{
		orders: map[string]*domain.Order{},
		wake:   make(chan struct{}, 1),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Wake fires after every Create that recorded outbox messages.
func (r *Repository) Wake() <-chan struct{} { return r.wake }

func (r *Repository) Create(_ context.Context, order *domain.Order, outbox ...ports.OutboxMessage) (*domain.Order, error) {
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
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = r.now()
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = clone.CreatedAt
	}

	r.mu.Lock()
	if _, exists := r.orders[clone.ID]; exists {
		r.mu.Unlock()
		return nil, errors.New("order already exists")
	}
	r.orders[clone.ID] = clone
	for _, msg := range outbox {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = clone.CreatedAt
		}
		msg.Payload = append([]byte(nil), msg.Payload...)
		r.outbox = append(r.outbox, msg)
	}
	r.mu.Unlock()

	if len(outbox) > 0 {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	return clone.Clone(), nil
}

func (r *Repository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *Repository) ListByCustomer(_ context.Context, customerID string) ([]*domain.Order, error) {
	return r.collect(func(o *domain.Order) bool { return o.CustomerID == customerID }), nil
}

func (r *Repository) List(_ context.Context) ([]*domain.Order, error) {
	return r.collect(func(*domain.Order) bool { return true }), nil
}

func (r *Repository) Transition(_ context.Context, id string, to domain.Status) (ports.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return ports.TransitionResult{}, ports.ErrNotFound
	}
	applied, err := order.Advance(to, r.now())
	if err != nil {
		return ports.TransitionResult{Order: order.Clone()}, err
	}
	return ports.TransitionResult{Order: order.Clone(), Applied: applied}, nil
}

func (r *Repository) Pending(_ context.Context, before time.Time, limit int) ([]ports.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []ports.OutboxMessage
	for _, msg := range r.outbox {
		if msg.SentAt != nil || msg.CreatedAt.After(before) {
			continue
		}
		pending = append(pending, msg)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *Repository) MarkSent(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			sentAt := at
			r.outbox[i].SentAt = &sentAt
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *Repository) PurgeSent(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.outbox[:0]
	var purged int64
	for _, msg := range r.outbox {
		if msg.SentAt != nil && msg.SentAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, msg)
	}
	r.outbox = kept
	return purged, nil
}

func (r *Repository) collect(keep func(*domain.Order) bool) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if keep(order) {
			list = append(list, order.Clone())
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}
