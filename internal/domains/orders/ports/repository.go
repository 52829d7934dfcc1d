package ports

import (
	"context"
	"errors"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
)

var ErrNotFound = errors.New("order not found")

// TransitionResult reports the stored order after a transition attempt and
// whether the attempt changed it.
type TransitionResult struct {
	Order   *domain.Order
	Applied bool
}

// Repository persists orders and owns their status transitions.
type Repository interface {
	// Create stores a PENDING order together with its outbox messages in one atomic unit.
	// An empty order ID is assigned by the repository.
	Create(ctx context.Context, order *domain.Order, outbox ...OutboxMessage) (*domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// ListByCustomer returns the customer's orders, newest first.
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	// List returns every order, newest first.
	List(ctx context.Context) ([]*domain.Order, error)
	// Transition atomically advances the order to `to` when it is the next stage,
	// succeeds without change when the order is already at or beyond `to`, and
	// fails with domain.ErrInvalidTransition when `to` would skip a stage.
	Transition(ctx context.Context, id string, to domain.Status) (TransitionResult, error)
}

// OutboxMessage is an event recorded with the state change that produced it.
type OutboxMessage struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}

// Outbox exposes recorded messages to the relay that publishes them.
type Outbox interface {
	// Pending returns unsent messages created at or before `before`, oldest first.
	Pending(ctx context.Context, before time.Time, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// PurgeSent deletes messages sent before `before` and returns how many were removed.
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}
