package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
)

func newOrder(t *testing.T, customer string, at time.Time) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(customer, "r-1", []domain.LineItem{{ItemName: "pasta", Quantity: 1}}, decimal.NewFromInt(12))
	require.NoError(t, err)
	order.CreatedAt = at
	order.UpdatedAt = at
	return order
}

func TestRepository_CreateStoresOrderAndOutbox(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	saved, err := repo.Create(ctx, newOrder(t, "u-1", now), ports.OutboxMessage{Topic: "ORDER_CREATED", Key: "k", Payload: []byte(`{}`), CreatedAt: now})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, domain.StatusPending, saved.Status)

	select {
	case <-repo.Wake():
	default:
		t.Fatal("expected wakeup after create with outbox")
	}

	pending, err := repo.Pending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].ID)

	require.NoError(t, repo.MarkSent(ctx, pending[0].ID, now))
	pending, err = repo.Pending(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	purged, err := repo.PurgeSent(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestRepository_ListsNewestFirst(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, customer := range []string{"u-1", "u-2", "u-1"} {
		_, err := repo.Create(ctx, newOrder(t, customer, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	mine, err := repo.ListByCustomer(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.True(t, mine[0].CreatedAt.After(mine[1].CreatedAt))

	none, err := repo.ListByCustomer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_TransitionFollowsLifecycle(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	saved, err := repo.Create(ctx, newOrder(t, "u-1", time.Now()))
	require.NoError(t, err)

	_, err = repo.Transition(ctx, saved.ID, domain.StatusOutForDelivery)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	res, err := repo.Transition(ctx, saved.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	res, err = repo.Transition(ctx, saved.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.StatusConfirmed, res.Order.Status)

	_, err = repo.Transition(ctx, "missing", domain.StatusConfirmed)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_ConcurrentTransitionsApplyOnce(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	saved, err := repo.Create(ctx, newOrder(t, "u-1", time.Now()))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.Transition(ctx, saved.ID, domain.StatusConfirmed)
			if err == nil && res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
}

func TestRepository_ReturnsCopies(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	saved, err := repo.Create(ctx, newOrder(t, "u-1", time.Now()))
	require.NoError(t, err)

	saved.Status = domain.StatusDelivered
	saved.Items[0].ItemName = "changed"

	fetched, err := repo.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, fetched.Status)
	assert.Equal(t, "pasta", fetched.Items[0].ItemName)
}
