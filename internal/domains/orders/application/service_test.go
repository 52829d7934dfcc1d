package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/memory"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func validInput() ports.SubmitOrderInput {
	return ports.SubmitOrderInput{
		CustomerID:   "u-1",
		RestaurantID: "r-1",
		Items:        []domain.LineItem{{ItemName: "margherita", Quantity: 2}},
		TotalPrice:   decimal.RequireFromString("24.50"),
	}
}

type failingRepo struct {
	ports.Repository
	err error
}

func (f failingRepo) Create(context.Context, *domain.Order, ...ports.OutboxMessage) (*domain.Order, error) {
	return nil, f.err
}

func TestSubmitOrder_PersistsPendingOrderWithOutboxEvent(t *testing.T) {
	repo := memory.NewRepository()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(repo, WithClock(func() time.Time { return fixed }), WithIDGenerator(sequentialIDs()))

	order, err := svc.SubmitOrder(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "id-1", order.ID)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, fixed, order.CreatedAt)

	pending, err := repo.Pending(context.Background(), fixed, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, contracts.TopicOrderCreated, pending[0].Topic)
	assert.Equal(t, "id-2", pending[0].ID)

	var event contracts.OrderCreated
	require.NoError(t, json.Unmarshal(pending[0].Payload, &event))
	assert.Equal(t, "id-1", event.OrderID)
	assert.Equal(t, "u-1", event.CustomerID)
	assert.True(t, event.TotalPrice.Equal(decimal.RequireFromString("24.50")))
	assert.Equal(t, "PENDING", event.Status)
}

func TestSubmitOrder_InvalidInput(t *testing.T) {
	repo := memory.NewRepository()
	svc := NewService(repo)

	input := validInput()
	input.Items = nil
	_, err := svc.SubmitOrder(context.Background(), input)
	require.ErrorIs(t, err, ErrInvalidInput)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "items")

	list, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	pending, err := repo.Pending(context.Background(), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitOrder_StoreFailureIsNotInputError(t *testing.T) {
	svc := NewService(failingRepo{err: errors.New("db down")})
	_, err := svc.SubmitOrder(context.Background(), validInput())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestGetOrder(t *testing.T) {
	repo := memory.NewRepository()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.SubmitOrder(ctx, validInput())
	require.NoError(t, err)

	fetched, err := svc.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)

	_, err = svc.GetOrder(ctx, "  ")
	require.ErrorIs(t, err, ports.ErrNotFound)
	_, err = svc.GetOrder(ctx, "unknown")
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestListOrders_FiltersByCustomer(t *testing.T) {
	repo := memory.NewRepository()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.SubmitOrder(ctx, validInput())
	require.NoError(t, err)
	other := validInput()
	other.CustomerID = "u-2"
	_, err = svc.SubmitOrder(ctx, other)
	require.NoError(t, err)

	mine, err := svc.ListOrders(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "u-1", mine[0].CustomerID)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
