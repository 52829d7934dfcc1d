package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
)

func TestSimulated_SameKeySameCharge(t *testing.T) {
	gw := NewSimulated(0)
	req := ports.ChargeRequest{OrderID: "o-1", Amount: decimal.NewFromInt(3), IdempotencyKey: "o-1"}

	first, err := gw.Charge(context.Background(), req)
	require.NoError(t, err)
	second, err := gw.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, gw.Captures())
	assert.Equal(t, 2, gw.Calls())
}

func TestSimulated_DelayHonoursCancellation(t *testing.T) {
	gw := NewSimulated(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Charge(ctx, ports.ChargeRequest{IdempotencyKey: "o-1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gw.Captures())
}

func TestSimulated_RequiresKey(t *testing.T) {
	_, err := NewSimulated(0).Charge(context.Background(), ports.ChargeRequest{OrderID: "o-1"})
	require.Error(t, err)
}
