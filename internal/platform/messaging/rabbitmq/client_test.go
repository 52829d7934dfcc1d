package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
)

func TestClient_AdmitRefusedOnceClosed(t *testing.T) {
	c := New(DefaultConfig("amqp://localhost:5672/"), nil)

	require.True(t, c.admit())
	closed := make(chan error, 1)
	go func() { closed <- c.Close(context.Background()) }()

	// Close waits for the admitted handler before releasing the session.
	select {
	case <-closed:
		t.Fatal("close returned with a handler in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, c.admit())

	c.inflight.Done()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not return after the handler finished")
	}
	assert.False(t, c.admit())
}

func TestClient_BindWithoutSessionIsRemembered(t *testing.T) {
	c := New(DefaultConfig("amqp://localhost:5672/"), nil)

	require.NoError(t, c.Bind(context.Background(), "projector.order_created", "ORDER_CREATED"))
	require.NoError(t, c.Bind(context.Background(), "projector.order_created", "ORDER_CREATED"))
	assert.Equal(t, []binding{{queue: "projector.order_created", topic: "ORDER_CREATED"}}, c.declaredBindings())
	assert.Equal(t, messaging.StatusDisconnected, c.Status())

	require.NoError(t, c.Close(context.Background()))
	assert.ErrorIs(t, c.Bind(context.Background(), "other", "OTHER"), messaging.ErrClosed)
}
