//go:build integration

package deliveryworker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	deliveryworkflows "github.com/Apurer/order-fulfillment/internal/domains/delivery/adapters/workflows"
	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging/memory"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

func TestTemporalRunner_RunsWorkflowsStartedByScheduler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	srv, err := testsuite.StartDevServer(ctx, testsuite.DevServerOptions{LogLevel: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop() })

	broker := memory.NewBroker()
	runner := newTemporalRunner(srv.Client(), broker)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()
	t.Cleanup(func() {
		stop()
		<-done
	})

	plan := domain.Plan{FirstStageDelay: 100 * time.Millisecond, SecondStageDelay: 300 * time.Millisecond}
	scheduler := deliveryworkflows.NewTemporalScheduler(srv.Client(), plan)
	require.NoError(t, scheduler.Schedule(ctx, "order-temporal-1", time.Now().UTC()))
	// A second start for the same order is absorbed.
	require.NoError(t, scheduler.Schedule(ctx, "order-temporal-1", time.Now().UTC()))

	require.Eventually(t, func() bool {
		return len(broker.Published(contracts.TopicDeliveryCompleted)) == 1
	}, 60*time.Second, 100*time.Millisecond)

	inProgress := broker.Published(contracts.TopicDeliveryInProgress)
	require.Len(t, inProgress, 1)
	var event contracts.DeliveryStatus
	require.NoError(t, json.Unmarshal(inProgress[0].Body, &event))
	assert.Equal(t, "order-temporal-1", event.OrderID)
	assert.Equal(t, contracts.StatusOutForDelivery, event.Status)
}
