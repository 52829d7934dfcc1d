// Package e2e runs the three fulfillment processes in one test binary over the
// in-memory broker and stores.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-fulfillment/internal/app/deliveryworker"
	"github.com/Apurer/order-fulfillment/internal/app/orderservice"
	"github.com/Apurer/order-fulfillment/internal/app/paymentworker"
	deliverymemory "github.com/Apurer/order-fulfillment/internal/domains/delivery/adapters/memory"
	deliverydomain "github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	ordersmemory "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/memory"
	"github.com/Apurer/order-fulfillment/internal/domains/orders/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/payments/adapters/gateway"
	paymentsmemory "github.com/Apurer/order-fulfillment/internal/domains/payments/adapters/memory"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	memorybroker "github.com/Apurer/order-fulfillment/internal/platform/messaging/memory"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

type timings struct {
	payment time.Duration
	first   time.Duration
	second  time.Duration
}

var fast = timings{payment: 30 * time.Millisecond, first: 100 * time.Millisecond, second: 250 * time.Millisecond}

type process struct {
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func start(t *testing.T, run func(context.Context) error) *process {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := &process{cancel: cancel, done: make(chan error, 1)}
	go func() { p.done <- run(ctx) }()
	t.Cleanup(p.stop)
	return p
}

func (p *process) stop() {
	p.once.Do(func() {
		p.cancel()
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
		}
	})
}

type system struct {
	t        *testing.T
	broker   *memorybroker.Broker
	orders   *ordersmemory.Repository
	jobs     *deliverymemory.JobStore
	gateway  *gateway.Simulated
	orderCfg orderservice.Config
	api      http.Handler
	service  *process
}

func newSystem(t *testing.T, tm timings) *system {
	t.Helper()
	s := &system{
		t:       t,
		broker:  memorybroker.NewBroker(memorybroker.WithRedeliveryDelay(5 * time.Millisecond)),
		orders:  ordersmemory.NewRepository(),
		jobs:    deliverymemory.NewJobStore(),
		gateway: gateway.NewSimulated(tm.payment),
		orderCfg: orderservice.Config{
			RelayInterval: 20 * time.Millisecond,
			DeferralLimit: 3,
			DeferralDelay: 10 * time.Millisecond,
		},
	}
	t.Cleanup(func() { _ = s.broker.Close(context.Background()) })

	s.startOrderService()

	payments := paymentworker.New(paymentworker.Config{}, s.broker, paymentsmemory.NewLedger(), s.gateway)
	start(t, payments.Run)

	deliveryCfg := deliveryworker.Config{
		Plan:         deliverydomain.Plan{FirstStageDelay: tm.first, SecondStageDelay: tm.second},
		PollInterval: 5 * time.Millisecond,
	}
	scheduler, runner := deliveryworker.JobScheduling(deliveryCfg, s.broker, s.jobs, nil)
	delivery := deliveryworker.New(deliveryCfg, s.broker, scheduler, deliveryworker.WithRunner(runner))
	start(t, delivery.Run)
	return s
}

// startOrderService starts an order service over the shared store, as a restarted process would.
func (s *system) startOrderService() {
	app := orderservice.New(s.orderCfg, s.broker, s.orders, orderservice.WithOutboxWakeup(s.orders.Wake()))
	s.api = app.Handler()
	s.service = start(s.t, app.Run)
}

func (s *system) submit(body string) map[string]any {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.api.ServeHTTP(w, req)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var order map[string]any
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &order))
	return order
}

func (s *system) status(id string) domain.Status {
	order, err := s.orders.GetByID(context.Background(), id)
	require.NoError(s.t, err)
	return order.Status
}

// watch samples the order status until it is delivered and returns every distinct status seen.
func (s *system) watch(id string, timeout time.Duration) []domain.Status {
	s.t.Helper()
	var seen []domain.Status
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		current := s.status(id)
		if len(seen) == 0 || seen[len(seen)-1] != current {
			seen = append(seen, current)
		}
		if current == domain.StatusDelivered {
			return seen
		}
		time.Sleep(2 * time.Millisecond)
	}
	s.t.Fatalf("order %s not delivered within %s, statuses seen: %v", id, timeout, seen)
	return nil
}

func (s *system) published(t *testing.T, topic, orderID string) []messaging.Message {
	t.Helper()
	var out []messaging.Message
	for _, msg := range s.broker.Published(topic) {
		var envelope struct {
			OrderID string `json:"orderId"`
		}
		require.NoError(t, json.Unmarshal(msg.Body, &envelope))
		if envelope.OrderID == orderID {
			out = append(out, msg)
		}
	}
	return out
}

const pastaOrder = `{"userId":"u-1","restaurantId":"r-1","items":[{"itemName":"pasta","quantity":2}],"totalPrice":20}`

func TestFulfillment_OrderReachesDeliveredThroughEveryStage(t *testing.T) {
	s := newSystem(t, fast)

	order := s.submit(pastaOrder)
	assert.Equal(t, "PENDING", order["status"])
	assert.Equal(t, "20", order["totalPrice"])
	id := order["orderId"].(string)

	seen := s.watch(id, 5*time.Second)
	assert.Equal(t, []domain.Status{
		domain.StatusPending,
		domain.StatusConfirmed,
		domain.StatusOutForDelivery,
		domain.StatusDelivered,
	}, seen)

	require.Len(t, s.published(t, contracts.TopicOrderCreated, id), 1)
	require.Len(t, s.published(t, contracts.TopicPaymentSuccessful, id), 1)
	require.Len(t, s.published(t, contracts.TopicDeliveryInProgress, id), 1)
	require.Len(t, s.published(t, contracts.TopicDeliveryCompleted, id), 1)
	assert.Equal(t, 1, s.gateway.Captures())

	created, err := contracts.Decode[contracts.OrderCreated](s.published(t, contracts.TopicOrderCreated, id)[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "u-1", created.CustomerID)
	require.Len(t, created.Items, 1)
	assert.Equal(t, "pasta", created.Items[0].ItemName)
	assert.Equal(t, 2, created.Items[0].Quantity)
	assert.Equal(t, "20", created.TotalPrice.String())
}

func TestFulfillment_DuplicatePaymentIsAbsorbed(t *testing.T) {
	s := newSystem(t, fast)
	id := s.submit(pastaOrder)["orderId"].(string)
	s.watch(id, 5*time.Second)

	payment := s.published(t, contracts.TopicPaymentSuccessful, id)[0]
	payment.Queue = messaging.SubscriptionQueue(contracts.TopicPaymentSuccessful, "order-service")
	s.broker.Redeliver(payment)
	payment.Queue = contracts.TopicPaymentSuccessful
	s.broker.Redeliver(payment)

	require.Eventually(t, func() bool {
		return s.broker.Depth(contracts.TopicPaymentSuccessful) == 0 &&
			s.broker.Depth(messaging.SubscriptionQueue(contracts.TopicPaymentSuccessful, "order-service")) == 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(fast.second)

	assert.Equal(t, domain.StatusDelivered, s.status(id))
	assert.Len(t, s.published(t, contracts.TopicDeliveryInProgress, id), 1)
	assert.Len(t, s.published(t, contracts.TopicDeliveryCompleted, id), 1)
	assert.Len(t, s.jobs.Jobs(id), 2)
	assert.Empty(t, s.broker.DeadLetters(contracts.TopicPaymentSuccessful))
}

func TestFulfillment_OutOfOrderDeliveryIsDeadLettered(t *testing.T) {
	s := newSystem(t, timings{payment: 400 * time.Millisecond, first: 50 * time.Millisecond, second: 100 * time.Millisecond})
	id := s.submit(pastaOrder)["orderId"].(string)

	early, err := json.Marshal(contracts.DeliveryStatus{OrderID: id, Status: contracts.StatusDelivered, EmittedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, s.broker.Publish(context.Background(), contracts.TopicDeliveryCompleted, early))

	require.Eventually(t, func() bool {
		return len(s.broker.DeadLetters(contracts.TopicDeliveryCompleted)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusPending, s.status(id))

	seen := s.watch(id, 5*time.Second)
	assert.Equal(t, domain.StatusDelivered, seen[len(seen)-1])
	assert.Contains(t, seen, domain.StatusConfirmed)
	assert.Len(t, s.broker.DeadLetters(contracts.TopicDeliveryCompleted), 1)
}

func TestFulfillment_SurvivesBrokerOutage(t *testing.T) {
	s := newSystem(t, fast)
	s.broker.SetAvailable(false)

	id := s.submit(pastaOrder)["orderId"].(string)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.StatusPending, s.status(id))
	assert.Empty(t, s.published(t, contracts.TopicOrderCreated, id))

	s.broker.SetAvailable(true)
	seen := s.watch(id, 5*time.Second)
	assert.Equal(t, domain.StatusDelivered, seen[len(seen)-1])
	assert.Len(t, s.published(t, contracts.TopicOrderCreated, id), 1)
}

func TestFulfillment_ProjectorRestartAfterUnackedEvent(t *testing.T) {
	s := newSystem(t, timings{payment: 30 * time.Millisecond, first: 100 * time.Millisecond, second: 600 * time.Millisecond})
	id := s.submit(pastaOrder)["orderId"].(string)

	require.Eventually(t, func() bool {
		return s.status(id) == domain.StatusOutForDelivery
	}, 5*time.Second, 2*time.Millisecond)

	// The projector applied OUT_FOR_DELIVERY and stopped before acknowledging it.
	s.service.stop()
	inProgress := s.published(t, contracts.TopicDeliveryInProgress, id)
	require.Len(t, inProgress, 1)
	s.broker.Redeliver(inProgress[0])

	s.startOrderService()

	seen := s.watch(id, 5*time.Second)
	assert.Equal(t, []domain.Status{domain.StatusOutForDelivery, domain.StatusDelivered}, seen)
	require.Eventually(t, func() bool {
		return s.broker.Depth(contracts.TopicDeliveryInProgress) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.broker.DeadLetters(contracts.TopicDeliveryInProgress))
}

func TestFulfillment_RejectsInvalidOrder(t *testing.T) {
	s := newSystem(t, fast)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"userId":"u-1","restaurantId":"r-1","items":[],"totalPrice":20}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.broker.Published(contracts.TopicOrderCreated))
	orders, err := s.orders.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}
