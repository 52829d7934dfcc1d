package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
)

// DefaultDelay is how long a simulated capture takes.
const DefaultDelay = 5 * time.Second

var _ ports.Gateway = (*Simulated)(nil)

// Simulated is a payment gateway that always approves after a fixed delay.
// Requests sharing an idempotency key resolve to the same charge id.
type Simulated struct {
	delay time.Duration

	mu       sync.Mutex
	captured map[string]string
	calls    int
}

func NewSimulated(delay time.Duration) *Simulated {
	if delay < 0 {
		delay = 0
	}
	return &Simulated{delay: delay, captured: map[string]string{}}
}

// Charge waits for the configured delay, or returns ctx's error if it ends first.
func (g *Simulated) Charge(ctx context.Context, req ports.ChargeRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", errors.New("idempotency key is required")
	}
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if id, ok := g.captured[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := "ch_" + uuid.NewString()
	g.captured[req.IdempotencyKey] = id
	return id, nil
}

// Captures returns how many distinct payments were captured.
func (g *Simulated) Captures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captured)
}

// Calls returns how many charge requests completed.
func (g *Simulated) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
