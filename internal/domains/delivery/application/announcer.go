package application

import (
	"context"
	"fmt"
	"time"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

// Announcer publishes delivery stage events.
type Announcer struct {
	publisher messaging.Publisher
	now       func() time.Time
}

func NewAnnouncer(publisher messaging.Publisher) *Announcer {
	return &Announcer{publisher: publisher, now: func() time.Time { return time.Now().UTC() }}
}

// Announce publishes status for orderID on the topic that carries it. It
// returns once the broker has confirmed the message.
func (a *Announcer) Announce(ctx context.Context, orderID, status string) error {
	topic, ok := contracts.DeliveryTopic(status)
	if !ok {
		return fmt.Errorf("no delivery topic for status %q", status)
	}
	return messaging.PublishJSON(ctx, a.publisher, topic, contracts.DeliveryStatus{
		OrderID:   orderID,
		Status:    status,
		EmittedAt: a.now(),
	})
}
