package delivery

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
)

const (
	// PublishStageActivityName announces one delivery stage on the broker.
	PublishStageActivityName = "delivery.activities.PublishStage"
)

// StageInput identifies the announcement to publish.
type StageInput struct {
	OrderID string
	Status  string
}

// Announcer publishes a delivery status for an order.
type Announcer interface {
	Announce(ctx context.Context, orderID, status string) error
}

// Activities groups activities that operate on the delivery bounded context.
type Activities struct {
	announcer Announcer
}

func NewActivities(announcer Announcer) *Activities {
	return &Activities{announcer: announcer}
}

// PublishStage publishes the stage and returns once the broker confirmed it.
// A retried attempt may publish again; the projector absorbs duplicates.
func (a *Activities) PublishStage(ctx context.Context, input StageInput) error {
	logger := activity.GetLogger(ctx)
	if a == nil || a.announcer == nil {
		logger.Error("delivery stage activity not initialized", "orderId", input.OrderID)
		return errors.New("delivery stage activity not initialized")
	}
	logger.Info("PublishStage activity started", "orderId", input.OrderID, "status", input.Status)
	if err := a.announcer.Announce(ctx, input.OrderID, input.Status); err != nil {
		logger.Error("PublishStage activity failed", "orderId", input.OrderID, "status", input.Status, "error", err)
		return err
	}
	logger.Info("PublishStage activity completed", "orderId", input.OrderID, "status", input.Status)
	return nil
}
