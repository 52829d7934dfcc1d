package sequences

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	deliveryactivities "github.com/Apurer/order-fulfillment/internal/platform/temporal/activities/delivery"
)

// TimedStage is a status to announce Offset after the timeline started.
type TimedStage struct {
	Status string
	Offset time.Duration
}

// RunDeliverySequence announces each stage in order, sleeping on durable
// timers until its offset from startedAt has passed. A stage whose time has
// already passed on replay is announced immediately.
func RunDeliverySequence(ctx workflow.Context, orderID string, startedAt time.Time, stages []TimedStage) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("delivery sequence started", "orderId", orderID, "stages", len(stages))
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	for _, stage := range stages {
		if wait := startedAt.Add(stage.Offset).Sub(workflow.Now(ctx)); wait > 0 {
			if err := workflow.Sleep(ctx, wait); err != nil {
				return err
			}
		}
		input := deliveryactivities.StageInput{OrderID: orderID, Status: stage.Status}
		if err := workflow.ExecuteActivity(ctx, deliveryactivities.PublishStageActivityName, input).Get(ctx, nil); err != nil {
			logger.Error("delivery sequence failed", "orderId", orderID, "status", stage.Status, "error", err)
			return err
		}
		logger.Info("delivery stage announced", "orderId", orderID, "status", stage.Status)
	}
	logger.Info("delivery sequence completed", "orderId", orderID)
	return nil
}
