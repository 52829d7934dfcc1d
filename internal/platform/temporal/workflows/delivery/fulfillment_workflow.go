package delivery

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/order-fulfillment/internal/platform/temporal/sequences"
)

const (
	// FulfillmentWorkflowName is the public identifier for registering the workflow.
	FulfillmentWorkflowName = "delivery.workflows.Fulfillment"
	// FulfillmentTaskQueue is the queue consumed by the delivery worker.
	FulfillmentTaskQueue = "DELIVERY_FULFILLMENT"
)

// FulfillmentWorkflowInput carries one order's delivery timeline.
type FulfillmentWorkflowInput struct {
	OrderID    string
	ReceivedAt time.Time
	Stages     []sequences.TimedStage
	TraceID    string
}

// WorkflowID is the identifier shared by every start request for an order.
func WorkflowID(orderID string) string {
	return "delivery-" + orderID
}

// FulfillmentWorkflow runs the delivery timeline of one paid order.
func FulfillmentWorkflow(ctx workflow.Context, input FulfillmentWorkflowInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("FulfillmentWorkflow started", withTraceID(input.TraceID, "orderId", input.OrderID)...)
	if err := sequences.RunDeliverySequence(ctx, input.OrderID, input.ReceivedAt, input.Stages); err != nil {
		logger.Error("FulfillmentWorkflow failed", withTraceID(input.TraceID, "orderId", input.OrderID, "error", err)...)
		return err
	}
	logger.Info("FulfillmentWorkflow completed", withTraceID(input.TraceID, "orderId", input.OrderID)...)
	return nil
}

func withTraceID(traceID string, keyvals ...interface{}) []interface{} {
	if traceID == "" {
		return keyvals
	}
	return append(keyvals, "traceId", traceID)
}
