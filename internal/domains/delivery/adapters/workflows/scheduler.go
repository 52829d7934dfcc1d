package workflows

import (
	"context"
	"errors"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/delivery/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/temporal/sequences"
	deliveryworkflows "github.com/Apurer/order-fulfillment/internal/platform/temporal/workflows/delivery"
)

var _ ports.Scheduler = (*TemporalScheduler)(nil)

// TemporalScheduler starts one fulfillment workflow per order. Temporal's
// durable timers carry the timeline across worker restarts.
type TemporalScheduler struct {
	client    client.Client
	taskQueue string
	plan      domain.Plan
}

func NewTemporalScheduler(c client.Client, plan domain.Plan) *TemporalScheduler {
	return &TemporalScheduler{client: c, taskQueue: deliveryworkflows.FulfillmentTaskQueue, plan: plan}
}

// Schedule starts the order's workflow. An order whose workflow already
// started, or already finished, counts as scheduled.
func (s *TemporalScheduler) Schedule(ctx context.Context, orderID string, receivedAt time.Time) error {
	if s == nil || s.client == nil {
		return errors.New("temporal delivery scheduler not configured")
	}
	if err := s.plan.Validate(); err != nil {
		return err
	}
	options := client.StartWorkflowOptions{
		ID:                                       deliveryworkflows.WorkflowID(orderID),
		TaskQueue:                                s.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, deliveryworkflows.FulfillmentWorkflowName, deliveryworkflows.FulfillmentWorkflowInput{
		OrderID:    orderID,
		ReceivedAt: receivedAt,
		Stages:     timedStages(s.plan),
		TraceID:    traceID(ctx),
	})
	if err == nil {
		return nil
	}
	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &alreadyStarted) || temporal.IsWorkflowExecutionAlreadyStartedError(err) {
		return nil
	}
	return err
}

func timedStages(plan domain.Plan) []sequences.TimedStage {
	stages := plan.Stages()
	timed := make([]sequences.TimedStage, 0, len(stages))
	for _, stage := range stages {
		timed = append(timed, sequences.TimedStage{Status: stage.Status, Offset: stage.Offset})
	}
	return timed
}

func traceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
