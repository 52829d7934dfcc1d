package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

const (
	DefaultFirstStageDelay  = 3 * time.Second
	DefaultSecondStageDelay = 13 * time.Second
)

var ErrInvalidPlan = errors.New("invalid delivery plan")

// Stage is one announcement of the delivery timeline, due Offset after the
// payment was received.
type Stage struct {
	Index  int
	Status string
	Offset time.Duration
}

// Topic returns the topic the stage is announced on.
func (s Stage) Topic() string {
	topic, _ := contracts.DeliveryTopic(s.Status)
	return topic
}

// Plan sets when each stage is announced, measured from payment receipt.
type Plan struct {
	FirstStageDelay  time.Duration
	SecondStageDelay time.Duration
}

func DefaultPlan() Plan {
	return Plan{FirstStageDelay: DefaultFirstStageDelay, SecondStageDelay: DefaultSecondStageDelay}
}

func (p Plan) Validate() error {
	if p.FirstStageDelay < 0 {
		return fmt.Errorf("%w: first stage delay must not be negative", ErrInvalidPlan)
	}
	if p.SecondStageDelay < p.FirstStageDelay {
		return fmt.Errorf("%w: second stage must not precede the first", ErrInvalidPlan)
	}
	return nil
}

// Stages lists the plan's announcements in order.
func (p Plan) Stages() []Stage {
	return []Stage{
		{Index: 0, Status: contracts.StatusOutForDelivery, Offset: p.FirstStageDelay},
		{Index: 1, Status: contracts.StatusDelivered, Offset: p.SecondStageDelay},
	}
}

// Job is a stage scheduled for one order.
type Job struct {
	OrderID     string
	Stage       int
	Status      string
	DueAt       time.Time
	Attempts    int
	LastError   string
	PublishedAt *time.Time
}

// NewJobs expands the plan into one job per stage for an order paid at receivedAt.
func NewJobs(orderID string, receivedAt time.Time, plan Plan) ([]Job, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidPlan)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	stages := plan.Stages()
	jobs := make([]Job, 0, len(stages))
	for _, stage := range stages {
		jobs = append(jobs, Job{
			OrderID: orderID,
			Stage:   stage.Index,
			Status:  stage.Status,
			DueAt:   receivedAt.Add(stage.Offset),
		})
	}
	return jobs, nil
}

// Topic returns the topic the job is announced on.
func (j Job) Topic() string {
	topic, _ := contracts.DeliveryTopic(j.Status)
	return topic
}

// Published reports whether the job's announcement has been confirmed by the broker.
func (j Job) Published() bool { return j.PublishedAt != nil }

// FinalStage is the index of the last stage of every plan.
const FinalStage = 1
