package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/delivery/ports"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultRetryDelay   = time.Second
	defaultPollBatch    = 50
)

var _ ports.Scheduler = (*JobScheduler)(nil)

// JobScheduler schedules a timeline by persisting one job per stage.
type JobScheduler struct {
	store ports.JobStore
	plan  domain.Plan
}

func NewJobScheduler(store ports.JobStore, plan domain.Plan) *JobScheduler {
	return &JobScheduler{store: store, plan: plan}
}

func (s *JobScheduler) Schedule(ctx context.Context, orderID string, receivedAt time.Time) error {
	jobs, err := domain.NewJobs(orderID, receivedAt, s.plan)
	if err != nil {
		return err
	}
	_, err = s.store.Enqueue(ctx, jobs...)
	return err
}

// JobRunner announces due jobs. Jobs left pending by a previous process are
// picked up on the first poll.
type JobRunner struct {
	store      ports.JobStore
	announcer  *Announcer
	logger     *slog.Logger
	interval   time.Duration
	retryDelay time.Duration
	batch      int
	now        func() time.Time
}

type RunnerOption func(*JobRunner)

func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRetryDelay sets how long a job waits after a failed announcement.
func WithRetryDelay(d time.Duration) RunnerOption {
	return func(r *JobRunner) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *JobRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *JobRunner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewJobRunner(store ports.JobStore, announcer *Announcer, opts ...RunnerOption) *JobRunner {
	r := &JobRunner{
		store:      store,
		announcer:  announcer,
		logger:     slog.Default(),
		interval:   defaultPollInterval,
		retryDelay: defaultRetryDelay,
		batch:      defaultPollBatch,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run polls until ctx ends.
func (r *JobRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("delivery job poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll announces every due job once and returns how many were published.
func (r *JobRunner) Poll(ctx context.Context) (int, error) {
	jobs, err := r.store.Due(ctx, r.now(), r.batch)
	if err != nil {
		return 0, fmt.Errorf("load due delivery jobs: %w", err)
	}
	published := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		log := r.logger.With(slog.String("order.id", job.OrderID), slog.String("status", job.Status))
		if err := r.announcer.Announce(ctx, job.OrderID, job.Status); err != nil {
			log.Warn("delivery stage announcement failed", slog.Int("attempt", job.Attempts+1), slog.String("error", err.Error()))
			if markErr := r.store.MarkFailed(ctx, job.OrderID, job.Stage, err.Error(), r.now().Add(r.retryDelay)); markErr != nil {
				return published, fmt.Errorf("record failed delivery job: %w", markErr)
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, job.OrderID, job.Stage, r.now()); err != nil {
			return published, fmt.Errorf("mark delivery job published: %w", err)
		}
		published++
		log.Info("delivery stage announced", slog.String("topic", job.Topic()))
	}
	return published, nil
}
