// Package deliveryworker hosts the consumer that schedules delivery timelines
// and the scheduler that announces them.
package deliveryworker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	deliverymemory "github.com/Apurer/order-fulfillment/internal/domains/delivery/adapters/memory"
	deliverypostgres "github.com/Apurer/order-fulfillment/internal/domains/delivery/adapters/persistence/postgres"
	deliveryworkflows "github.com/Apurer/order-fulfillment/internal/domains/delivery/adapters/workflows"
	deliveryapp "github.com/Apurer/order-fulfillment/internal/domains/delivery/application"
	deliveryports "github.com/Apurer/order-fulfillment/internal/domains/delivery/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/health"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	platformobservability "github.com/Apurer/order-fulfillment/internal/platform/observability"
	platformtemporal "github.com/Apurer/order-fulfillment/internal/platform/temporal"
	deliveryactivities "github.com/Apurer/order-fulfillment/internal/platform/temporal/activities/delivery"
	fulfillment "github.com/Apurer/order-fulfillment/internal/platform/temporal/workflows/delivery"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

const ServiceName = "delivery-worker"

// Runner is a background loop owned by the worker, such as the job poller.
type Runner interface {
	Run(ctx context.Context) error
}

// App is the wired delivery worker.
type App struct {
	cfg      Config
	broker   messaging.Broker
	logger   *slog.Logger
	worker   *deliveryapp.Worker
	runners  []Runner
	reporter *health.Reporter
}

type options struct {
	instruments *platformobservability.Instruments
	db          *gorm.DB
	runners     []Runner
}

type Option func(*options)

func WithInstruments(instruments *platformobservability.Instruments) Option {
	return func(o *options) { o.instruments = instruments }
}

// WithDatabase reports db on the liveness probe.
func WithDatabase(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithRunner runs r alongside the consumer.
func WithRunner(r Runner) Option {
	return func(o *options) {
		if r != nil {
			o.runners = append(o.runners, r)
		}
	}
}

func New(cfg Config, broker messaging.Broker, scheduler deliveryports.Scheduler, opts ...Option) *App {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.instruments.Component(ServiceName)
	reporter := health.NewReporter(ServiceName).
		With("broker", health.Broker(broker)).
		With("database", health.Database(o.db))
	return &App{
		cfg:      cfg,
		broker:   broker,
		logger:   logger,
		worker:   deliveryapp.NewWorker(scheduler, deliveryapp.WithLogger(logger)),
		runners:  o.runners,
		reporter: reporter,
	}
}

// Run consumes PAYMENT_SUCCESSFUL, drives the runners and serves the probe until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := messaging.DeclareAll(ctx, a.broker, contracts.TopicDeliveryInProgress, contracts.TopicDeliveryCompleted); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return messaging.Serve(gctx, a.broker, a.worker.Subscription()) })
	for _, r := range a.runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	if a.cfg.Port != "" {
		g.Go(func() error {
			a.logger.Info("delivery worker probe listening", slog.String("port", a.cfg.Port))
			return health.Serve(gctx, ":"+a.cfg.Port, a.reporter)
		})
	}
	return g.Wait()
}

// JobScheduling returns the polling scheduler over store and the runner that
// announces its due jobs.
func JobScheduling(cfg Config, broker messaging.Publisher, store deliveryports.JobStore, logger *slog.Logger) (deliveryports.Scheduler, Runner) {
	runner := deliveryapp.NewJobRunner(store, deliveryapp.NewAnnouncer(broker),
		deliveryapp.WithPollInterval(cfg.PollInterval),
		deliveryapp.WithRunnerLogger(logger),
	)
	return deliveryapp.NewJobScheduler(store, cfg.Plan), runner
}

// temporalRunner hosts the fulfillment workflow and its activity.
type temporalRunner struct {
	worker worker.Worker
}

func newTemporalRunner(c client.Client, broker messaging.Publisher) *temporalRunner {
	w := worker.New(c, fulfillment.FulfillmentTaskQueue, worker.Options{})
	activities := deliveryactivities.NewActivities(deliveryapp.NewAnnouncer(broker))
	w.RegisterWorkflowWithOptions(fulfillment.FulfillmentWorkflow, workflow.RegisterOptions{Name: fulfillment.FulfillmentWorkflowName})
	w.RegisterActivityWithOptions(activities.PublishStage, activity.RegisterOptions{Name: deliveryactivities.PublishStageActivityName})
	return &temporalRunner{worker: w}
}

func (r *temporalRunner) Run(ctx context.Context) error {
	if err := r.worker.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	<-ctx.Done()
	r.worker.Stop()
	return nil
}

// Run boots the delivery worker. Timelines run on Temporal when it is
// reachable and on the durable job poller otherwise.
func Run(ctx context.Context) error {
	instruments, flush, err := bootstrap.Observe(ctx, ServiceName)
	if err != nil {
		return err
	}
	defer flush()
	logger := instruments.Logger

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	broker := bootstrap.NewBroker(cfg.Broker, logger)
	defer bootstrap.CloseBroker(broker, cfg.Broker.GracePeriod, logger)

	opts := []Option{WithInstruments(instruments)}
	conn, cleanupDB, err := bootstrap.Database(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanupDB()
	if conn != nil {
		opts = append(opts, WithDatabase(conn.DB))
	}

	var scheduler deliveryports.Scheduler
	temporalClient, err := platformtemporal.Dial(cfg.Temporal, instruments.Tracer("temporal-client"), logger)
	if err != nil {
		logger.Warn("Temporal unavailable, scheduling deliveries with the job poller", slog.String("error", err.Error()))
		var store deliveryports.JobStore = deliverymemory.NewJobStore()
		if conn != nil {
			store = deliverypostgres.NewJobStore(conn.DB)
		}
		var runner Runner
		scheduler, runner = JobScheduling(cfg, broker, store, instruments.Component("delivery-jobs"))
		opts = append(opts, WithRunner(runner))
	} else {
		defer temporalClient.Close()
		scheduler = deliveryworkflows.NewTemporalScheduler(temporalClient, cfg.Plan)
		opts = append(opts, WithRunner(newTemporalRunner(temporalClient, broker)))
		logger.Info("Temporal delivery scheduling enabled",
			slog.String("namespace", cfg.Temporal.Namespace),
			slog.String("taskQueue", fulfillment.FulfillmentTaskQueue))
	}

	app := New(cfg, broker, scheduler, opts...)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return broker.Run(gctx) })
	g.Go(func() error { return app.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("delivery worker exited", slog.String("error", err.Error()))
		return err
	}
	logger.Info("delivery worker stopped")
	return nil
}
