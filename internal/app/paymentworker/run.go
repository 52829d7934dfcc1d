// Package paymentworker hosts the consumer that charges created orders.
package paymentworker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	"github.com/Apurer/order-fulfillment/internal/clients/http/paymentgateway"
	"github.com/Apurer/order-fulfillment/internal/domains/payments/adapters/gateway"
	paymentsmemory "github.com/Apurer/order-fulfillment/internal/domains/payments/adapters/memory"
	paymentspostgres "github.com/Apurer/order-fulfillment/internal/domains/payments/adapters/persistence/postgres"
	paymentsapp "github.com/Apurer/order-fulfillment/internal/domains/payments/application"
	paymentsports "github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/health"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	platformobservability "github.com/Apurer/order-fulfillment/internal/platform/observability"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

const ServiceName = "payment-worker"

// App is the wired payment worker.
type App struct {
	cfg      Config
	broker   messaging.Broker
	logger   *slog.Logger
	worker   *paymentsapp.Worker
	reporter *health.Reporter
}

type options struct {
	instruments *platformobservability.Instruments
	db          *gorm.DB
}

type Option func(*options)

func WithInstruments(instruments *platformobservability.Instruments) Option {
	return func(o *options) { o.instruments = instruments }
}

// WithDatabase reports db on the liveness probe.
func WithDatabase(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

func New(cfg Config, broker messaging.Broker, ledger paymentsports.Ledger, gw paymentsports.Gateway, opts ...Option) *App {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.instruments.Component(ServiceName)
	worker := paymentsapp.NewWorker(ledger, gw, broker,
		paymentsapp.WithLogger(logger),
		paymentsapp.WithMeter(o.instruments.Meter("internal.payments.application")),
	)
	reporter := health.NewReporter(ServiceName).
		With("broker", health.Broker(broker)).
		With("database", health.Database(o.db))
	return &App{cfg: cfg, broker: broker, logger: logger, worker: worker, reporter: reporter}
}

// Run consumes ORDER_CREATED and serves the probe until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := messaging.DeclareAll(ctx, a.broker, contracts.TopicPaymentSuccessful); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return messaging.Serve(gctx, a.broker, a.worker.Subscription()) })
	if a.cfg.Port != "" {
		g.Go(func() error {
			a.logger.Info("payment worker probe listening", slog.String("port", a.cfg.Port))
			return health.Serve(gctx, ":"+a.cfg.Port, a.reporter)
		})
	}
	return g.Wait()
}

// Run boots the payment worker with observability, broker, and ledger wired.
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
	var ledger paymentsports.Ledger = paymentsmemory.NewLedger()
	conn, cleanupDB, err := bootstrap.Database(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanupDB()
	if conn != nil {
		ledger = paymentspostgres.NewLedger(conn.DB)
		opts = append(opts, WithDatabase(conn.DB))
	}

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	app := New(cfg, broker, ledger, gw, opts...)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return broker.Run(gctx) })
	g.Go(func() error { return app.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("payment worker exited", slog.String("error", err.Error()))
		return err
	}
	logger.Info("payment worker stopped")
	return nil
}

func newGateway(cfg Config) (paymentsports.Gateway, error) {
	if cfg.GatewayURL == "" {
		return gateway.NewSimulated(cfg.PaymentDelay), nil
	}
	return paymentgateway.New(cfg.GatewayURL, nil)
}
