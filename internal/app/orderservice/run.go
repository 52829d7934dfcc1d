// Package orderservice hosts the ingestion API, the outbox relay and the
// status projector in one process.
package orderservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	orderserver "github.com/Apurer/order-fulfillment/go"
	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	ordersmemory "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/observability"
	orderspostgres "github.com/Apurer/order-fulfillment/internal/domains/orders/adapters/persistence/postgres"
	ordersapp "github.com/Apurer/order-fulfillment/internal/domains/orders/application"
	ordersports "github.com/Apurer/order-fulfillment/internal/domains/orders/ports"
	"github.com/Apurer/order-fulfillment/internal/platform/health"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	platformobservability "github.com/Apurer/order-fulfillment/internal/platform/observability"
	"github.com/Apurer/order-fulfillment/internal/shared/contracts"
)

const ServiceName = "order-service"

// Store is the order repository together with its outbox.
type Store interface {
	ordersports.Repository
	ordersports.Outbox
}

// App is the wired order service.
type App struct {
	cfg       Config
	broker    messaging.Broker
	logger    *slog.Logger
	service   ordersports.Service
	relay     *ordersapp.Relay
	projector *ordersapp.Projector
	router    *gin.Engine
	handler   http.Handler
}

type options struct {
	instruments *platformobservability.Instruments
	wake        <-chan struct{}
	db          *gorm.DB
}

type Option func(*options)

func WithInstruments(instruments *platformobservability.Instruments) Option {
	return func(o *options) { o.instruments = instruments }
}

// WithOutboxWakeup lets the relay sweep as soon as an order is written.
func WithOutboxWakeup(ch <-chan struct{}) Option {
	return func(o *options) { o.wake = ch }
}

// WithDatabase reports db on the liveness probe.
func WithDatabase(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

func New(cfg Config, broker messaging.Broker, store Store, opts ...Option) *App {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.instruments.Component(ServiceName)

	service := ordersobs.New(
		ordersapp.NewService(store),
		ordersobs.WithLogger(logger),
		ordersobs.WithTracer(o.instruments.Tracer("internal.orders.application")),
		ordersobs.WithMeter(o.instruments.Meter("internal.orders.application")),
	)
	relay := ordersapp.NewRelay(store, broker,
		ordersapp.WithRelayInterval(cfg.RelayInterval),
		ordersapp.WithWakeup(o.wake),
		ordersapp.WithRelayLogger(o.instruments.Component("outbox-relay")),
	)
	projector := ordersapp.NewProjector(store,
		ordersapp.WithProjectorLogger(o.instruments.Component("status-projector")),
		ordersapp.WithDeferral(cfg.DeferralLimit, cfg.DeferralDelay),
		ordersapp.WithProjectorMeter(o.instruments.Meter("internal.orders.projector")),
	)
	reporter := health.NewReporter(ServiceName).
		With("broker", health.Broker(broker)).
		With("database", health.Database(o.db))

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(ServiceName))
	orderserver.NewRouterWithGinEngine(router, orderserver.ApiHandleFunctions{
		OrderAPI: orderserver.NewOrderAPI(service),
		Health:   reporter.Handle,
	})

	return &App{
		cfg:       cfg,
		broker:    broker,
		logger:    logger,
		service:   service,
		relay:     relay,
		projector: projector,
		router:    router,
		handler:   withCORS(router, cfg.AllowedOrigins),
	}
}

// withCORS answers browser preflights before they reach the router.
func withCORS(next http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent"},
		MaxAge:         300,
	})(next)
}

// Handler serves the HTTP API.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Service() ordersports.Service { return a.service }

// Run relays the outbox, consumes the status topics and serves HTTP until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := messaging.DeclareAll(ctx, a.broker, contracts.TopicOrderCreated); err != nil {
		return err
	}
	if err := messaging.BindAll(ctx, a.broker, a.projector.Subscriptions()...); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.relay.Run(gctx) })
	g.Go(func() error { return messaging.Serve(gctx, a.broker, a.projector.Subscriptions()...) })
	if a.cfg.Port != "" {
		srv := &http.Server{Addr: ":" + a.cfg.Port, Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.logger.Info("order service listening", slog.String("addr", srv.Addr))
			return health.ListenAndServe(gctx, srv)
		})
	}
	return g.Wait()
}

// Run boots the order service with observability, broker, and stores wired.
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

	g, gctx := errgroup.WithContext(ctx)
	opts := []Option{WithInstruments(instruments)}
	var store Store
	conn, cleanupDB, err := bootstrap.Database(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanupDB()
	if conn != nil {
		store = orderspostgres.NewRepository(conn.DB)
		opts = append(opts, WithDatabase(conn.DB))
		listener, err := orderspostgres.NewOutboxListener(conn.DSN, logger)
		if err != nil {
			logger.Warn("outbox notifications unavailable, relying on polling", slog.String("error", err.Error()))
		} else {
			defer listener.Close()
			opts = append(opts, WithOutboxWakeup(listener.Wake()))
			g.Go(func() error { return listener.Run(gctx) })
		}
	} else {
		repo := ordersmemory.NewRepository()
		store = repo
		opts = append(opts, WithOutboxWakeup(repo.Wake()))
	}

	app := New(cfg, broker, store, opts...)
	g.Go(func() error { return broker.Run(gctx) })
	g.Go(func() error { return app.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("order service exited", slog.String("error", err.Error()))
		return err
	}
	logger.Info("order service stopped")
	return nil
}
