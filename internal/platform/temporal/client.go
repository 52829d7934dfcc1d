// Package temporal dials the Temporal cluster used for durable delivery timelines.
package temporal

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	workerlog "go.temporal.io/sdk/log"
)

// ErrDisabled is returned by Dial when Temporal is switched off by configuration.
var ErrDisabled = errors.New("temporal disabled")

type Config struct {
	Disabled  bool
	Address   string
	Namespace string
}

// Dial connects a client with OpenTelemetry tracing and structured logging.
func Dial(cfg Config, tracer trace.Tracer, logger *slog.Logger) (client.Client, error) {
	if cfg.Disabled {
		return nil, ErrDisabled
	}
	if cfg.Address == "" {
		cfg.Address = client.DefaultHostPort
	}
	if cfg.Namespace == "" {
		cfg.Namespace = client.DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{Tracer: tracer})
	if err != nil {
		return nil, err
	}
	options := client.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    workerlog.NewStructuredLogger(logger),
	}
	options.Interceptors = append(options.Interceptors, tracingInterceptor)
	return client.Dial(options)
}
