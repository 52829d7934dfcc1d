package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	platformobservability "github.com/Apurer/order-fulfillment/internal/platform/observability"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Observe initializes observability for serviceName. The returned function
// flushes telemetry and must run on exit.
func Observe(ctx context.Context, serviceName string) (*platformobservability.Instruments, func(), error) {
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	return instruments, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}, nil
}

// CloseBroker closes b within the broker's own grace period plus a margin.
func CloseBroker(b messaging.Broker, grace time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), grace+5*time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil && logger != nil {
		logger.Warn("broker close failed", slog.String("error", err.Error()))
	}
}
