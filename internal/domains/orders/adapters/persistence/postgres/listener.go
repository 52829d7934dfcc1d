package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const listenerPing = 90 * time.Second

// OutboxListener turns NOTIFY events on OutboxChannel into relay wakeups. It
// holds its own connection because LISTEN does not survive pooling.
type OutboxListener struct {
	listener *pq.Listener
	wake     chan struct{}
	logger   *slog.Logger
}

// NewOutboxListener connects to dsn and subscribes to OutboxChannel.
func NewOutboxListener(dsn string, logger *slog.Logger) (*OutboxListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &OutboxListener{wake: make(chan struct{}, 1), logger: logger}
	l.listener = pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			if err != nil {
				logger.Warn("outbox listener disconnected", slog.String("error", err.Error()))
			}
		case pq.ListenerEventReconnected:
			logger.Info("outbox listener reconnected")
			// Notifications sent while disconnected are lost.
			l.signal()
		case pq.ListenerEventConnectionAttemptFailed:
			if err != nil {
				logger.Warn("outbox listener reconnect failed", slog.String("error", err.Error()))
			}
		}
	})
	if err := l.listener.Listen(OutboxChannel); err != nil {
		_ = l.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", OutboxChannel, err)
	}
	return l, nil
}

// Wake fires once per burst of notifications.
func (l *OutboxListener) Wake() <-chan struct{} { return l.wake }

// Run forwards notifications until ctx ends.
func (l *OutboxListener) Run(ctx context.Context) error {
	ticker := time.NewTicker(listenerPing)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			if n != nil {
				l.logger.Debug("outbox notification", slog.String("order.id", n.Extra))
			}
			l.signal()
		case <-ticker.C:
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("outbox listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *OutboxListener) Close() error {
	return l.listener.Close()
}

func (l *OutboxListener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
