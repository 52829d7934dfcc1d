package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging/memory"
	"github.com/Apurer/order-fulfillment/internal/platform/messaging/rabbitmq"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerMemory   = "memory"
)

// BrokerConfig selects and tunes the broker client of a process.
type BrokerConfig struct {
	Kind             string
	URI              string
	RetryInterval    time.Duration
	Backoff          bool
	OperationTimeout time.Duration
	GracePeriod      time.Duration
}

// LoadBrokerConfig reads BROKER, RABBITMQ_URI and the BROKER_* tuning variables.
func LoadBrokerConfig() (BrokerConfig, error) {
	defaults := rabbitmq.DefaultConfig("")
	cfg := BrokerConfig{
		Kind:    strings.ToLower(EnvOrDefault("BROKER", BrokerRabbitMQ)),
		URI:     EnvOrDefault("RABBITMQ_URI", ""),
		Backoff: IsTruthy(EnvOrDefault("BROKER_BACKOFF", "")),
	}
	var err error
	if cfg.RetryInterval, err = Duration("BROKER_RETRY_INTERVAL", defaults.RetryInterval); err != nil {
		return BrokerConfig{}, err
	}
	if cfg.OperationTimeout, err = Duration("BROKER_OPERATION_TIMEOUT", defaults.OperationTimeout); err != nil {
		return BrokerConfig{}, err
	}
	if cfg.GracePeriod, err = Duration("SHUTDOWN_GRACE_PERIOD", defaults.GracePeriod); err != nil {
		return BrokerConfig{}, err
	}
	switch cfg.Kind {
	case BrokerMemory:
	case BrokerRabbitMQ:
		if cfg.URI == "" {
			return BrokerConfig{}, errors.New("RABBITMQ_URI is required unless BROKER=memory")
		}
	default:
		return BrokerConfig{}, fmt.Errorf("unknown BROKER %q", cfg.Kind)
	}
	return cfg, nil
}

// NewBroker builds the configured client. The in-memory broker only connects
// components of the same process.
func NewBroker(cfg BrokerConfig, logger *slog.Logger) messaging.Broker {
	if cfg.Kind == BrokerMemory {
		if logger != nil {
			logger.Warn("BROKER=memory, events stay inside this process")
		}
		return memory.NewBroker()
	}
	rc := rabbitmq.DefaultConfig(cfg.URI)
	if cfg.RetryInterval > 0 {
		rc.RetryInterval = cfg.RetryInterval
	}
	rc.ExponentialBackoff = cfg.Backoff
	if cfg.OperationTimeout > 0 {
		rc.OperationTimeout = cfg.OperationTimeout
	}
	if cfg.GracePeriod > 0 {
		rc.GracePeriod = cfg.GracePeriod
	}
	return rabbitmq.New(rc, logger)
}
