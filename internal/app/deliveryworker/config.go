package deliveryworker

import (
	"time"

	"go.temporal.io/sdk/client"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	platformtemporal "github.com/Apurer/order-fulfillment/internal/platform/temporal"
)

// Config carries environment-driven settings for the delivery worker.
type Config struct {
	// Port serves the liveness probe; empty disables it.
	Port         string
	Broker       bootstrap.BrokerConfig
	Plan         domain.Plan
	PollInterval time.Duration
	Temporal     platformtemporal.Config
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Port: bootstrap.EnvOrDefault("PORT", "4004"),
		Temporal: platformtemporal.Config{
			Disabled:  bootstrap.IsTruthy(bootstrap.EnvOrDefault("TEMPORAL_DISABLED", "")),
			Address:   bootstrap.EnvOrDefault("TEMPORAL_ADDRESS", client.DefaultHostPort),
			Namespace: bootstrap.EnvOrDefault("TEMPORAL_NAMESPACE", client.DefaultNamespace),
		},
	}
	var err error
	if cfg.Broker, err = bootstrap.LoadBrokerConfig(); err != nil {
		return Config{}, err
	}
	if cfg.Plan.FirstStageDelay, err = bootstrap.Duration("DELIVERY_FIRST_DELAY", domain.DefaultFirstStageDelay); err != nil {
		return Config{}, err
	}
	if cfg.Plan.SecondStageDelay, err = bootstrap.Duration("DELIVERY_SECOND_DELAY", domain.DefaultSecondStageDelay); err != nil {
		return Config{}, err
	}
	if err := cfg.Plan.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = bootstrap.Duration("DELIVERY_POLL_INTERVAL", 250*time.Millisecond); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
