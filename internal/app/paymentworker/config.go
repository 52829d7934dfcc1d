package paymentworker

import (
	"time"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	"github.com/Apurer/order-fulfillment/internal/domains/payments/adapters/gateway"
)

// Config carries environment-driven settings for the payment worker.
type Config struct {
	// Port serves the liveness probe; empty disables it.
	Port         string
	Broker       bootstrap.BrokerConfig
	PaymentDelay time.Duration
	// GatewayURL selects the HTTP payment gateway; empty uses the simulator.
	GatewayURL string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Port:       bootstrap.EnvOrDefault("PORT", "4003"),
		GatewayURL: bootstrap.EnvOrDefault("PAYMENT_GATEWAY_URL", ""),
	}
	var err error
	if cfg.Broker, err = bootstrap.LoadBrokerConfig(); err != nil {
		return Config{}, err
	}
	if cfg.PaymentDelay, err = bootstrap.Duration("PAYMENT_DELAY", gateway.DefaultDelay); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
