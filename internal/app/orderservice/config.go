package orderservice

import (
	"strings"
	"time"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
)

// Config carries environment-driven settings for the order service.
type Config struct {
	// Port serves the API and probe; empty disables the HTTP server.
	Port          string
	Broker        bootstrap.BrokerConfig
	RelayInterval time.Duration
	// DeferralLimit is how often an out-of-order delivery update is retried before it is dead-lettered.
	DeferralLimit int
	DeferralDelay time.Duration
	// AllowedOrigins lists the browser origins served CORS headers; empty allows any.
	AllowedOrigins []string
}

// LoadConfig reads environment variables, applies defaults, and validates basic constraints.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:           bootstrap.EnvOrDefault("PORT", "4002"),
		AllowedOrigins: splitList(bootstrap.EnvOrDefault("CORS_ALLOWED_ORIGINS", "")),
	}
	var err error
	if cfg.Broker, err = bootstrap.LoadBrokerConfig(); err != nil {
		return Config{}, err
	}
	if cfg.RelayInterval, err = bootstrap.Duration("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DeferralLimit, err = bootstrap.PositiveInt("PROJECTOR_MAX_DEFERRALS", 3); err != nil {
		return Config{}, err
	}
	if cfg.DeferralDelay, err = bootstrap.Duration("PROJECTOR_DEFERRAL_DELAY", time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
