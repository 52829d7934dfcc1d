package main

import (
	"context"
	"log"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	"github.com/Apurer/order-fulfillment/internal/app/paymentworker"
)

func main() {
	ctx, stop := bootstrap.SignalContext(context.Background())
	defer stop()
	if err := paymentworker.Run(ctx); err != nil {
		log.Fatalf("payment-worker: %v", err)
	}
}
