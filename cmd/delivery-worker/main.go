package main

import (
	"context"
	"log"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	"github.com/Apurer/order-fulfillment/internal/app/deliveryworker"
)

func main() {
	ctx, stop := bootstrap.SignalContext(context.Background())
	defer stop()
	if err := deliveryworker.Run(ctx); err != nil {
		log.Fatalf("delivery-worker: %v", err)
	}
}
