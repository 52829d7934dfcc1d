package main

import (
	"context"
	"log"

	"github.com/Apurer/order-fulfillment/internal/app/bootstrap"
	"github.com/Apurer/order-fulfillment/internal/app/orderservice"
)

func main() {
	ctx, stop := bootstrap.SignalContext(context.Background())
	defer stop()
	if err := orderservice.Run(ctx); err != nil {
		log.Fatalf("order-service: %v", err)
	}
}
