package messaging

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Subscription pairs a queue, the topic it is bound to and its handler.
type Subscription struct {
	Queue   string
	Topic   string
	Handler Handler
}

// BindAll binds every subscription's queue to its topic. A process calls it
// before publishing so that no event it triggers can precede its own queues.
func BindAll(ctx context.Context, b Broker, subs ...Subscription) error {
	for _, sub := range subs {
		topic := sub.Topic
		if topic == "" {
			topic = sub.Queue
		}
		if err := b.Bind(ctx, sub.Queue, topic); err != nil {
			return fmt.Errorf("bind %s to %s: %w", sub.Queue, topic, err)
		}
	}
	return nil
}

// Serve binds every subscription and consumes them concurrently until ctx ends
// or a consumer fails.
func Serve(ctx context.Context, b Broker, subs ...Subscription) error {
	if err := BindAll(ctx, b, subs...); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			return b.Consume(gctx, sub.Queue, sub.Handler)
		})
	}
	return g.Wait()
}
