// Package memory provides an in-process broker with the delivery semantics of
// the RabbitMQ client: durable-until-acked queues, one message in flight per
// consumer, redelivery on failure and dead-lettering of permanent failures.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
)

var _ messaging.Broker = (*Broker)(nil)

type queue struct {
	messages []messaging.Message
}

// Broker is an in-memory messaging.Broker for tests and local runs.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]*queue
	bindings  map[string][]string
	history   map[string][]messaging.Message
	available bool
	closed    bool
	changed   chan struct{}

	redeliveryDelay time.Duration
	now             func() time.Time
}

// Option customizes the broker.
type Option func(*Broker)

// WithRedeliveryDelay pauses before a failed message becomes visible again.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.redeliveryDelay = d
		}
	}
}

// WithClock overrides the publish timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroker returns an available broker with no queues.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		queues:          map[string]*queue{},
		bindings:        map[string][]string{},
		history:         map[string][]messaging.Message{},
		available:       true,
		changed:         make(chan struct{}),
		redeliveryDelay: 20 * time.Millisecond,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Run blocks until ctx is done or the broker is closed.
func (b *Broker) Run(ctx context.Context) error {
	for {
		b.mu.Lock()
		closed, changed := b.closed, b.changed
		b.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

// DeclareDurable creates the queue and its dead-letter queue when missing and
// binds the queue to the topic of the same name.
func (b *Broker) DeclareDurable(ctx context.Context, name string) error {
	return b.Bind(ctx, name, name)
}

// Bind declares queue and copies every message published to topic onto it.
func (b *Broker) Bind(_ context.Context, name, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return messaging.ErrClosed
	}
	b.queueLocked(name)
	b.queueLocked(messaging.DeadLetterQueue(name))
	b.bindLocked(name, topic)
	return nil
}

// Publish enqueues body on every queue bound to topic, waiting while the broker
// is unavailable. An unbound topic is delivered to the queue of the same name.
func (b *Broker) Publish(ctx context.Context, topic string, body []byte) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return messaging.ErrClosed
		}
		if b.available {
			if len(b.bindings[topic]) == 0 {
				b.bindLocked(topic, topic)
			}
			id, now := uuid.NewString(), b.now()
			for _, name := range b.bindings[topic] {
				msg := messaging.Message{
					ID:          id,
					Queue:       name,
					Body:        append([]byte(nil), body...),
					PublishedAt: now,
				}
				q := b.queueLocked(name)
				q.messages = append(q.messages, msg)
			}
			b.history[topic] = append(b.history[topic], messaging.Message{
				ID:          id,
				Queue:       topic,
				Body:        append([]byte(nil), body...),
				PublishedAt: now,
			})
			b.broadcastLocked()
			b.mu.Unlock()
			return nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", messaging.ErrUnavailable, ctx.Err())
		}
	}
}

// Consume hands messages to handler one at a time until ctx ends or the broker closes.
func (b *Broker) Consume(ctx context.Context, name string, handler messaging.Handler) error {
	for {
		msg, err := b.next(ctx, name)
		if err != nil {
			return nil
		}
		b.settle(name, msg, messaging.Invoke(ctx, handler, msg))
	}
}

// Status reports connected while the broker is available.
func (b *Broker) Status() messaging.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available && !b.closed {
		return messaging.StatusConnected
	}
	return messaging.StatusDisconnected
}

// Close stops all consumers and rejects further publishes.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.broadcastLocked()
	}
	return nil
}

// SetAvailable simulates a broker outage (false) or recovery (true).
func (b *Broker) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available != available {
		b.available = available
		b.broadcastLocked()
	}
}

// Redeliver places msg back on its queue as a redelivery, regardless of availability.
func (b *Broker) Redeliver(msg messaging.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg.Redelivered = true
	q := b.queueLocked(msg.Queue)
	q.messages = append(q.messages, msg)
	b.broadcastLocked()
}

// Published returns every message ever published to topic, in publish order.
func (b *Broker) Published(topic string) []messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]messaging.Message(nil), b.history[topic]...)
}

// Depth returns the number of messages waiting on name.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.messages)
	}
	return 0
}

// DeadLetters returns the messages parked on the dead-letter queue of name.
func (b *Broker) DeadLetters(name string) []messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[messaging.DeadLetterQueue(name)]; ok {
		return append([]messaging.Message(nil), q.messages...)
	}
	return nil
}

func (b *Broker) next(ctx context.Context, name string) (messaging.Message, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return messaging.Message{}, messaging.ErrClosed
		}
		q := b.queueLocked(name)
		if b.available && len(q.messages) > 0 {
			msg := q.messages[0]
			q.messages = q.messages[1:]
			b.mu.Unlock()
			return msg, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return messaging.Message{}, ctx.Err()
		}
	}
}

func (b *Broker) settle(name string, msg messaging.Message, err error) {
	switch {
	case err == nil:
		return
	case messaging.IsPermanent(err):
		b.mu.Lock()
		dlq := b.queueLocked(messaging.DeadLetterQueue(name))
		dlq.messages = append(dlq.messages, msg)
		b.broadcastLocked()
		b.mu.Unlock()
	default:
		if b.redeliveryDelay > 0 {
			time.Sleep(b.redeliveryDelay)
		}
		b.mu.Lock()
		msg.Redelivered = true
		q := b.queueLocked(name)
		q.messages = append([]messaging.Message{msg}, q.messages...)
		b.broadcastLocked()
		b.mu.Unlock()
	}
}

func (b *Broker) bindLocked(name, topic string) {
	for _, bound := range b.bindings[topic] {
		if bound == name {
			return
		}
	}
	b.bindings[topic] = append(b.bindings[topic], name)
}

func (b *Broker) queueLocked(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}
