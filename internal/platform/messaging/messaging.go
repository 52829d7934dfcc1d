// Package messaging defines the broker-neutral contract shared by the
// producers and consumers of the fulfillment saga.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable reports that the broker could not be reached in time.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrClosed is returned once the client has been shut down.
	ErrClosed = errors.New("broker client closed")
	// ErrDeserialization reports a message body that cannot be decoded into its event.
	ErrDeserialization = errors.New("malformed event payload")
)

// Status reports broker connectivity for liveness probes.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Message is a single delivery handed to a Handler.
type Message struct {
	ID          string
	Queue       string
	Body        []byte
	Redelivered bool
	PublishedAt time.Time
}

// Handler processes one delivery. Returning nil acknowledges the message,
// a Permanent error dead-letters it and any other error leaves it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher enqueues durable messages for a topic. Every queue bound to the
// topic receives its own copy; a queue declared with DeclareDurable is bound to
// the topic of the same name.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// Consumer delivers messages from a named queue to a handler until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler Handler) error
}

// Broker is the full client lifecycle owned by a single process.
type Broker interface {
	Publisher
	Consumer
	// Run keeps the broker session alive until ctx is done.
	Run(ctx context.Context) error
	// DeclareDurable ensures the queue and its dead-letter queue exist.
	DeclareDurable(ctx context.Context, queue string) error
	// Bind declares queue like DeclareDurable and subscribes it to topic.
	Bind(ctx context.Context, queue, topic string) error
	Status() Status
	// Close drains in-flight handlers and releases the session.
	Close(ctx context.Context) error
}

// DeadLetterQueue names the holding queue for unprocessable messages of queue.
func DeadLetterQueue(queue string) string {
	return queue + ".DLQ"
}

// SubscriptionQueue names the queue a subscriber group owns on topic, so that
// several services each receive every message published to the same topic.
func SubscriptionQueue(topic, subscriber string) string {
	return topic + "." + subscriber
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as unprocessable: the message is removed from its
// queue and routed to the dead-letter queue instead of being redelivered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was classified with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// PublishJSON marshals v and publishes it to topic.
func PublishJSON(ctx context.Context, p Publisher, topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return p.Publish(ctx, topic, body)
}

// Invoke runs handler and converts a panic into an error so the delivery is settled.
func Invoke(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s: %v", msg.Queue, r)
		}
	}()
	return handler(ctx, msg)
}

// DeclareAll declares every queue in order, stopping at the first failure.
func DeclareAll(ctx context.Context, b Broker, queues ...string) error {
	for _, q := range queues {
		if err := b.DeclareDurable(ctx, q); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return nil
}
