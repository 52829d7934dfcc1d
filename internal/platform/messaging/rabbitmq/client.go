// Package rabbitmq implements the messaging contract on top of RabbitMQ with a
// supervised connection that reconnects indefinitely and re-declares topology.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
)

var _ messaging.Broker = (*Client)(nil)

var (
	errNotConfirmed     = errors.New("rabbitmq: publish not confirmed by broker")
	errSubscriptionLost = errors.New("rabbitmq: delivery stream closed")
)

// Config tunes connection supervision and delivery handling.
type Config struct {
	URL string
	// RetryInterval is the fixed reconnect delay, or the first delay when ExponentialBackoff is set.
	RetryInterval      time.Duration
	ExponentialBackoff bool
	MaxRetryInterval   time.Duration
	// OperationTimeout bounds a single publish attempt and a single handler invocation.
	OperationTimeout time.Duration
	// GracePeriod bounds how long in-flight handlers may run after shutdown starts.
	GracePeriod     time.Duration
	RedeliveryDelay time.Duration
	Prefetch        int
	Heartbeat       time.Duration
	DialTimeout     time.Duration
}

// DefaultConfig returns the production defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		RetryInterval:    5 * time.Second,
		MaxRetryInterval: 30 * time.Second,
		OperationTimeout: 120 * time.Second,
		GracePeriod:      10 * time.Second,
		RedeliveryDelay:  time.Second,
		Prefetch:         1,
		Heartbeat:        10 * time.Second,
		DialTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.URL)
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxRetryInterval < c.RetryInterval {
		c.MaxRetryInterval = max(def.MaxRetryInterval, c.RetryInterval)
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.RedeliveryDelay < 0 {
		c.RedeliveryDelay = 0
	}
	if c.Prefetch <= 0 {
		c.Prefetch = def.Prefetch
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = def.Heartbeat
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

type binding struct {
	queue string
	topic string
}

// Client owns one AMQP connection per process. Run supervises it; publishers
// and consumers block while it is down instead of failing.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubChan   *amqp.Channel
	connected bool
	ready     chan struct{}
	bindings  []binding
	exchanges map[string]struct{}

	// declMu orders Bind against the topology declaration of a new session,
	// so a binding is either in the session's snapshot or declared by Bind.
	declMu sync.Mutex

	// admitMu makes the closed check and inflight.Add atomic against Close.
	admitMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

// New builds a client; no connection is attempted until Run is called.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &Client{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "rabbitmq")),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Run connects and keeps the session alive until ctx is done or Close is called.
// Connection failures are logged and retried; they never end Run.
func (c *Client) Run(ctx context.Context) error {
	policy := c.reconnectPolicy()
	for {
		if c.isClosed() || ctx.Err() != nil {
			return nil
		}
		connClosed, chClosed, err := c.connect()
		if err != nil {
			wait := policy.NextBackOff()
			c.logger.Warn("rabbitmq connect failed", slog.String("error", err.Error()), slog.Duration("retry_in", wait))
			if !c.sleep(ctx, wait) {
				return nil
			}
			continue
		}
		policy.Reset()
		c.logger.Info("rabbitmq connected", slog.Int("bindings", len(c.declaredBindings())))

		var reason *amqp.Error
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case reason = <-connClosed:
		case reason = <-chClosed:
		}
		c.disconnect()
		attrs := []any{}
		if reason != nil {
			attrs = append(attrs, slog.String("reason", reason.Reason), slog.Int("code", reason.Code))
		}
		c.logger.Warn("rabbitmq connection lost, reconnecting", attrs...)
	}
}

// DeclareDurable declares queue with its dead-letter queue and binds it to the
// fanout exchange of the same name.
func (c *Client) DeclareDurable(ctx context.Context, queue string) error {
	return c.Bind(ctx, queue, queue)
}

// Bind records the binding and declares it when a session is live. Recorded
// bindings are re-declared after every reconnect, so Bind never waits for the broker.
func (c *Client) Bind(_ context.Context, queue, topic string) error {
	if c.isClosed() {
		return messaging.ErrClosed
	}
	b := binding{queue: queue, topic: topic}
	c.declMu.Lock()
	defer c.declMu.Unlock()
	c.remember(b)
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return nil
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: %w", messaging.ErrUnavailable, err)
	}
	defer func() { _ = ignoreClosed(ch.Close()) }()
	if err := declareBinding(ch, b); err != nil {
		return err
	}
	c.markExchange(topic)
	return nil
}

// Publish sends body to the topic exchange as a persistent message and waits for
// the broker confirm. Failed attempts are retried across reconnects until
// confirmed or ctx ends.
func (c *Client) Publish(ctx context.Context, topic string, body []byte) error {
	msg := amqp.Publishing{
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	op := func() error {
		if c.isClosed() {
			return backoff.Permanent(messaging.ErrClosed)
		}
		ch, err := c.waitReady(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.publishOnce(ctx, ch, topic, msg)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("rabbitmq publish failed, retrying",
			slog.String("topic", topic),
			slog.String("message_id", msg.MessageId),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.publishPolicy(), ctx), notify); err != nil {
		if errors.Is(err, messaging.ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: publish to %s: %w", messaging.ErrUnavailable, topic, err)
	}
	return nil
}

// Consume delivers messages from queue to handler one at a time, re-subscribing
// after connection loss, until ctx is done or the client is closed. The queue
// must have been declared with DeclareDurable or Bind.
func (c *Client) Consume(ctx context.Context, queue string, handler messaging.Handler) error {
	for {
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		err := c.subscribe(ctx, queue, handler)
		if err == nil {
			return nil
		}
		c.logger.Warn("rabbitmq subscription interrupted", slog.String("queue", queue), slog.String("error", err.Error()))
		if !c.sleep(ctx, c.cfg.RetryInterval) {
			return nil
		}
	}
}

// Status reports whether a session is currently live.
func (c *Client) Status() messaging.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.connected {
		return messaging.StatusConnected
	}
	return messaging.StatusDisconnected
}

// Close stops fetching, waits for in-flight handlers up to the grace period
// and then releases the channel and connection.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.admitMu.Lock()
		close(c.closed)
		c.admitMu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.GracePeriod):
		c.logger.Warn("rabbitmq grace period elapsed with handlers in flight")
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.pubChan != nil {
		err = errors.Join(err, ignoreClosed(c.pubChan.Close()))
		c.pubChan = nil
	}
	if c.conn != nil {
		err = errors.Join(err, ignoreClosed(c.conn.Close()))
		c.conn = nil
	}
	c.connected = false
	return err
}

func (c *Client) connect() (<-chan *amqp.Error, <-chan *amqp.Error, error) {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat: c.cfg.Heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(c.cfg.DialTimeout),
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	c.declMu.Lock()
	defer c.declMu.Unlock()
	exchanges := map[string]struct{}{}
	for _, b := range c.declaredBindings() {
		if err := declareBinding(ch, b); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		exchanges[b.topic] = struct{}{}
	}
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn = conn
	c.pubChan = ch
	c.exchanges = exchanges
	c.connected = true
	close(c.ready)
	c.mu.Unlock()
	return connClosed, chClosed, nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.connected = false
	c.ready = make(chan struct{})
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.pubChan = nil
}

func (c *Client) waitReady(ctx context.Context) (*amqp.Channel, error) {
	for {
		c.mu.RLock()
		ch, connected, ready := c.pubChan, c.connected, c.ready
		c.mu.RUnlock()
		if connected {
			return ch, nil
		}
		select {
		case <-ready:
		case <-c.closed:
			return nil, messaging.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) waitConn(ctx context.Context) (*amqp.Connection, error) {
	if _, err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, messaging.ErrUnavailable
	}
	return c.conn, nil
}

func (c *Client) publishOnce(ctx context.Context, ch *amqp.Channel, topic string, msg amqp.Publishing) error {
	if !c.hasExchange(topic) {
		if err := ch.ExchangeDeclare(topic, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", topic, err)
		}
		c.markExchange(topic)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	dc, err := ch.PublishWithDeferredConfirmWithContext(attemptCtx, topic, "", false, false, msg)
	if err != nil {
		return err
	}
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(attemptCtx)
	if err != nil {
		return err
	}
	if !acked {
		return errNotConfirmed
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context, queue string, handler messaging.Handler) error {
	conn, err := c.waitConn(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, messaging.ErrClosed) {
			return nil
		}
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ignoreClosed(ch.Close()) }()
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return err
	}
	tag := fmt.Sprintf("%s-%s", queue, uuid.NewString()[:8])
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.logger.Info("rabbitmq consumer subscribed", slog.String("queue", queue), slog.String("consumer", tag))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return nil
		case <-c.closed:
			_ = ch.Cancel(tag, false)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errSubscriptionLost
			}
			if ctx.Err() != nil || !c.admit() {
				// Fetched after shutdown began; hand it back unprocessed.
				_ = d.Nack(false, true)
				_ = ch.Cancel(tag, false)
				return nil
			}
			c.handle(ctx, queue, d, handler)
		}
	}
}

// admit registers an in-flight handler unless Close has started. A true result
// must be paired with inflight.Done.
func (c *Client) admit() bool {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()
	if c.isClosed() {
		return false
	}
	c.inflight.Add(1)
	return true
}

func (c *Client) handle(ctx context.Context, queue string, d amqp.Delivery, handler messaging.Handler) {
	defer c.inflight.Done()

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OperationTimeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		case <-c.closed:
		}
		select {
		case <-done:
		case <-time.After(c.cfg.GracePeriod):
			cancel()
		}
	}()

	msg := messaging.Message{
		ID:          d.MessageId,
		Queue:       queue,
		Body:        d.Body,
		Redelivered: d.Redelivered,
		PublishedAt: d.Timestamp,
	}
	err := messaging.Invoke(hctx, handler, msg)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Warn("rabbitmq ack failed", slog.String("queue", queue), slog.String("message_id", msg.ID), slog.String("error", ackErr.Error()))
		}
	case messaging.IsPermanent(err):
		c.logger.Warn("rabbitmq message dead-lettered",
			slog.String("queue", queue),
			slog.String("dead_letter_queue", messaging.DeadLetterQueue(queue)),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Warn("rabbitmq nack failed", slog.String("queue", queue), slog.String("error", nackErr.Error()))
		}
	default:
		c.logger.Warn("rabbitmq handler failed, message will be redelivered",
			slog.String("queue", queue),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
		c.sleep(ctx, c.cfg.RedeliveryDelay)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Warn("rabbitmq nack failed", slog.String("queue", queue), slog.String("error", nackErr.Error()))
		}
	}
}

func (c *Client) remember(b binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, known := range c.bindings {
		if known == b {
			return
		}
	}
	c.bindings = append(c.bindings, b)
}

func (c *Client) declaredBindings() []binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]binding(nil), c.bindings...)
}

func (c *Client) hasExchange(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.exchanges[topic]
	return ok
}

func (c *Client) markExchange(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exchanges == nil {
		c.exchanges = map[string]struct{}{}
	}
	c.exchanges[topic] = struct{}{}
}

func (c *Client) reconnectPolicy() backoff.BackOff {
	if !c.cfg.ExponentialBackoff {
		return backoff.NewConstantBackOff(c.cfg.RetryInterval)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxInterval = c.cfg.MaxRetryInterval
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

func (c *Client) publishPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = c.cfg.RetryInterval
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// declareBinding declares the topic fanout exchange, the durable queue with its
// dead-letter queue, and binds the queue to the exchange.
func declareBinding(ch *amqp.Channel, b binding) error {
	if err := ch.ExchangeDeclare(b.topic, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.topic, err)
	}
	dlq := messaging.DeadLetterQueue(b.queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	_, err := ch.QueueDeclare(b.queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", b.queue, err)
	}
	if err := ch.QueueBind(b.queue, "", b.topic, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", b.queue, b.topic, err)
	}
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
