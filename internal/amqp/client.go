// Package amqp is the RabbitMQ events.Dispatcher.
//
// Every event name gets a durable queue "<prefix>.<name>" bound to a durable
// direct exchange with the event name as routing key. Consumers acknowledge
// manually: success acks, a handler error requeues, and a malformed payload is
// rejected without requeue. Publishing sits behind a circuit breaker and
// consumers reconnect with exponential backoff.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledger/internal/core"
	"ledger/internal/events"
)

const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

type Client struct {
	url          string
	exchangeName string
	queuePrefix  string
	prefetch     int

	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool

	state        int32
	failureCount int64
	lastFailure  time.Time
}

var _ events.Dispatcher = (*Client)(nil)

// NewClient dials the broker and declares the exchange. prefetch bounds the
// number of unacknowledged deliveries handled concurrently per subscription.
func NewClient(url, exchangeName, queuePrefix string, prefetch int) (*Client, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queuePrefix:  queuePrefix,
		prefetch:     prefetch,
		declared:     make(map[string]bool),
	}

	if _, err := client.publishChannel(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// QueueName is the queue that receives events published under name.
func (c *Client) QueueName(name string) string {
	if c.queuePrefix == "" {
		return name
	}
	return c.queuePrefix + "." + name
}

// connect opens the connection if needed. Caller holds mu.
func (c *Client) connect() error {
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	c.conn = conn
	c.channel = nil
	c.declared = make(map[string]bool)
	return nil
}

func (c *Client) publishChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return nil, err
	}
	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := c.declareExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	c.channel = ch
	return ch, nil
}

func (c *Client) declareExchange(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// declareQueue makes sure the queue for name exists and is bound, so that
// events published before any consumer starts are kept.
func (c *Client) declareQueue(ch *amqp091.Channel, name string) (string, error) {
	queue := c.QueueName(name)
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, name, c.exchangeName, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return queue, nil
}

func (c *Client) ensureDeclared(ch *amqp091.Channel, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declared[name] {
		return nil
	}
	if _, err := c.declareQueue(ch, name); err != nil {
		return err
	}
	c.declared[name] = true
	return nil
}

// Publish sends payload as a persistent JSON message routed by name.
func (c *Client) Publish(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: circuit breaker is open: %w", name, core.ErrExternalService)
	}

	ch, err := c.publishChannel()
	if err == nil {
		err = c.ensureDeclared(ch, name)
	}
	if err == nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = ch.PublishWithContext(
			pubCtx,
			c.exchangeName, // exchange
			name,           // routing key
			false,          // mandatory
			false,          // immediate
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				Timestamp:    time.Now(),
				Type:         name,
				Body:         payload,
			},
		)
		cancel()
	}
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.resetChannel()
		}
		return fmt.Errorf("publish %s: %w: %v", name, core.ErrExternalService, err)
	}

	c.recordSuccess()
	slog.DebugContext(ctx, "Published event", "event", name, "exchange", c.exchangeName)
	return nil
}

func (c *Client) resetChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
}

// Subscribe consumes the queue for name until ctx is cancelled, reconnecting
// with exponential backoff whenever the broker connection drops.
func (c *Client) Subscribe(ctx context.Context, name string, h events.Handler) error {
	attempt := 0
	for {
		err := c.consume(ctx, name, h, func() { attempt = 0 })
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping event consumption", "event", name, "reason", ctx.Err())
			return ctx.Err()
		}

		delay := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "Event consumer interrupted, reconnecting",
			"event", name, "error", err, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) consume(ctx context.Context, name string, h events.Handler, connected func()) error {
	c.mu.Lock()
	err := c.connect()
	conn := c.conn
	c.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := c.declareExchange(ch); err != nil {
		return err
	}
	queue, err := c.declareQueue(ch, name)
	if err != nil {
		return err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	connected()
	slog.InfoContext(ctx, "Started consuming events", "event", name, "queue", queue, "prefetch", c.prefetch)

	var wg sync.WaitGroup
	closed := make(chan struct{})
	var once sync.Once
	for i := 0; i < c.prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-msgs:
					if !ok {
						once.Do(func() { close(closed) })
						return
					}
					c.handle(ctx, name, delivery, h)
				}
			}
		}()
	}
	wg.Wait()

	select {
	case <-closed:
		return fmt.Errorf("delivery channel closed")
	default:
		return ctx.Err()
	}
}

func (c *Client) handle(ctx context.Context, name string, d amqp091.Delivery, h events.Handler) {
	err := h(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			slog.ErrorContext(ctx, "Failed to ack event", "event", name, "error", ackErr)
		}
	case errors.Is(err, events.ErrMalformed):
		slog.ErrorContext(ctx, "Rejecting malformed event", "event", name, "error", err)
		_ = d.Nack(false, false)
	default:
		slog.ErrorContext(ctx, "Failed to handle event, requeueing", "event", name, "error", err,
			"redelivered", d.Redelivered)
		_ = d.Nack(false, true)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		if time.Since(c.lastFailure) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.lastFailure = time.Now()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff is 1s doubled per attempt, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
