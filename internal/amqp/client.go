// Package amqp carries transaction imports over RabbitMQ: producers
// publish drafts, the worker consumes them with manual acknowledgement.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledger/internal/core"
	"ledger/internal/log"
)

var (
	// ErrDiscard marks a handler error for a message that will never
	// succeed. The message is rejected without requeue.
	ErrDiscard = errors.New("discard message")
	// ErrStopConsuming requeues the message and ends ConsumeImports.
	ErrStopConsuming = errors.New("stop consuming")
	// ErrCircuitOpen is returned by publish calls while the broker is
	// considered down.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Circuit breaker states.
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

// ImportHandler processes one import. See ErrDiscard and ErrStopConsuming.
type ImportHandler func(ctx context.Context, msg *ImportMessage) error

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Nop()
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key is the queue name.
	if err := ch.QueueBind(queueName, queueName, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// PublishImport publishes draft as a persistent message and returns the
// message id.
func (c *Client) PublishImport(ctx context.Context, draft core.TransactionDraft) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.isCircuitOpen() {
		return "", ErrCircuitOpen
	}

	msg := NewImportMessage(draft)
	body, err := msg.ToJSON()
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	ch := c.currentChannel()
	if ch == nil {
		c.recordFailure()
		return "", errors.New("amqp channel not open")
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		pubCtx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.logger.WarnContext(ctx, "Broker connection lost, reconnecting", log.FieldError, err)
			if rerr := c.connect(); rerr != nil {
				c.logger.ErrorContext(ctx, "Reconnect failed", log.FieldError, rerr)
			}
		}
		return "", fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.InfoContext(ctx, "Published import message",
		log.FieldMessageID, msg.ID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return msg.ID, nil
}

// ConsumeImports delivers import messages to handler until ctx is done or
// the handler returns an error wrapping ErrStopConsuming. A dropped
// connection is re-established with exponential backoff.
func (c *Client) ConsumeImports(ctx context.Context, handler ImportHandler) error {
	attempt := 0
	for {
		msgs, err := c.consume()
		if err != nil {
			if !isConnectionError(err) && !errors.Is(err, amqp091.ErrClosed) {
				return err
			}
			wait := exponentialBackoff(attempt)
			attempt++
			c.logger.WarnContext(ctx, "Consumer unavailable, retrying", log.FieldError, err, "backoff", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if rerr := c.connect(); rerr != nil {
				c.logger.WarnContext(ctx, "Reconnect failed", log.FieldError, rerr)
			}
			continue
		}
		attempt = 0

		c.logger.InfoContext(ctx, "Started consuming import messages", "queue", c.queueName)
		err = c.drain(ctx, msgs, handler)
		if err == nil {
			// Delivery channel closed by the broker; reconnect.
			c.logger.WarnContext(ctx, "Delivery channel closed")
			continue
		}
		return err
	}
}

func (c *Client) consume() (<-chan amqp091.Delivery, error) {
	ch := c.currentChannel()
	if ch == nil || ch.IsClosed() {
		return nil, amqp091.ErrClosed
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return msgs, nil
}

// drain returns nil when msgs closes, otherwise the reason to stop.
func (c *Client) drain(ctx context.Context, msgs <-chan amqp091.Delivery, handler ImportHandler) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handleDelivery(ctx, delivery, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery settles one delivery and returns a non-nil error only when
// consumption must stop.
func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler ImportHandler) error {
	msg, err := ImportMessageFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
		_ = d.Nack(false, false)
		return nil
	}

	fields := log.NewFields().WithOperation(log.OpImport)
	fields[log.FieldMessageID] = msg.ID

	err = handler(ctx, msg)
	switch {
	case err == nil:
		if aerr := d.Ack(false); aerr != nil {
			c.logger.WarnContext(ctx, "Ack failed", fields.WithError(aerr, log.ErrorTypeNetwork).ToSlice()...)
		}
		return nil
	case errors.Is(err, ErrDiscard):
		c.logger.WarnContext(ctx, "Discarding import message", fields.WithError(err, log.ErrorTypeValidation).ToSlice()...)
		_ = d.Nack(false, false)
		return nil
	case errors.Is(err, ErrStopConsuming):
		c.logger.WarnContext(ctx, "Import requeued, consumption stopped", fields.WithError(err, log.ErrorTypeAuth).ToSlice()...)
		_ = d.Nack(false, true)
		return err
	default:
		c.logger.ErrorContext(ctx, "Failed to handle message, requeueing", fields.WithError(err, log.ErrorTypeInternal).ToSlice()...)
		_ = d.Nack(false, true)
		return nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.failMu.Lock()
		elapsed := time.Since(c.lastFailure)
		c.failMu.Unlock()
		if elapsed > openTimeout {
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
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff doubles from one second up to maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
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
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "use of closed network connection", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
