package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPOptions configures the queue consumer.
type AMQPOptions struct {
	URL         string
	Exchange    string
	Queue       string
	BindingKeys []string
	Prefetch    int
}

// Consumer reads push frames from a durable AMQP queue. Frames are acked once
// published; frames that cannot be decoded are rejected without requeue.
type Consumer struct {
	opts    AMQPOptions
	bus     *bus.Bus
	backoff *retry.Policy
	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer creates an AMQP push source.
func NewConsumer(opts AMQPOptions, b *bus.Bus, backoff *retry.Policy, logger *zap.Logger) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 32
	}
	if len(opts.BindingKeys) == 0 {
		opts.BindingKeys = []string{"#"}
	}
	return &Consumer{opts: opts, bus: b, backoff: backoff, logger: logger}
}

// Start consumes in the background and keeps reconnecting until Stop.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop closes the connection and waits for the consumer to exit.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	connected := false
	attempt := 0
	for {
		err := c.session(ctx, func() {
			if connected {
				publish(c.bus, remote.ResyncEvent{Reason: "push queue reconnected"})
			}
			connected = true
			attempt = 0
			c.logger.Info("push queue connected", zap.String("queue", c.opts.Queue))
		})
		if ctx.Err() != nil {
			return
		}
		attempt++
		if !waitRetry(ctx, c.backoff, attempt, c.logger, err) {
			return
		}
	}
}

func (c *Consumer) session(ctx context.Context, onConnect func()) error {
	conn, err := amqp091.DialConfig(c.opts.URL, amqp091.Config{Heartbeat: 10 * time.Second})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	q, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if c.opts.Exchange != "" {
		if err := ch.ExchangeDeclare(c.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		for _, key := range c.opts.BindingKeys {
			if err := ch.QueueBind(q.Name, key, c.opts.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %q: %w", key, err)
			}
		}
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	onConnect()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(d)
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) handle(d amqp091.Delivery) {
	if _, err := dispatch(c.bus, d.Body); err != nil {
		c.logger.Warn("rejecting undecodable push message",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
