package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, body []byte) error
}

// AMQPConsumer drains a durable RabbitMQ queue. It reconnects with
// exponential backoff until ctx is cancelled. Failed deliveries are
// requeued once; a redelivered message that fails again is rejected.
type AMQPConsumer struct {
	url      string
	queue    string
	prefetch int
	logger   zerolog.Logger
	handler  DeliveryHandler
}

func NewAMQPConsumer(url, queue string, logger zerolog.Logger, handler DeliveryHandler) *AMQPConsumer {
	return &AMQPConsumer{
		url:      url,
		queue:    queue,
		prefetch: 20,
		logger:   logger,
		handler:  handler,
	}
}

func (c *AMQPConsumer) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Error().Err(err).Dur("retry_in", backoff).Msg("amqp dial failed")
			sleep(ctx, backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("amqp consume loop ended; reconnecting")
		sleep(ctx, 2*time.Second)
	}
}

func (c *AMQPConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.logger.Warn().Err(err).Msg("amqp qos failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.settle(ctx, d, d.Body, d.MessageId, d.Redelivered)
		}
	}
}

// acknowledger is the settling half of amqp.Delivery.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple bool, requeue bool) error
}

func (c *AMQPConsumer) settle(ctx context.Context, ack acknowledger, body []byte, messageID string, redelivered bool) {
	if err := c.handler.HandleDelivery(ctx, body); err != nil {
		c.logger.Error().Err(err).Str("message_id", messageID).Bool("redelivered", redelivered).Msg("handle delivery failed")
		if err := ack.Nack(false, !redelivered); err != nil {
			c.logger.Error().Err(err).Str("message_id", messageID).Msg("nack failed")
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		c.logger.Error().Err(err).Str("message_id", messageID).Msg("ack failed")
	}
}
