package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"

	"ticketing/internal/dto"
)

type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	now      func() time.Time
}

type Config struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
}

func NewRabbit(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to connect to RabbitMQ")
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		zlog.Logger.Error().Err(err).Msg("failed to open RabbitMQ channel")
		return nil, err
	}

	client := &Client{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		queue:    cfg.Queue,
		now:      time.Now,
	}

	// requires the rabbitmq_delayed_message_exchange plugin
	args := amqp.Table{"x-delayed-type": "direct"}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"x-delayed-message",
		true,
		false,
		false,
		false,
		args,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare exchange")
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare queue")
		return nil, err
	}

	if err := ch.QueueBind(
		cfg.Queue,
		"",
		cfg.Exchange,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to bind queue")
		return nil, err
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			client.Close()
			zlog.Logger.Error().Err(err).Msg("failed to set prefetch")
			return nil, err
		}
	}

	zlog.Logger.Info().Msgf("RabbitMQ initialized (exchange=%s, queue=%s)", cfg.Exchange, cfg.Queue)

	return client, nil
}

func (c *Client) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	zlog.Logger.Info().Msg("RabbitMQ connection closed")
}

// ScheduleExpiry publishes a delayed message that comes back to the consumer
// once the hold on a booking runs out.
func (c *Client) ScheduleExpiry(ctx context.Context, bookingID, eventID string, at time.Time) error {
	body, err := json.Marshal(dto.ExpiryMessage{
		BookingID: bookingID,
		EventID:   eventID,
		ExpiresAt: at,
	})
	if err != nil {
		return fmt.Errorf("marshal expiry message: %w", err)
	}
	return c.Publish(ctx, body, at.Sub(c.now()))
}

func (c *Client) Publish(ctx context.Context, message []byte, delay time.Duration) error {
	err := c.channel.PublishWithContext(
		ctx,
		c.exchange,
		"",
		false,
		false,
		delayedPublishing(message, delay, c.now()),
	)

	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to publish message to RabbitMQ")
	} else {
		zlog.Logger.Debug().Msgf("Message published to exchange=%s delay=%s", c.exchange, delay)
	}
	return err
}

func delayedPublishing(message []byte, delay time.Duration, now time.Time) amqp.Publishing {
	headers := amqp.Table{}
	if delay > 0 {
		headers["x-delay"] = delay.Milliseconds()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         message,
		Timestamp:    now,
		Headers:      headers,
	}
}

// Consume delivers messages to handler until the channel closes. A handler
// error requeues the message.
func (c *Client) Consume(handler func([]byte) error) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to start consuming messages")
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				zlog.Logger.Warn().Msgf("failed to process message: %v", err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}()

	zlog.Logger.Info().Msgf("Started consuming from queue %s", c.queue)
	return nil
}
