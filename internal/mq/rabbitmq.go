package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rewear/apiserver/config"
)

const (
	rabbitExchangeKind = "topic"
	defaultQueueSuffix = ".notifier"
)

// RabbitMQClient fans events out through one topic exchange per channel.
// Messages are routed by event type, and every subscriber group reads from its
// own queue bound to the exchange, so the notifier never competes with other
// consumers for an event.
type RabbitMQClient struct {
	conn        *amqp.Connection
	pub         *amqp.Channel
	durable     bool
	autoDelete  bool
	prefetch    int
	queueSuffix string

	mu        sync.Mutex
	exchanges map[string]bool
}

// NewRabbitMQClient dials the broker and opens the publishing channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	suffix := cfg.QueueSuffix
	if suffix == "" {
		suffix = defaultQueueSuffix
	}

	return &RabbitMQClient{
		conn:        conn,
		pub:         pub,
		durable:     cfg.QueueDurable,
		autoDelete:  cfg.QueueAutoDelete,
		prefetch:    cfg.PrefetchCount,
		queueSuffix: suffix,
		exchanges:   map[string]bool{},
	}, nil
}

// Publish sends a JSON event to the channel's exchange.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return "", errors.New("rabbitmq channel is required")
	}
	if err := r.ensureExchange(r.pub, channel); err != nil {
		return "", err
	}

	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}

	messageID := uuid.NewString()
	err := r.pub.PublishWithContext(ctx, channel, routingKey(attrs), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode(r.durable),
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return messageID, nil
}

// Subscribe binds this client's group queue to the channel's exchange and
// hands every delivery to handler until ctx is done. A delivery whose handler
// fails is requeued once and dropped on the second failure.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return errors.New("rabbitmq channel is required")
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
	}()

	if r.prefetch > 0 {
		if err := ch.Qos(r.prefetch, 0, false); err != nil {
			return err
		}
	}
	if err := r.declareExchange(ch, channel); err != nil {
		return err
	}

	queue := queueName(channel, r.queueSuffix)
	if _, err := ch.QueueDeclare(queue, r.durable, r.autoDelete, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "#", channel, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "rewear-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
			}
			if err := handler(ctx, msg); err != nil {
				_ = delivery.Nack(false, !delivery.Redelivered)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the publishing channel and the connection.
func (r *RabbitMQClient) Close() error {
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// ensureExchange declares the exchange on the publishing channel once.
func (r *RabbitMQClient) ensureExchange(ch *amqp.Channel, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchanges[name] {
		return nil
	}
	if err := r.declareExchange(ch, name); err != nil {
		return err
	}
	r.exchanges[name] = true
	return nil
}

func (r *RabbitMQClient) declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, rabbitExchangeKind, r.durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

func queueName(channel, suffix string) string {
	return channel + suffix
}

// routingKey routes by event type so consumers can bind to a subset later.
func routingKey(attrs map[string]string) string {
	if kind := strings.TrimSpace(attrs[eventTypeAttr]); kind != "" {
		return kind
	}
	return "event"
}

func deliveryMode(durable bool) uint8 {
	if durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch v := value.(type) {
		case string:
			attrs[key] = v
		case []byte:
			attrs[key] = string(v)
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	return attrs
}
