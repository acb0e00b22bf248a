package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"courtdesk/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends realtime updates to a topic exchange and outbound
// messages to a durable queue.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
	exchange string
	queue    string
	logger   *zerolog.Logger
}

// OutboundMessage is the body of a messaging job.
type OutboundMessage struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// Dial connects to RabbitMQ and declares the exchange and queue.
func Dial(cfg config.RabbitMQConfig, logger *zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.RealtimeExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.MessagingQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	p := newPublisher(ch, cfg.RealtimeExchange, cfg.MessagingQueue, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, queue string, logger *zerolog.Logger) *Publisher {
	l := logger.With().Str("component", "broker").Logger()
	return &Publisher{ch: ch, exchange: exchange, queue: queue, logger: &l}
}

// RoutingKey is the topic key of a realtime event on a channel.
func RoutingKey(channel, event string) string {
	return channel + "." + event
}

// Broadcast publishes a realtime event for subscribers of the channel.
func (p *Publisher) Broadcast(ctx context.Context, channel, event string, payload []byte) error {
	return p.publish(ctx, p.exchange, RoutingKey(channel, event), amqp.Publishing{
		ContentType: "application/json",
		Type:        event,
		Timestamp:   time.Now().UTC(),
		Body:        payload,
	})
}

// SendMessage queues an outbound text for the messaging service.
func (p *Publisher) SendMessage(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(OutboundMessage{Phone: phone, Text: text})
	if err != nil {
		return err
	}
	return p.publish(ctx, "", p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		p.logger.Warn().Err(err).Str("exchange", exchange).Str("routing_key", key).Msg("Publish failed")
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
