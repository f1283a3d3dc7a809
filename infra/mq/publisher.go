// Package mq forwards dispatch lifecycle events to a RabbitMQ topic exchange
// so downstream systems (dashboards, notification services) can react without
// polling the store.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/raftaar/ambudispatch/core/events"
	"github.com/raftaar/ambudispatch/core/logger"
	"github.com/raftaar/ambudispatch/internal/eventbus"
)

// Config defines the event publisher settings.
type Config struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// SetDefaults assigns default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Exchange == "" {
		c.Exchange = "ambudispatch.events"
	}
}

// Validate checks the config when the publisher is enabled.
func (c Config) Validate() error {
	if c.Enabled && c.URL == "" {
		return fmt.Errorf("mq: url is required when enabled")
	}
	return nil
}

// Publisher drains the in-process event bus into the exchange. Publish
// failures are logged and dropped; dispatch never blocks on the broker.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      logger.Logger

	bus eventbus.EventBus
	sub <-chan eventbus.Event
	wg  sync.WaitGroup
}

// NewPublisher connects to the broker and declares the topic exchange.
func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mq: connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mq: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("mq: declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: cfg.Exchange, log: log}, nil
}

// Start subscribes to the bus and forwards events until Close.
func (p *Publisher) Start(bus eventbus.EventBus) {
	p.bus = bus
	p.sub = bus.Subscribe()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for e := range p.sub {
			p.forward(e)
		}
	}()
}

// Close unsubscribes, waits for the drain loop and tears down the connection.
func (p *Publisher) Close() error {
	if p.bus != nil && p.sub != nil {
		p.bus.Unsubscribe(p.sub)
	}
	p.wg.Wait()
	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("mq: close channel: %w", err)
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("mq: close connection: %w", err)
	}
	return nil
}

func (p *Publisher) forward(e eventbus.Event) {
	key, ok := routingKey(e)
	if !ok {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Errorf("mq: marshal %T: %v", e, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		p.log.Errorf("mq: publish %s: %v", key, err)
		return
	}
	p.log.Debugw("event published", map[string]any{"routing_key": key})
}

// routingKey maps dispatch events to topic keys. Unknown event types are
// skipped so new bus events do not break the publisher.
func routingKey(e eventbus.Event) (string, bool) {
	switch ev := e.(type) {
	case events.CallPlacedEvent:
		return "dispatch.call.placed", true
	case events.OutcomeEvent:
		return "dispatch.entry." + string(ev.Status), true
	case events.AssignedEvent:
		return "dispatch.booking.assigned", true
	case events.ExhaustedEvent:
		return "dispatch.booking.exhausted", true
	default:
		return "", false
	}
}
