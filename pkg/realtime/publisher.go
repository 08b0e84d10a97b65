/**
 * @description
 * This package provides the best-effort realtime signal publisher. The transfer
 * orchestrator uses it to push "transaction completed/received" events to
 * connected clients on a per-user topic. Delivery is not guaranteed and nothing
 * is persisted; a broker outage degrades to a logged no-op.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const exchangeName = "realtime.events"

// Publisher pushes payloads onto per-user topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close()
}

// NoopPublisher is the fallback used when the broker is unavailable at startup.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	log.Printf("level=warn component=realtime mode=fallback msg=\"publish skipped\" topic=%s", topic)
	return nil
}

func (NoopPublisher) Close() {}

// AMQPPublisher publishes realtime signals to a durable topic exchange.
type AMQPPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher connects to the broker and declares the realtime exchange.
func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Publish sends one payload to the topic. Topics use the "user:<id>" form and
// are mapped onto AMQP routing keys.
func (p *AMQPPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	routingKey := strings.ReplaceAll(topic, ":", ".")
	err = p.channel.PublishWithContext(ctx,
		exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		log.Printf("level=warn component=realtime msg=\"publish failed; reopening channel\" topic=%s err=%v", topic, err)
		// One-shot retry: reopen the channel and try again.
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if exErr := p.channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); exErr == nil {
					return p.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						Timestamp:   time.Now(),
						Body:        body,
					})
				}
			}
		}
		return err
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
