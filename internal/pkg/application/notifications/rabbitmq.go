package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const TelemetryExchange string = "telemetry"

const dialTimeout = 5 * time.Second

type TopicPublisher struct {
	url    string
	log    zerolog.Logger
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewTopicPublisher returns a publisher for the telemetry topic exchange. The broker is
// not contacted until the first message is sent, only the url is validated.
func NewTopicPublisher(url string, log zerolog.Logger) (*TopicPublisher, error) {
	if _, err := amqp.ParseURI(url); err != nil {
		return nil, fmt.Errorf("invalid message broker url: %w", err)
	}

	return &TopicPublisher{
		url: url,
		log: log,
	}, nil
}

func (p *TopicPublisher) connect() error {
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to message broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(TelemetryExchange, amqp.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", TelemetryExchange, err)
	}

	p.conn = conn
	p.ch = ch

	return nil
}

func (p *TopicPublisher) Send(ctx context.Context, msg TopicMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		p.log.Info().Msg("connecting to message broker")
		if err := p.connect(); err != nil {
			return err
		}
	}

	return p.ch.PublishWithContext(ctx, TelemetryExchange, msg.TopicName(), false, false, amqp.Publishing{
		ContentType: msg.ContentType(),
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
}

func (p *TopicPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
}
