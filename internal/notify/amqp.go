package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"incident-api/internal/observability"
)

const DefaultEmailQueue = "notifications.email"

// AMQPSender publishes emails as persistent JSON messages on a durable queue.
// The connection is opened lazily and reopened after a failure.
type AMQPSender struct {
	url    string
	queue  string
	logger *observability.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSender(url, queue string, logger *observability.Logger) *AMQPSender {
	if queue == "" {
		queue = DefaultEmailQueue
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AMQPSender{url: url, queue: queue, logger: logger}
}

func (s *AMQPSender) Send(ctx context.Context, email Email) error {
	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         email.Kind,
			Body:         body,
		},
	)
	if err != nil {
		s.reset()
		return fmt.Errorf("publish email: %w", err)
	}

	s.logger.Debug("email_queued", map[string]any{"kind": email.Kind, "queue": s.queue})
	return nil
}

// channel returns an open channel, dialing when needed. Callers hold s.mu.
func (s *AMQPSender) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.reset()

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", s.queue, err)
	}

	s.conn = conn
	s.ch = ch
	return ch, nil
}

func (s *AMQPSender) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

// LogSender only records that an email would have been sent. It is used when
// no broker is configured; bodies are not logged because they carry tokens.
type LogSender struct {
	logger *observability.Logger
}

func NewLogSender(logger *observability.Logger) *LogSender {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.logger.Info("email_skipped", map[string]any{
		"kind":    email.Kind,
		"to":      email.To,
		"subject": email.Subject,
	})
	return nil
}
