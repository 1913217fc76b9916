package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker nacks a published job.
var ErrNotConfirmed = errors.New("broker did not confirm message")

// publisher sends one message and reports whether the broker accepted it.
type publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	Close() error
}

// AMQPConfig configures Dial.
type AMQPConfig struct {
	URL      string
	Exchange string
	Links    Links
	// ConfirmTimeout bounds the wait for a publisher confirm. Zero means 5s.
	ConfirmTimeout time.Duration
}

// AMQPMailer publishes email jobs to RabbitMQ.
type AMQPMailer struct {
	pub      publisher
	exchange string
	links    Links
	timeout  time.Duration
	now      func() time.Time
}

// Dial connects, declares the durable topic exchange and puts the channel in
// confirm mode.
func Dial(cfg AMQPConfig) (*AMQPMailer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return newAMQPMailer(&confirmingChannel{conn: conn, ch: ch}, cfg), nil
}

func newAMQPMailer(pub publisher, cfg AMQPConfig) *AMQPMailer {
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AMQPMailer{
		pub:      pub,
		exchange: cfg.Exchange,
		links:    cfg.Links,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (m *AMQPMailer) SendEmailVerification(ctx context.Context, email, name, code string) error {
	return m.publish(ctx, verificationJob(m.links, email, name, code, m.now()))
}

func (m *AMQPMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	return m.publish(ctx, passwordResetJob(m.links, email, token, m.now()))
}

func (m *AMQPMailer) SendInvitation(ctx context.Context, email, inviterName, token string, expiresAt time.Time) error {
	return m.publish(ctx, invitationJob(m.links, email, inviterName, token, expiresAt, m.now()))
}

func (m *AMQPMailer) publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	return m.pub.Publish(ctx, m.exchange, job.Kind.RoutingKey(), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    job.CreatedAt,
		Type:         string(job.Kind),
		Body:         body,
	})
}

// Close closes the channel and connection.
func (m *AMQPMailer) Close() error {
	return m.pub.Close()
}

// confirmingChannel serializes publishes on one channel and waits for each
// confirm.
type confirmingChannel struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (c *confirmingChannel) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	c.mu.Lock()
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, key)
	}
	return nil
}

func (c *confirmingChannel) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
