// Package queue_publisher publishes mail jobs to RabbitMQ.  Errors are
// logged and returned so callers can decide whether a failed publish should
// fail the request.
package queue_publisher

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/storefront/internal/mail"
	q "github.com/iliyamo/storefront/internal/queue"
)

// DefaultDialTimeout bounds the TCP dial and AMQP handshake when the
// caller's context carries no earlier deadline.
const DefaultDialTimeout = 5 * time.Second

// QueueMailer implements mail.Mailer by publishing a MailRequestedEvent to
// the mail queue; the worker command delivers it.
type QueueMailer struct {
	URL         string
	DialTimeout time.Duration
}

func NewQueueMailer(url string) *QueueMailer {
	return &QueueMailer{URL: url, DialTimeout: DefaultDialTimeout}
}

// dialer connects within ctx and stops the handshake at the earlier of the
// ctx deadline and the dial timeout.  The library clears the deadline once
// the connection is open.
func (m *QueueMailer) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		timeout := m.DialTimeout
		if timeout <= 0 {
			timeout = DefaultDialTimeout
		}
		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		d := net.Dialer{Deadline: deadline}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// Send publishes msg as a persistent message.
func (m *QueueMailer) Send(ctx context.Context, msg mail.Message) error {
	conn, err := amqp.DialConfig(m.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      m.dialer(ctx),
	})
	if err != nil {
		log.Errorf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Errorf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so jobs survive broker restarts.
	if _, err := ch.QueueDeclare(q.MailQueueName, true, false, false, false, nil); err != nil {
		log.Errorf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(q.MailRequestedEvent{
		Message:     msg,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", q.MailQueueName, false, false, pub); err != nil {
		log.Errorf("rabbitmq: publish failed: %v", err)
		return err
	}
	return nil
}
