package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/storefront/internal/mail"
)

// errPermanent marks payloads that will never succeed and must not be
// requeued.
var errPermanent = errors.New("permanent failure")

// StartMailConsumer connects to RabbitMQ, declares the mail queue (durable)
// and delivers each job through sender.  It reconnects with backoff when the
// broker goes away and returns only once ctx is cancelled.  Malformed jobs
// are rejected without requeue; delivery failures are requeued once.
func StartMailConsumer(ctx context.Context, url string, sender mail.Mailer) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warnf("mail-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, sender)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("mail-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sender mail.Mailer) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		log.Warnf("mail-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(MailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(MailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			err := handleMessage(ctx, d.Body, sender)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, errPermanent):
				log.Errorf("mail-consumer: drop message: %v", err)
				_ = d.Nack(false, false)
			default:
				log.Errorf("mail-consumer: deliver failed: %v", err)
				_ = d.Nack(false, !d.Redelivered)
			}
		}
	}
}

func handleMessage(ctx context.Context, body []byte, sender mail.Mailer) error {
	var ev MailRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", errPermanent, err)
	}
	if ev.To == "" {
		return fmt.Errorf("%w: missing recipient", errPermanent)
	}
	if _, err := mail.Render(ev.Message); err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return sender.Send(sendCtx, ev.Message)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
