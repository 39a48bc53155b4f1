// Package queue defines message payloads exchanged over the message broker
// and the consumer that delivers them.
package queue

import "github.com/iliyamo/storefront/internal/mail"

// MailQueueName is the durable queue carrying mail jobs.
const MailQueueName = "mail.requested"

// MailRequestedEvent is published when a flow needs an email sent.  It
// carries everything the worker needs to render the message without
// querying the primary database.
type MailRequestedEvent struct {
	mail.Message
	RequestedAt string `json:"requested_at"`
}
