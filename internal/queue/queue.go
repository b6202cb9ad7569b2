// Package queue decouples webhook ingestion from processing. The API
// process enqueues jobs; the delivery worker consumes them.
package queue

import "context"

// Message is one queued payload with its provider-side receipt.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the transport the gateway enqueues jobs onto. SQS in
// production, an in-process queue in development and tests.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
