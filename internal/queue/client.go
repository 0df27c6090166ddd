package queue

import "context"

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is a received message and the handle needed to acknowledge it.
type Delivery struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// Consumer receives and acknowledges queued analysis jobs.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}
