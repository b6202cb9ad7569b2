package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultVisibility = 30 * time.Second

// MemoryQueue is an in-process Queue that mimics SQS polling semantics:
// a waitSeconds of zero is a single immediate poll, and received
// messages stay invisible until deleted. An undeleted message is
// redelivered once its visibility window expires, so worker crash paths
// behave the same against this queue as against SQS.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []Message
	inflight   map[string]inflightEntry
	visibility time.Duration
	wake       chan struct{}
}

type inflightEntry struct {
	msg     Message
	expires time.Time
}

// NewMemoryQueue creates a MemoryQueue. The buffer is a capacity hint;
// the queue itself is unbounded.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		pending:    make([]Message, 0, buffer),
		inflight:   make(map[string]inflightEntry),
		visibility: defaultVisibility,
		wake:       make(chan struct{}, 1),
	}
}

// WithVisibility overrides how long a received message stays invisible
// before an undeleted copy is redelivered.
func (q *MemoryQueue) WithVisibility(d time.Duration) *MemoryQueue {
	if d > 0 {
		q.visibility = d
	}
	return q
}

// Send enqueues a payload.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	q.mu.Lock()
	q.pending = append(q.pending, Message{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns up to maxMessages visible messages. With waitSeconds
// zero it polls once and returns immediately; otherwise it waits up to
// that long for the first message to arrive.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var deadline <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if batch := q.take(maxMessages); len(batch) > 0 {
			return batch, nil
		}
		if waitSeconds == 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-q.wake:
		}
	}
}

// Delete acknowledges a received message so it is never redelivered.
// Unknown handles are a no-op, matching an already expired receipt.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	delete(q.inflight, receiptHandle)
	q.mu.Unlock()
	return nil
}

// take moves expired inflight messages back to pending, then claims up
// to max pending messages into the inflight set.
func (q *MemoryQueue) take(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for handle, entry := range q.inflight {
		if now.After(entry.expires) {
			q.pending = append(q.pending, entry.msg)
			delete(q.inflight, handle)
		}
	}

	n := max
	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil
	}

	batch := make([]Message, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]

	expires := now.Add(q.visibility)
	for _, msg := range batch {
		q.inflight[msg.ReceiptHandle] = inflightEntry{msg: msg, expires: expires}
	}
	return batch
}
