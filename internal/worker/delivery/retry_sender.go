package deliveryworker

import (
	"context"
	"time"

	"github.com/relaycrm/messaging-gateway/internal/messages"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

const (
	defaultRetryInterval  = 30 * time.Second
	defaultRetryBatchSize = 20
	defaultMaxAttempts    = 3
)

// RetryStore lists stored messages due for another send attempt.
type RetryStore interface {
	ListRetryCandidates(ctx context.Context, limit, maxAttempts int) ([]messages.Message, error)
}

// RetrySender sweeps pending outbound messages whose retry window has
// opened and redelivers them. It backstops the queue path: jobs lost
// between the pending insert and the queue land here.
type RetrySender struct {
	store       RetryStore
	deliverer   Deliverer
	logger      *logging.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewRetrySender(store RetryStore, deliverer Deliverer, logger *logging.Logger) *RetrySender {
	if logger == nil {
		logger = logging.Default()
	}
	return &RetrySender{
		store:       store,
		deliverer:   deliverer,
		logger:      logger,
		interval:    defaultRetryInterval,
		batchSize:   defaultRetryBatchSize,
		maxAttempts: defaultMaxAttempts,
	}
}

func (r *RetrySender) WithInterval(d time.Duration) *RetrySender {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *RetrySender) WithBatchSize(n int) *RetrySender {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *RetrySender) WithMaxAttempts(n int) *RetrySender {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Start blocks, sweeping on the configured interval until ctx is
// canceled. A final sweep runs before returning.
func (r *RetrySender) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("retry sender starting", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.sweep(context.Background())
			r.logger.Info("retry sender stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *RetrySender) sweep(ctx context.Context) {
	candidates, err := r.store.ListRetryCandidates(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		r.logger.Error("list retry candidates failed", "error", err)
		return
	}
	for _, msg := range candidates {
		if err := r.deliverer.Deliver(ctx, msg.CompanyID, msg.ID); err != nil {
			r.logger.Error("retry delivery failed",
				"message_id", msg.ID, "attempts", msg.SendAttempts, "error", err)
		}
	}
}
