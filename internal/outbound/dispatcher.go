package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/relaycrm/messaging-gateway/internal/accounts"
	"github.com/relaycrm/messaging-gateway/internal/conversations"
	"github.com/relaycrm/messaging-gateway/internal/events"
	"github.com/relaycrm/messaging-gateway/internal/messages"
	"github.com/relaycrm/messaging-gateway/internal/queue"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

var dispatchTracer trace.Tracer = otel.Tracer("relaycrm.internal.outbound")

// PgxPool is the transactional surface the dispatcher needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageStore is the slice of the message store the dispatcher uses.
type MessageStore interface {
	GetByID(ctx context.Context, companyID, id uuid.UUID) (messages.Message, error)
	InsertPending(ctx context.Context, q messages.Querier, msg messages.Message) (uuid.UUID, error)
	MarkSent(ctx context.Context, q messages.Querier, id uuid.UUID, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, q messages.Querier, id uuid.UUID, errCode, errMsg string) error
	ScheduleRetry(ctx context.Context, q messages.Querier, id uuid.UUID, nextRetry time.Time, errMsg string) error
}

// ConversationStore is the slice of the conversation store the
// dispatcher uses.
type ConversationStore interface {
	GetByID(ctx context.Context, companyID, id uuid.UUID) (conversations.Conversation, error)
	TouchOutbound(ctx context.Context, q conversations.Querier, id uuid.UUID, preview string, at time.Time) error
}

// AccountStore resolves channel accounts with decrypted credentials.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (accounts.Account, error)
}

// Dispatcher owns the outbound path: it records the pending row, hands
// the job to the queue, and later delivers it through the provider with
// a circuit breaker and a local rate limit in front.
type Dispatcher struct {
	pool          PgxPool
	messages      MessageStore
	conversations ConversationStore
	accounts      AccountStore
	queue         queue.Queue
	senders       map[string]Sender
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	logger        *logging.Logger
	maxAttempts   int
	baseDelay     time.Duration
}

func NewDispatcher(pool PgxPool, msgs MessageStore, convs ConversationStore, accs AccountStore, q queue.Queue, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		pool:          pool,
		messages:      msgs,
		conversations: convs,
		accounts:      accs,
		queue:         q,
		senders:       make(map[string]Sender),
		logger:        logger,
		maxAttempts:   3,
		baseDelay:     5 * time.Second,
	}
}

// RegisterSender wires a provider sender under its provider name.
func (d *Dispatcher) RegisterSender(provider string, sender Sender) *Dispatcher {
	d.senders[provider] = sender
	return d
}

func (d *Dispatcher) WithLimiter(limiter *rate.Limiter) *Dispatcher {
	d.limiter = limiter
	return d
}

func (d *Dispatcher) WithBreaker(breaker *gobreaker.CircuitBreaker) *Dispatcher {
	d.breaker = breaker
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBaseDelay(delay time.Duration) *Dispatcher {
	if delay > 0 {
		d.baseDelay = delay
	}
	return d
}

// Enqueue stores the pending outbound row and queues its delivery. The
// returned message id is handed straight back to the API caller, so a
// later failure is visible on that id rather than lost.
func (d *Dispatcher) Enqueue(ctx context.Context, companyID, conversationID uuid.UUID, content messages.Content) (uuid.UUID, error) {
	if err := content.Validate(); err != nil {
		return uuid.Nil, err
	}
	conv, err := d.conversations.GetByID(ctx, companyID, conversationID)
	if err != nil {
		return uuid.Nil, err
	}
	if _, ok := d.senders[conv.Provider]; !ok {
		return uuid.Nil, fmt.Errorf("outbound: no sender for provider %q", conv.Provider)
	}

	msgID, err := d.messages.InsertPending(ctx, nil, messages.Message{
		CompanyID:      companyID,
		ConversationID: conversationID,
		Content:        content,
	})
	if err != nil {
		return uuid.Nil, err
	}

	body, err := queue.EncodeJob(queue.JobOutboundSend, queue.OutboundSendJob{
		MessageID: msgID,
		CompanyID: companyID,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if err := d.queue.Send(ctx, body); err != nil {
		// The pending row stays behind. Marking it for retry is what
		// makes the sweep see it: candidates need an attempt on record.
		d.logger.Error("outbound enqueue failed, scheduling retry sweep pickup",
			"error", err, "message_id", msgID)
		if rerr := d.messages.ScheduleRetry(ctx, nil, msgID, time.Now().UTC().Add(d.baseDelay), fmt.Sprintf("enqueue: %v", err)); rerr != nil {
			d.logger.Error("retry scheduling failed", "error", rerr, "message_id", msgID)
		}
		return msgID, nil
	}
	return msgID, nil
}

// Deliver sends a stored pending message through its provider. Transient
// failures are rescheduled with exponential backoff; permanent failures
// mark the message failed.
func (d *Dispatcher) Deliver(ctx context.Context, companyID, messageID uuid.UUID) error {
	ctx, span := dispatchTracer.Start(ctx, "outbound.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("relaycrm.message_id", messageID.String()))

	msg, err := d.messages.GetByID(ctx, companyID, messageID)
	if err != nil {
		if errors.Is(err, messages.ErrNotFound) {
			d.logger.Warn("outbound job references missing message", "message_id", messageID)
			return nil
		}
		return err
	}
	// Idempotent consumer: a redelivered job for a settled message is a no-op.
	if msg.Status != messages.StatusPending {
		return nil
	}

	conv, err := d.conversations.GetByID(ctx, companyID, msg.ConversationID)
	if err != nil {
		return err
	}
	sender, ok := d.senders[conv.Provider]
	if !ok {
		return d.fail(ctx, msg, "no_sender", fmt.Sprintf("no sender for provider %q", conv.Provider))
	}
	acc, err := d.accounts.GetByID(ctx, conv.AccountID)
	if err != nil {
		return err
	}
	if !acc.Active {
		return d.fail(ctx, msg, "account_inactive", "channel account is deactivated")
	}
	if acc.TokenExpiresAt != nil && acc.TokenExpiresAt.Before(time.Now()) {
		return d.fail(ctx, msg, "token_expired", "channel account token has expired")
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	providerMessageID, err := d.send(ctx, sender, acc, conv.ExternalContactID, msg.Content)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Provider protection, not a message failure. Let the queue redrive.
			return err
		}
		if IsRetryable(err) {
			return d.reschedule(ctx, msg, err)
		}
		return d.fail(ctx, msg, errorCode(err), err.Error())
	}

	return d.settle(ctx, msg, conv, acc, providerMessageID)
}

func (d *Dispatcher) send(ctx context.Context, sender Sender, acc accounts.Account, recipientID string, content messages.Content) (string, error) {
	if d.breaker == nil {
		return sender.Send(ctx, acc, recipientID, content)
	}
	result, err := d.breaker.Execute(func() (any, error) {
		id, sendErr := sender.Send(ctx, acc, recipientID, content)
		if sendErr != nil && !IsRetryable(sendErr) {
			// Permanent rejections must not trip the breaker; wrap them
			// so Execute reports success and we unwrap below.
			return permanentFailure{err: sendErr}, nil
		}
		return id, sendErr
	})
	if err != nil {
		return "", err
	}
	if pf, ok := result.(permanentFailure); ok {
		return "", pf.err
	}
	return result.(string), nil
}

type permanentFailure struct {
	err error
}

func (d *Dispatcher) settle(ctx context.Context, msg messages.Message, conv conversations.Conversation, acc accounts.Account, providerMessageID string) error {
	now := time.Now().UTC()
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbound: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := d.messages.MarkSent(ctx, tx, msg.ID, providerMessageID, now); err != nil {
		return err
	}
	if err := d.conversations.TouchOutbound(ctx, tx, conv.ID, msg.Content.Preview(), now); err != nil {
		return err
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, msg.CompanyID.String(), msg.ID.String(), events.MessageSentV1{
		MessageID:         msg.ID.String(),
		ConversationID:    conv.ID.String(),
		CompanyID:         msg.CompanyID.String(),
		Provider:          conv.Provider,
		ProviderMessageID: providerMessageID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbound: commit: %w", err)
	}

	d.logger.Info("outbound message sent",
		"message_id", msg.ID, "provider", conv.Provider, "provider_message_id", providerMessageID)
	return nil
}

func (d *Dispatcher) reschedule(ctx context.Context, msg messages.Message, sendErr error) error {
	if msg.SendAttempts+1 >= d.maxAttempts {
		return d.fail(ctx, msg, errorCode(sendErr), sendErr.Error())
	}
	delay := d.baseDelay << msg.SendAttempts
	next := time.Now().UTC().Add(delay)
	if err := d.messages.ScheduleRetry(ctx, nil, msg.ID, next, sendErr.Error()); err != nil {
		return err
	}
	d.logger.Warn("outbound send failed, retry scheduled",
		"message_id", msg.ID, "attempt", msg.SendAttempts+1, "next_retry", next, "error", sendErr)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, msg messages.Message, code, detail string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbound: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := d.messages.MarkFailed(ctx, tx, msg.ID, code, detail); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := events.AppendCanonicalEvent(ctx, tx, msg.CompanyID.String(), msg.ID.String(), events.MessageStatusChangedV1{
		MessageID:         msg.ID.String(),
		ProviderMessageID: msg.ProviderMessageID,
		CompanyID:         msg.CompanyID.String(),
		Status:            string(messages.StatusFailed),
		ErrorCode:         code,
		OccurredAt:        &now,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbound: commit: %w", err)
	}

	d.logger.Error("outbound message failed", "message_id", msg.ID, "code", code, "detail", detail)
	return nil
}

func errorCode(err error) string {
	if errors.Is(err, ErrUnsupportedContent) {
		return "unsupported_content"
	}
	return "send_failed"
}
