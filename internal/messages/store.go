package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists messages in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	return &Store{pool: pool}
}

const messageColumns = `
	id, company_id, conversation_id, direction, provider_message_id,
	content, status, error_code, error_message,
	send_attempts, last_attempt_at, next_retry_at,
	sent_at, delivered_at, read_at, failed_at, provider_ts,
	created_at, updated_at
`

// UpsertInbound stores an inbound message deduplicated on the provider
// message id. A replayed webhook refreshes the stored content and keeps
// the original row id; the bool result reports whether this call
// inserted. The conflict target repeats the partial index predicate so
// the planner can infer idx_messages_provider_id.
func (s *Store) UpsertInbound(ctx context.Context, q Querier, msg Message) (uuid.UUID, bool, error) {
	if q == nil {
		q = s.pool
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if err := msg.Content.Validate(); err != nil {
		return uuid.Nil, false, err
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("messages: marshal content: %w", err)
	}
	query := `
		INSERT INTO messages (
			id, company_id, conversation_id, direction, provider_message_id,
			content_type, content, status, status_rank, provider_ts
		)
		VALUES ($1, $2, $3, 'inbound', $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO UPDATE
		SET content_type = EXCLUDED.content_type,
			content = EXCLUDED.content,
			provider_ts = COALESCE(EXCLUDED.provider_ts, messages.provider_ts),
			updated_at = now()
		RETURNING id, (xmax = 0) AS inserted
	`
	var id uuid.UUID
	var inserted bool
	err = q.QueryRow(ctx, query, msg.ID, msg.CompanyID, msg.ConversationID,
		msg.ProviderMessageID, msg.Content.Type, content,
		StatusReceived, StatusReceived.Rank(), msg.ProviderTimestamp).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("messages: upsert inbound: %w", err)
	}
	return id, inserted, nil
}

// InsertPending creates the outbound message row before any provider call
// is attempted, so a send that dies mid-flight still has a record to
// reconcile against. The returned id is handed back to the API caller.
func (s *Store) InsertPending(ctx context.Context, q Querier, msg Message) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if err := msg.Content.Validate(); err != nil {
		return uuid.Nil, err
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("messages: marshal content: %w", err)
	}
	query := `
		INSERT INTO messages (
			id, company_id, conversation_id, direction,
			content_type, content, status, status_rank
		)
		VALUES ($1, $2, $3, 'outbound', $4, $5, $6, $7)
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query, msg.ID, msg.CompanyID, msg.ConversationID,
		msg.Content.Type, content, StatusPending, StatusPending.Rank()).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("messages: insert pending: %w", err)
	}
	return id, nil
}

// MarkSent records a successful provider accept for an outbound message.
func (s *Store) MarkSent(ctx context.Context, q Querier, id uuid.UUID, providerMessageID string, sentAt time.Time) error {
	if q == nil {
		q = s.pool
	}
	providerMessageID = strings.TrimSpace(providerMessageID)
	query := `
		UPDATE messages
		SET status = $2,
			status_rank = $3,
			provider_message_id = COALESCE(NULLIF($4, ''), provider_message_id),
			sent_at = COALESCE(sent_at, $5),
			next_retry_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := q.Exec(ctx, query, id, StatusSent, StatusSent.Rank(), providerMessageID, sentAt); err != nil {
		return fmt.Errorf("messages: mark sent: %w", err)
	}
	return nil
}

// ApplyStatus applies a provider delivery receipt. Transitions are
// forward only: a late "delivered" can never override "read", "failed"
// only lands while the message is still pending or sent, and nothing
// leaves a failed message. The bool result reports whether the receipt
// changed anything.
func (s *Store) ApplyStatus(ctx context.Context, q Querier, providerMessageID string, status Status, at time.Time, errCode, errMsg string) (bool, error) {
	if q == nil {
		q = s.pool
	}
	rank := status.Rank()
	if rank < 1 && status != StatusFailed {
		return false, ErrInvalidStatus
	}
	query := `
		UPDATE messages
		SET status = $2,
			status_rank = CASE WHEN $2 = 'failed' THEN status_rank ELSE $3 END,
			sent_at = CASE WHEN $2 = 'sent' THEN COALESCE(sent_at, $4) ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN COALESCE(delivered_at, $4) ELSE delivered_at END,
			read_at = CASE WHEN $2 = 'read' THEN COALESCE(read_at, $4) ELSE read_at END,
			failed_at = CASE WHEN $2 = 'failed' THEN COALESCE(failed_at, $4) ELSE failed_at END,
			error_code = CASE WHEN $2 = 'failed' THEN $5 ELSE error_code END,
			error_message = CASE WHEN $2 = 'failed' THEN $6 ELSE error_message END,
			next_retry_at = NULL,
			updated_at = now()
		WHERE provider_message_id = $1
			AND direction = 'outbound'
			AND (
				($2 = 'failed' AND status IN ('pending', 'sent'))
				OR ($2 <> 'failed' AND status <> 'failed' AND status_rank < $3)
			)
	`
	tag, err := q.Exec(ctx, query, providerMessageID, status, rank, at, errCode, errMsg)
	if err != nil {
		return false, fmt.Errorf("messages: apply status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed fails an outbound message by row id, used when the send
// never produced a provider message id. Delivered and read messages are
// left untouched.
func (s *Store) MarkFailed(ctx context.Context, q Querier, id uuid.UUID, errCode, errMsg string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE messages
		SET status = $2,
			failed_at = COALESCE(failed_at, now()),
			error_code = $3,
			error_message = $4,
			next_retry_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'sent')
	`
	if _, err := q.Exec(ctx, query, id, StatusFailed, errCode, errMsg); err != nil {
		return fmt.Errorf("messages: mark failed: %w", err)
	}
	return nil
}

// ScheduleRetry bumps the attempt counter and parks the message until
// nextRetry.
func (s *Store) ScheduleRetry(ctx context.Context, q Querier, id uuid.UUID, nextRetry time.Time, errMsg string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE messages
		SET send_attempts = send_attempts + 1,
			last_attempt_at = now(),
			next_retry_at = $2,
			error_message = $3,
			updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := q.Exec(ctx, query, id, nextRetry, errMsg); err != nil {
		return fmt.Errorf("messages: schedule retry: %w", err)
	}
	return nil
}

// ListRetryCandidates returns pending outbound messages whose retry
// window has opened.
func (s *Store) ListRetryCandidates(ctx context.Context, limit, maxAttempts int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE direction = 'outbound'
			AND status = 'pending'
			AND send_attempts > 0
			AND send_attempts < $1
			AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY next_retry_at NULLS FIRST, created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("messages: list retry candidates: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetByID loads a message scoped to the company.
func (s *Store) GetByID(ctx context.Context, companyID, id uuid.UUID) (Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1 AND company_id = $2
	`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return msg, err
}

// ListByConversation pages messages newest first.
func (s *Store) ListByConversation(ctx context.Context, companyID, conversationID uuid.UUID, limit int, before *time.Time) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE company_id = $1 AND conversation_id = $2
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, companyID, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("messages: list by conversation: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var msg Message
	var providerID *string
	var errCode, errMsg *string
	var content []byte
	err := row.Scan(
		&msg.ID, &msg.CompanyID, &msg.ConversationID, &msg.Direction, &providerID,
		&content, &msg.Status, &errCode, &errMsg,
		&msg.SendAttempts, &msg.LastAttemptAt, &msg.NextRetryAt,
		&msg.SentAt, &msg.DeliveredAt, &msg.ReadAt, &msg.FailedAt, &msg.ProviderTimestamp,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("messages: scan message: %w", err)
	}
	if providerID != nil {
		msg.ProviderMessageID = *providerID
	}
	if errCode != nil {
		msg.ErrorCode = *errCode
	}
	if errMsg != nil {
		msg.ErrorMessage = *errMsg
	}
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return Message{}, fmt.Errorf("messages: decode content: %w", err)
	}
	return msg, nil
}
