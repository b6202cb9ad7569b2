package conversations

import (
	"context"
	"fmt"
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

// Store persists conversations in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	return &Store{pool: pool}
}

// Resolve finds or creates the conversation for a contact in a single
// statement, so two webhooks arriving at once for a brand new contact
// converge on one row. The upsert also refreshes the contact name when
// the provider sends one, and revives a soft-deleted conversation since
// the contact is clearly still talking to us.
func (s *Store) Resolve(ctx context.Context, q Querier, params ResolveParams) (Resolved, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO conversations (id, company_id, account_id, provider, external_contact_id, contact_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, external_contact_id) DO UPDATE
		SET contact_name = COALESCE(NULLIF(EXCLUDED.contact_name, ''), conversations.contact_name),
			deleted_at = NULL,
			updated_at = now()
		RETURNING id, lead_id, (xmax = 0) AS inserted
	`
	var res Resolved
	err := q.QueryRow(ctx, query, uuid.New(), params.CompanyID, params.AccountID,
		params.Provider, params.ExternalContactID, params.ContactName).
		Scan(&res.ID, &res.LeadID, &res.Created)
	if err != nil {
		return Resolved{}, fmt.Errorf("conversations: resolve: %w", err)
	}
	return res, nil
}

// LinkLead attaches a lead to a conversation that has none. An existing
// link is never overwritten.
func (s *Store) LinkLead(ctx context.Context, q Querier, conversationID, leadID uuid.UUID) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET lead_id = $2, updated_at = now()
		WHERE id = $1 AND lead_id IS NULL
	`
	tag, err := q.Exec(ctx, query, conversationID, leadID)
	if err != nil {
		return false, fmt.Errorf("conversations: link lead: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchInbound records inbound activity: bumps the unread counter and
// refreshes the preview shown in conversation lists.
func (s *Store) TouchInbound(ctx context.Context, q Querier, id uuid.UUID, preview string, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET last_message_at = $2,
			last_message_preview = $3,
			unread_count = unread_count + 1,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, id, at, preview); err != nil {
		return fmt.Errorf("conversations: touch inbound: %w", err)
	}
	return nil
}

// TouchOutbound refreshes the preview without touching unread state.
func (s *Store) TouchOutbound(ctx context.Context, q Querier, id uuid.UUID, preview string, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET last_message_at = $2,
			last_message_preview = $3,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, id, at, preview); err != nil {
		return fmt.Errorf("conversations: touch outbound: %w", err)
	}
	return nil
}

// MarkRead clears the unread counter, scoped to the company.
func (s *Store) MarkRead(ctx context.Context, companyID, id uuid.UUID) error {
	query := `
		UPDATE conversations
		SET unread_count = 0, updated_at = now()
		WHERE id = $1 AND company_id = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, companyID)
	if err != nil {
		return fmt.Errorf("conversations: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves a conversation between lifecycle states, scoped to
// the company.
func (s *Store) SetStatus(ctx context.Context, companyID, id uuid.UUID, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	query := `
		UPDATE conversations
		SET status = $3, updated_at = now()
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, id, companyID, status)
	if err != nil {
		return fmt.Errorf("conversations: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes a conversation. Message rows stay; the
// conversation simply stops appearing in listings.
func (s *Store) Delete(ctx context.Context, companyID, id uuid.UUID) error {
	query := `
		UPDATE conversations
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, id, companyID)
	if err != nil {
		return fmt.Errorf("conversations: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const conversationColumns = `
	id, company_id, account_id, lead_id, provider, external_contact_id, contact_name,
	status, last_message_at, last_message_preview, unread_count, created_at, updated_at, deleted_at
`

// GetByID loads a conversation scoped to the company.
func (s *Store) GetByID(ctx context.Context, companyID, id uuid.UUID) (Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
	`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// List pages a company's conversations, most recently active first.
func (s *Store) List(ctx context.Context, companyID uuid.UUID, filter ListFilter) ([]Conversation, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE company_id = $1 AND deleted_at IS NULL
			AND ($2 = '' OR provider = $2)
			AND ($3::uuid IS NULL OR account_id = $3)
			AND ($4 = '' OR status = $4)
			AND (NOT $5 OR unread_count > 0)
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT $6 OFFSET $7
	`
	var accountID *uuid.UUID
	if filter.AccountID != uuid.Nil {
		accountID = &filter.AccountID
	}
	rows, err := s.pool.Query(ctx, query, companyID, filter.Provider, accountID, filter.Status, filter.UnreadOnly, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("conversations: list: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var conv Conversation
	var preview *string
	err := row.Scan(
		&conv.ID, &conv.CompanyID, &conv.AccountID, &conv.LeadID, &conv.Provider,
		&conv.ExternalContactID, &conv.ContactName, &conv.Status,
		&conv.LastMessageAt, &preview, &conv.UnreadCount,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.DeletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Conversation{}, err
		}
		return Conversation{}, fmt.Errorf("conversations: scan conversation: %w", err)
	}
	if preview != nil {
		conv.LastMessagePreview = *preview
	}
	return conv, nil
}
