package leads

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycrm/messaging-gateway/internal/phone"
)

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	digits := phone.Digits(req.Phone)
	query := `
		INSERT INTO leads (id, company_id, name, email, phone, phone_digits, instagram_id, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.CompanyID,
		req.Name,
		req.Email,
		req.Phone,
		digits,
		req.InstagramID,
		req.Source,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return &Lead{
		ID:          id,
		CompanyID:   req.CompanyID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		PhoneDigits: digits,
		InstagramID: req.InstagramID,
		Source:      req.Source,
		CreatedAt:   createdAt,
	}, nil
}

// GetByID fetches a lead scoped to the company.
func (r *PostgresRepository) GetByID(ctx context.Context, companyID, id uuid.UUID) (*Lead, error) {
	query := `
		SELECT id, company_id, name, email, phone, phone_digits, instagram_id, source, created_at, updated_at
		FROM leads
		WHERE id = $1 AND company_id = $2
	`
	return scanLead(r.pool.QueryRow(ctx, query, id, companyID))
}

// FindByPhone matches a lead by canonical digits, falling back to a
// last-ten-digits match so numbers stored without a country code still link.
func (r *PostgresRepository) FindByPhone(ctx context.Context, companyID uuid.UUID, phoneDigits string) (*Lead, error) {
	if phoneDigits == "" {
		return nil, ErrLeadNotFound
	}
	query := `
		SELECT id, company_id, name, email, phone, phone_digits, instagram_id, source, created_at, updated_at
		FROM leads
		WHERE company_id = $1 AND phone_digits = $2
		LIMIT 1
	`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, companyID, phoneDigits))
	if err == nil {
		return lead, nil
	}
	if err != ErrLeadNotFound {
		return nil, err
	}

	suffix := phone.Suffix10(phoneDigits)
	if len(suffix) < 10 {
		return nil, ErrLeadNotFound
	}
	query = `
		SELECT id, company_id, name, email, phone, phone_digits, instagram_id, source, created_at, updated_at
		FROM leads
		WHERE company_id = $1 AND right(phone_digits, 10) = $2
		ORDER BY created_at
		LIMIT 1
	`
	return scanLead(r.pool.QueryRow(ctx, query, companyID, suffix))
}

// FindByInstagramID matches a lead by the instagram scoped user id.
func (r *PostgresRepository) FindByInstagramID(ctx context.Context, companyID uuid.UUID, instagramID string) (*Lead, error) {
	if instagramID == "" {
		return nil, ErrLeadNotFound
	}
	query := `
		SELECT id, company_id, name, email, phone, phone_digits, instagram_id, source, created_at, updated_at
		FROM leads
		WHERE company_id = $1 AND instagram_id = $2
		LIMIT 1
	`
	return scanLead(r.pool.QueryRow(ctx, query, companyID, instagramID))
}

func scanLead(row pgx.Row) (*Lead, error) {
	var lead Lead
	if err := row.Scan(
		&lead.ID,
		&lead.CompanyID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.PhoneDigits,
		&lead.InstagramID,
		&lead.Source,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return &lead, nil
}
