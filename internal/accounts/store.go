package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists channel accounts in Postgres. Access tokens and webhook
// secrets are encrypted before they reach the database.
type Store struct {
	pool   Querier
	cipher *TokenCipher
}

func NewStore(pool Querier, cipher *TokenCipher) *Store {
	return &Store{pool: pool, cipher: cipher}
}

// Upsert inserts or refreshes an account keyed by (provider, identity_id).
func (s *Store) Upsert(ctx context.Context, q Querier, acc Account) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	token, err := s.cipher.Encrypt(acc.AccessToken)
	if err != nil {
		return uuid.Nil, err
	}
	secret, err := s.cipher.Encrypt(acc.WebhookSecret)
	if err != nil {
		return uuid.Nil, err
	}
	query := `
		INSERT INTO channel_accounts (
			id, company_id, provider, identity_id, display_number,
			access_token_enc, token_expires_at, webhook_secret_enc, verify_token, active
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (provider, identity_id) DO UPDATE
		SET display_number = EXCLUDED.display_number,
			access_token_enc = EXCLUDED.access_token_enc,
			token_expires_at = EXCLUDED.token_expires_at,
			webhook_secret_enc = EXCLUDED.webhook_secret_enc,
			verify_token = EXCLUDED.verify_token,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query, acc.ID, acc.CompanyID, acc.Provider, acc.IdentityID, acc.DisplayNumber, token, acc.TokenExpiresAt, secret, acc.VerifyToken, acc.Active).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("accounts: upsert account: %w", err)
	}
	return id, nil
}

// ResolveByIdentity finds the active account a webhook is addressed to.
func (s *Store) ResolveByIdentity(ctx context.Context, provider Provider, identityID string) (Account, error) {
	query := `
		SELECT id, company_id, provider, identity_id, display_number,
			access_token_enc, token_expires_at, webhook_secret_enc, verify_token, active,
			created_at, updated_at
		FROM channel_accounts
		WHERE provider = $1 AND identity_id = $2 AND active = true
	`
	return s.scanAccount(s.pool.QueryRow(ctx, query, provider, identityID))
}

// GetByID loads an account regardless of active state.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	query := `
		SELECT id, company_id, provider, identity_id, display_number,
			access_token_enc, token_expires_at, webhook_secret_enc, verify_token, active,
			created_at, updated_at
		FROM channel_accounts
		WHERE id = $1
	`
	return s.scanAccount(s.pool.QueryRow(ctx, query, id))
}

// Deactivate marks an account inactive without deleting its history.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE channel_accounts
		SET active = false, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("accounts: deactivate account: %w", err)
	}
	return nil
}

func (s *Store) scanAccount(row pgx.Row) (Account, error) {
	var acc Account
	var tokenEnc, secretEnc string
	err := row.Scan(&acc.ID, &acc.CompanyID, &acc.Provider, &acc.IdentityID, &acc.DisplayNumber,
		&tokenEnc, &acc.TokenExpiresAt, &secretEnc, &acc.VerifyToken, &acc.Active,
		&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("accounts: scan account: %w", err)
	}
	if acc.AccessToken, err = s.cipher.Decrypt(tokenEnc); err != nil {
		return Account{}, err
	}
	if acc.WebhookSecret, err = s.cipher.Decrypt(secretEnc); err != nil {
		return Account{}, err
	}
	return acc, nil
}
