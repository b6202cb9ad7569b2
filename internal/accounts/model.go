package accounts

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Provider identifies the messaging channel an account belongs to.
type Provider string

const (
	ProviderWhatsApp  Provider = "whatsapp"
	ProviderInstagram Provider = "instagram"
)

var (
	// ErrNotFound is returned when no active account matches the lookup.
	ErrNotFound = errors.New("accounts: account not found")
	// ErrNoWebhookSecret is returned when signature verification is required
	// but the account carries no app secret.
	ErrNoWebhookSecret = errors.New("accounts: webhook secret not configured")
)

// Account is a company's connection to one provider channel. IdentityID is
// the provider-side identifier webhooks are addressed to (the WhatsApp
// phone number id or the Instagram business account id).
type Account struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	Provider       Provider
	IdentityID     string
	DisplayNumber  string
	AccessToken    string
	TokenExpiresAt *time.Time
	WebhookSecret  string
	VerifyToken    string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
