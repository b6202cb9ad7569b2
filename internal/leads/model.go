package leads

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lead is a CRM contact record. PhoneDigits holds the canonical
// digits-only phone used for webhook matching.
type Lead struct {
	ID          uuid.UUID  `json:"id"`
	CompanyID   uuid.UUID  `json:"company_id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	PhoneDigits string     `json:"-"`
	InstagramID string     `json:"instagram_id,omitempty"`
	Source      string     `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateLeadRequest is the payload for registering a lead.
type CreateLeadRequest struct {
	CompanyID   uuid.UUID `json:"-"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	InstagramID string    `json:"instagram_id"`
	Source      string    `json:"source"`
}

// Validate checks the create lead request.
func (r *CreateLeadRequest) Validate() error {
	if r.CompanyID == uuid.Nil {
		return ErrMissingCompanyID
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidName
	}
	if r.Email == "" && r.Phone == "" && r.InstagramID == "" {
		return ErrMissingContact
	}
	return nil
}
