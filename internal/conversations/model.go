package conversations

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no conversation matches the lookup.
var ErrNotFound = errors.New("conversations: conversation not found")

// ErrInvalidStatus is returned for a status outside the known set.
var ErrInvalidStatus = errors.New("conversations: invalid status")

// Conversation lifecycle states.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusBlocked  = "blocked"
)

// ValidStatus reports whether s names a known lifecycle state.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusArchived, StatusBlocked:
		return true
	}
	return false
}

// Conversation groups all messages exchanged with one external contact
// on one channel account. ExternalContactID is the provider-side contact
// identity: the canonical phone digits for WhatsApp, the scoped user id
// for Instagram.
type Conversation struct {
	ID                 uuid.UUID  `json:"id"`
	CompanyID          uuid.UUID  `json:"company_id"`
	AccountID          uuid.UUID  `json:"account_id"`
	LeadID             *uuid.UUID `json:"lead_id,omitempty"`
	Provider           string     `json:"provider"`
	ExternalContactID  string     `json:"external_contact_id"`
	ContactName        string     `json:"contact_name"`
	Status             string     `json:"status"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview"`
	UnreadCount        int        `json:"unread_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// ResolveParams identifies the conversation a message belongs to.
type ResolveParams struct {
	CompanyID         uuid.UUID
	AccountID         uuid.UUID
	Provider          string
	ExternalContactID string
	ContactName       string
}

// Resolved is the outcome of a find-or-create. Created reports whether
// this call inserted the row.
type Resolved struct {
	ID      uuid.UUID
	LeadID  *uuid.UUID
	Created bool
}

// ListFilter narrows conversation listings.
type ListFilter struct {
	Provider   string
	AccountID  uuid.UUID
	Status     string
	UnreadOnly bool
	Limit      int
	Offset     int
}
