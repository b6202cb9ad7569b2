package messages

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to the company.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the delivery state of a message. Inbound messages are stored
// as received; outbound messages walk pending -> sent -> delivered -> read,
// with failed reachable only before delivery is confirmed.
type Status string

const (
	StatusReceived  Status = "received"
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Rank orders delivery states so that out-of-order provider callbacks
// never move a message backwards.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

var (
	// ErrNotFound is returned when no message matches the lookup.
	ErrNotFound = errors.New("messages: message not found")
	// ErrInvalidStatus is returned for status values outside the known set.
	ErrInvalidStatus = errors.New("messages: invalid status")
)

// Message is one stored message row.
type Message struct {
	ID                uuid.UUID
	CompanyID         uuid.UUID
	ConversationID    uuid.UUID
	Direction         Direction
	ProviderMessageID string
	Content           Content
	Status            Status
	ErrorCode         string
	ErrorMessage      string
	SendAttempts      int
	LastAttemptAt     *time.Time
	NextRetryAt       *time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	FailedAt          *time.Time
	ProviderTimestamp *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
