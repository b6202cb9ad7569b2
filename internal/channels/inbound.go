// Package channels defines the provider-neutral shapes the webhook
// parsers produce. Each provider package turns its own payload format
// into these, so the pipeline downstream never sees raw Meta JSON.
package channels

import (
	"time"

	"github.com/relaycrm/messaging-gateway/internal/messages"
)

// InboundMessage is a normalized message received from a provider.
type InboundMessage struct {
	Provider          string
	AccountIdentity   string
	ProviderMessageID string
	ContactID         string
	ContactName       string
	Content           messages.Content
	Timestamp         time.Time
}

// StatusEvent is a normalized delivery receipt for an outbound message.
type StatusEvent struct {
	Provider          string
	AccountIdentity   string
	ProviderMessageID string
	Status            messages.Status
	Timestamp         time.Time
	ErrorCode         string
	ErrorMessage      string
}
