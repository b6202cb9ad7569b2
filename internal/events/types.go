package events

import "time"

// Event type identifiers carried in outbox rows and envelopes.
const (
	TypeMessageReceivedV1      = "crm.message.received.v1"
	TypeMessageSentV1          = "crm.message.sent.v1"
	TypeMessageStatusChangedV1 = "crm.message.status_changed.v1"
	TypeConversationLinkedV1   = "crm.conversation.linked.v1"
)

// MessageReceivedV1 is emitted when an inbound message is stored.
type MessageReceivedV1 struct {
	MessageID         string     `json:"message_id"`
	ConversationID    string     `json:"conversation_id"`
	CompanyID         string     `json:"company_id"`
	AccountID         string     `json:"account_id"`
	Provider          string     `json:"provider"`
	ProviderMessageID string     `json:"provider_message_id"`
	ContentType       string     `json:"content_type"`
	Preview           string     `json:"preview"`
	ReceivedAt        *time.Time `json:"received_at,omitempty"`
}

func (MessageReceivedV1) EventType() string { return TypeMessageReceivedV1 }

// MessageSentV1 is emitted when the provider accepts an outbound message.
type MessageSentV1 struct {
	MessageID         string `json:"message_id"`
	ConversationID    string `json:"conversation_id"`
	CompanyID         string `json:"company_id"`
	Provider          string `json:"provider"`
	ProviderMessageID string `json:"provider_message_id"`
}

func (MessageSentV1) EventType() string { return TypeMessageSentV1 }

// MessageStatusChangedV1 is emitted when a delivery receipt moves a
// message forward.
type MessageStatusChangedV1 struct {
	MessageID         string     `json:"message_id,omitempty"`
	ProviderMessageID string     `json:"provider_message_id"`
	CompanyID         string     `json:"company_id"`
	Status            string     `json:"status"`
	ErrorCode         string     `json:"error_code,omitempty"`
	OccurredAt        *time.Time `json:"occurred_at,omitempty"`
}

func (MessageStatusChangedV1) EventType() string { return TypeMessageStatusChangedV1 }

// ConversationLinkedV1 is emitted when a conversation gets attached to a
// CRM lead.
type ConversationLinkedV1 struct {
	ConversationID string `json:"conversation_id"`
	CompanyID      string `json:"company_id"`
	LeadID         string `json:"lead_id"`
	Provider       string `json:"provider"`
	MatchedBy      string `json:"matched_by"`
}

func (ConversationLinkedV1) EventType() string { return TypeConversationLinkedV1 }
