// Package crm projects messaging events into the activity timeline the
// CRM surfaces next to each lead.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaycrm/messaging-gateway/internal/events"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

// Activity kinds recorded on the timeline.
const (
	ActivityMessageReceived = "message_received"
	ActivityMessageSent     = "message_sent"
	ActivityStatusChanged   = "message_status_changed"
	ActivityLeadLinked      = "lead_linked"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ActivityProjector consumes outbox entries and writes activity rows.
// Inserts are keyed on the event id so redelivered entries are no-ops.
type ActivityProjector struct {
	db     querier
	logger *logging.Logger
}

func NewActivityProjector(db querier, logger *logging.Logger) *ActivityProjector {
	if logger == nil {
		logger = logging.Default()
	}
	return &ActivityProjector{db: db, logger: logger}
}

// Handle implements events.DeliveryHandler.
func (p *ActivityProjector) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var env events.Envelope
	if err := json.Unmarshal(entry.Payload, &env); err != nil {
		return fmt.Errorf("crm: decode envelope: %w", err)
	}

	activity, ok, err := p.project(entry.Type, env)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("no activity projection for event", "type", entry.Type)
		return nil
	}
	activity.eventID = env.EventID
	activity.companyID = env.CompanyID
	activity.occurredAt = time.UnixMicro(env.TimestampMicros).UTC()

	query := `
		INSERT INTO crm_activities (id, company_id, event_id, kind, conversation_id, lead_id, summary, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = p.db.Exec(ctx, query,
		uuid.New(), activity.companyID, activity.eventID, activity.kind,
		nullable(activity.conversationID), nullable(activity.leadID),
		activity.summary, activity.occurredAt)
	if err != nil {
		return fmt.Errorf("crm: insert activity: %w", err)
	}
	return nil
}

type activity struct {
	eventID        uuid.UUID
	companyID      string
	kind           string
	conversationID string
	leadID         string
	summary        string
	occurredAt     time.Time
}

func (p *ActivityProjector) project(eventType string, env events.Envelope) (activity, bool, error) {
	switch eventType {
	case events.TypeMessageReceivedV1:
		var evt events.MessageReceivedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return activity{}, false, fmt.Errorf("crm: decode %s: %w", eventType, err)
		}
		summary := evt.Preview
		if summary == "" {
			summary = fmt.Sprintf("received %s message", evt.ContentType)
		}
		return activity{
			kind:           ActivityMessageReceived,
			conversationID: evt.ConversationID,
			summary:        summary,
		}, true, nil
	case events.TypeMessageSentV1:
		var evt events.MessageSentV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return activity{}, false, fmt.Errorf("crm: decode %s: %w", eventType, err)
		}
		return activity{
			kind:           ActivityMessageSent,
			conversationID: evt.ConversationID,
			summary:        fmt.Sprintf("message sent via %s", evt.Provider),
		}, true, nil
	case events.TypeMessageStatusChangedV1:
		var evt events.MessageStatusChangedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return activity{}, false, fmt.Errorf("crm: decode %s: %w", eventType, err)
		}
		summary := fmt.Sprintf("message %s", evt.Status)
		if evt.ErrorCode != "" {
			summary = fmt.Sprintf("message failed (%s)", evt.ErrorCode)
		}
		return activity{
			kind:    ActivityStatusChanged,
			summary: summary,
		}, true, nil
	case events.TypeConversationLinkedV1:
		var evt events.ConversationLinkedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return activity{}, false, fmt.Errorf("crm: decode %s: %w", eventType, err)
		}
		return activity{
			kind:           ActivityLeadLinked,
			conversationID: evt.ConversationID,
			leadID:         evt.LeadID,
			summary:        fmt.Sprintf("conversation matched to lead by %s", evt.MatchedBy),
		}, true, nil
	default:
		return activity{}, false, nil
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
