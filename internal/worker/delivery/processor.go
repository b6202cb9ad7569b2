package deliveryworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaycrm/messaging-gateway/internal/channels/instagram"
	"github.com/relaycrm/messaging-gateway/internal/channels/whatsapp"
	"github.com/relaycrm/messaging-gateway/internal/conversations"
	"github.com/relaycrm/messaging-gateway/internal/events"
	"github.com/relaycrm/messaging-gateway/internal/leads"
	"github.com/relaycrm/messaging-gateway/internal/messages"
	"github.com/relaycrm/messaging-gateway/internal/observability/metrics"
	"github.com/relaycrm/messaging-gateway/internal/phone"
	"github.com/relaycrm/messaging-gateway/internal/queue"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

// PgxPool is the transactional surface the processor needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConversationStore is the slice of the conversation store the
// processor uses.
type ConversationStore interface {
	Resolve(ctx context.Context, q conversations.Querier, params conversations.ResolveParams) (conversations.Resolved, error)
	LinkLead(ctx context.Context, q conversations.Querier, conversationID, leadID uuid.UUID) (bool, error)
	TouchInbound(ctx context.Context, q conversations.Querier, id uuid.UUID, preview string, at time.Time) error
}

// MessageStore is the slice of the message store the processor uses.
type MessageStore interface {
	UpsertInbound(ctx context.Context, q messages.Querier, msg messages.Message) (uuid.UUID, bool, error)
	ApplyStatus(ctx context.Context, q messages.Querier, providerMessageID string, status messages.Status, at time.Time, errCode, errMsg string) (bool, error)
}

// Deliverer sends a stored pending outbound message.
type Deliverer interface {
	Deliver(ctx context.Context, companyID, messageID uuid.UUID) error
}

// Processor applies queued jobs to storage. Inbound messages, delivery
// receipts and outbound sends all run through here so the API process
// answers webhooks without doing pipeline work inline.
type Processor struct {
	pool          PgxPool
	conversations ConversationStore
	messages      MessageStore
	leads         leads.Repository
	deliverer     Deliverer
	metrics       *metrics.GatewayMetrics
	logger        *logging.Logger
	countryCode   string
}

func NewProcessor(pool PgxPool, convs ConversationStore, msgs MessageStore, leadsRepo leads.Repository, deliverer Deliverer, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		pool:          pool,
		conversations: convs,
		messages:      msgs,
		leads:         leadsRepo,
		deliverer:     deliverer,
		logger:        logger,
		countryCode:   "55",
	}
}

func (p *Processor) WithMetrics(m *metrics.GatewayMetrics) *Processor {
	p.metrics = m
	return p
}

func (p *Processor) WithCountryCode(code string) *Processor {
	if code != "" {
		p.countryCode = code
	}
	return p
}

// Process dispatches a job envelope to its handler.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.JobInboundMessage:
		var payload queue.InboundMessageJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("deliveryworker: decode inbound job: %w", err)
		}
		return p.processInbound(ctx, payload)
	case queue.JobStatusUpdate:
		var payload queue.StatusUpdateJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("deliveryworker: decode status job: %w", err)
		}
		return p.processStatus(ctx, payload)
	case queue.JobOutboundSend:
		var payload queue.OutboundSendJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("deliveryworker: decode outbound job: %w", err)
		}
		return p.deliverer.Deliver(ctx, payload.CompanyID, payload.MessageID)
	default:
		// Unknown kinds are dropped, not redriven; redelivery cannot fix them.
		p.logger.Warn("dropping job with unknown kind", "kind", job.Kind)
		return nil
	}
}

func (p *Processor) processInbound(ctx context.Context, job queue.InboundMessageJob) error {
	var content messages.Content
	if err := json.Unmarshal(job.Content, &content); err != nil {
		return fmt.Errorf("deliveryworker: decode content: %w", err)
	}
	if err := content.Validate(); err != nil {
		return err
	}

	contactID := job.ContactID
	if job.Provider == whatsapp.ProviderName {
		contactID = phone.Canonical(job.ContactID, p.countryCode)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("deliveryworker: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := p.conversations.Resolve(ctx, tx, conversations.ResolveParams{
		CompanyID:         job.CompanyID,
		AccountID:         job.AccountID,
		Provider:          job.Provider,
		ExternalContactID: contactID,
		ContactName:       job.ContactName,
	})
	if err != nil {
		return err
	}

	if res.LeadID == nil {
		if err := p.linkLead(ctx, tx, job, res.ID, contactID); err != nil {
			return err
		}
	}

	ts := job.Timestamp
	msgID, inserted, err := p.messages.UpsertInbound(ctx, tx, messages.Message{
		CompanyID:         job.CompanyID,
		ConversationID:    res.ID,
		ProviderMessageID: job.ProviderMessageID,
		Content:           content,
		ProviderTimestamp: &ts,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Redelivered webhook. Keep the conversation refresh, skip the rest.
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("deliveryworker: commit: %w", err)
		}
		p.logger.Debug("duplicate inbound message skipped",
			"provider", job.Provider, "provider_message_id", job.ProviderMessageID)
		return nil
	}

	if err := p.conversations.TouchInbound(ctx, tx, res.ID, content.Preview(), ts); err != nil {
		return err
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, job.CompanyID.String(), msgID.String(), events.MessageReceivedV1{
		MessageID:         msgID.String(),
		ConversationID:    res.ID.String(),
		CompanyID:         job.CompanyID.String(),
		AccountID:         job.AccountID.String(),
		Provider:          job.Provider,
		ProviderMessageID: job.ProviderMessageID,
		ContentType:       string(content.Type),
		Preview:           content.Preview(),
		ReceivedAt:        &ts,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("deliveryworker: commit: %w", err)
	}

	p.metrics.ObserveInbound(job.Provider, string(content.Type))
	p.logger.Info("inbound message stored",
		"provider", job.Provider, "message_id", msgID, "conversation_id", res.ID)
	return nil
}

func (p *Processor) linkLead(ctx context.Context, tx pgx.Tx, job queue.InboundMessageJob, conversationID uuid.UUID, contactID string) error {
	var lead *leads.Lead
	var matchedBy string
	var err error

	switch job.Provider {
	case whatsapp.ProviderName:
		lead, err = p.leads.FindByPhone(ctx, job.CompanyID, phone.Digits(contactID))
		matchedBy = "phone"
	case instagram.ProviderName:
		lead, err = p.leads.FindByInstagramID(ctx, job.CompanyID, contactID)
		matchedBy = "instagram_id"
	default:
		return nil
	}
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			return nil
		}
		return err
	}

	linked, err := p.conversations.LinkLead(ctx, tx, conversationID, lead.ID)
	if err != nil {
		return err
	}
	if !linked {
		return nil
	}
	_, err = events.AppendCanonicalEvent(ctx, tx, job.CompanyID.String(), conversationID.String(), events.ConversationLinkedV1{
		ConversationID: conversationID.String(),
		CompanyID:      job.CompanyID.String(),
		LeadID:         lead.ID.String(),
		Provider:       job.Provider,
		MatchedBy:      matchedBy,
	})
	return err
}

func (p *Processor) processStatus(ctx context.Context, job queue.StatusUpdateJob) error {
	status := messages.Status(job.Status)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("deliveryworker: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	changed, err := p.messages.ApplyStatus(ctx, tx, job.ProviderMessageID, status, job.Timestamp, job.ErrorCode, job.ErrorMessage)
	if err != nil {
		if errors.Is(err, messages.ErrInvalidStatus) {
			p.logger.Warn("dropping receipt with unknown status",
				"provider", job.Provider, "status", job.Status)
			return nil
		}
		return err
	}
	if !changed {
		// Stale or unmatched receipt; nothing to record.
		return nil
	}

	ts := job.Timestamp
	if _, err := events.AppendCanonicalEvent(ctx, tx, job.CompanyID.String(), job.ProviderMessageID, events.MessageStatusChangedV1{
		ProviderMessageID: job.ProviderMessageID,
		CompanyID:         job.CompanyID.String(),
		Status:            job.Status,
		ErrorCode:         job.ErrorCode,
		OccurredAt:        &ts,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("deliveryworker: commit: %w", err)
	}

	p.metrics.ObserveStatus(job.Provider, job.Status)
	return nil
}
