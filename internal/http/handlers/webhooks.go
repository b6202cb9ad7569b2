// Package handlers contains the HTTP surface of the gateway: Meta
// webhook ingestion and the CRM-facing conversation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaycrm/messaging-gateway/internal/accounts"
	"github.com/relaycrm/messaging-gateway/internal/channels"
	"github.com/relaycrm/messaging-gateway/internal/channels/instagram"
	"github.com/relaycrm/messaging-gateway/internal/channels/meta"
	"github.com/relaycrm/messaging-gateway/internal/channels/whatsapp"
	observemetrics "github.com/relaycrm/messaging-gateway/internal/observability/metrics"
	"github.com/relaycrm/messaging-gateway/internal/queue"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

var webhookTracer = otel.Tracer("relaycrm.internal.http.webhooks")

type accountResolver interface {
	ResolveByIdentity(ctx context.Context, provider accounts.Provider, identityID string) (accounts.Account, error)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler ingests Meta webhook deliveries for both providers.
// It verifies, dedupes and enqueues; all pipeline work happens in the
// delivery worker so Meta gets its 200 fast.
type WebhookHandler struct {
	accounts        accountResolver
	processed       processedTracker
	queue           queue.Queue
	logger          *logging.Logger
	metrics         *observemetrics.GatewayMetrics
	verifyToken     string
	allowUnverified bool
}

type WebhookConfig struct {
	Accounts    accountResolver
	Processed   processedTracker
	Queue       queue.Queue
	Logger      *logging.Logger
	Metrics     *observemetrics.GatewayMetrics
	VerifyToken string

	// AllowUnverified skips signature checks. Local development only.
	AllowUnverified bool
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		accounts:        cfg.Accounts,
		processed:       cfg.Processed,
		queue:           cfg.Queue,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		verifyToken:     cfg.VerifyToken,
		allowUnverified: cfg.AllowUnverified,
	}
}

// HandleWhatsApp serves both the GET subscription handshake and POST
// deliveries for WhatsApp Cloud API webhooks.
func (h *WebhookHandler) HandleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		meta.HandleVerification(w, r, h.verifyToken)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.ObserveWebhook(whatsapp.ProviderName, "malformed")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	inbound, statuses := whatsapp.ParseWebhook(payload)
	h.process(w, r, whatsapp.ProviderName, accounts.ProviderWhatsApp, body, inbound, statuses)
	h.metrics.ObserveWebhookLatency(whatsapp.ProviderName, time.Since(start).Seconds())
}

// HandleInstagram serves Instagram Messaging webhooks.
func (h *WebhookHandler) HandleInstagram(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		meta.HandleVerification(w, r, h.verifyToken)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var event instagram.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.ObserveWebhook(instagram.ProviderName, "malformed")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	inbound, statuses := instagram.ParseWebhook(event)
	h.process(w, r, instagram.ProviderName, accounts.ProviderInstagram, body, inbound, statuses)
	h.metrics.ObserveWebhookLatency(instagram.ProviderName, time.Since(start).Seconds())
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, providerName string, provider accounts.Provider, body []byte, inbound []channels.InboundMessage, statuses []channels.StatusEvent) {
	ctx, span := webhookTracer.Start(r.Context(), "webhook."+providerName)
	defer span.End()
	span.SetAttributes(
		attribute.String("relaycrm.provider", providerName),
		attribute.Int("relaycrm.inbound_count", len(inbound)),
		attribute.Int("relaycrm.status_count", len(statuses)),
	)

	if len(inbound) == 0 && len(statuses) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	identity := firstIdentity(inbound, statuses)
	acc, err := h.accounts.ResolveByIdentity(ctx, provider, identity)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			// Same status as a bad signature: an unauthenticated caller
			// learns nothing about which accounts exist.
			h.metrics.ObserveWebhook(providerName, "unknown_account")
			h.logger.Warn("webhook for unknown account", "provider", providerName, "identity", identity)
			http.Error(w, "rejected", http.StatusForbidden)
			return
		}
		span.RecordError(err)
		h.logger.Error("account lookup failed", "provider", providerName, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.String("relaycrm.account_id", acc.ID.String()))

	if !h.allowUnverified {
		if acc.WebhookSecret == "" {
			h.metrics.ObserveWebhook(providerName, "rejected")
			h.logger.Warn("webhook rejected, account has no secret",
				"provider", providerName, "account_id", acc.ID)
			http.Error(w, "signature verification unavailable", http.StatusForbidden)
			return
		}
		if !meta.VerifySignature(acc.WebhookSecret, body, r.Header.Get(meta.SignatureHeader)) {
			h.metrics.ObserveWebhook(providerName, "rejected")
			h.logger.Warn("webhook signature mismatch",
				"provider", providerName, "account_id", acc.ID)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	resolved := map[string]accounts.Account{identity: acc}
	var failed bool
	for _, msg := range inbound {
		if err := h.enqueueInbound(ctx, provider, resolved, msg); err != nil {
			h.logger.Error("inbound enqueue failed",
				"provider", providerName, "provider_message_id", msg.ProviderMessageID, "error", err)
			failed = true
		}
	}
	for _, st := range statuses {
		if err := h.enqueueStatus(ctx, provider, resolved, st); err != nil {
			h.logger.Error("status enqueue failed",
				"provider", providerName, "provider_message_id", st.ProviderMessageID, "error", err)
			failed = true
		}
	}
	if failed {
		// Non-200 makes Meta redeliver; processed marks keep that idempotent.
		h.metrics.ObserveWebhook(providerName, "error")
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveWebhook(providerName, "accepted")
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) enqueueInbound(ctx context.Context, provider accounts.Provider, resolved map[string]accounts.Account, msg channels.InboundMessage) error {
	eventID := "msg:" + msg.ProviderMessageID
	if done, err := h.processed.AlreadyProcessed(ctx, msg.Provider, eventID); err != nil {
		return err
	} else if done {
		return nil
	}

	acc, err := h.resolveCached(ctx, provider, resolved, msg.AccountIdentity)
	if err != nil {
		return err
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	body, err := queue.EncodeJob(queue.JobInboundMessage, queue.InboundMessageJob{
		Provider:          msg.Provider,
		AccountID:         acc.ID,
		CompanyID:         acc.CompanyID,
		ProviderMessageID: msg.ProviderMessageID,
		ContactID:         msg.ContactID,
		ContactName:       msg.ContactName,
		Content:           content,
		Timestamp:         msg.Timestamp,
	})
	if err != nil {
		return err
	}
	if err := h.queue.Send(ctx, body); err != nil {
		return err
	}
	_, err = h.processed.MarkProcessed(ctx, msg.Provider, eventID)
	return err
}

func (h *WebhookHandler) enqueueStatus(ctx context.Context, provider accounts.Provider, resolved map[string]accounts.Account, st channels.StatusEvent) error {
	eventID := fmt.Sprintf("status:%s:%s", st.ProviderMessageID, st.Status)
	if done, err := h.processed.AlreadyProcessed(ctx, st.Provider, eventID); err != nil {
		return err
	} else if done {
		return nil
	}

	acc, err := h.resolveCached(ctx, provider, resolved, st.AccountIdentity)
	if err != nil {
		return err
	}
	body, err := queue.EncodeJob(queue.JobStatusUpdate, queue.StatusUpdateJob{
		Provider:          st.Provider,
		CompanyID:         acc.CompanyID,
		ProviderMessageID: st.ProviderMessageID,
		Status:            string(st.Status),
		Timestamp:         st.Timestamp,
		ErrorCode:         st.ErrorCode,
		ErrorMessage:      st.ErrorMessage,
	})
	if err != nil {
		return err
	}
	if err := h.queue.Send(ctx, body); err != nil {
		return err
	}
	_, err = h.processed.MarkProcessed(ctx, st.Provider, eventID)
	return err
}

func (h *WebhookHandler) resolveCached(ctx context.Context, provider accounts.Provider, resolved map[string]accounts.Account, identity string) (accounts.Account, error) {
	if acc, ok := resolved[identity]; ok {
		return acc, nil
	}
	acc, err := h.accounts.ResolveByIdentity(ctx, provider, identity)
	if err != nil {
		return accounts.Account{}, err
	}
	resolved[identity] = acc
	return acc, nil
}

func firstIdentity(inbound []channels.InboundMessage, statuses []channels.StatusEvent) string {
	for _, msg := range inbound {
		if msg.AccountIdentity != "" {
			return msg.AccountIdentity
		}
	}
	for _, st := range statuses {
		if st.AccountIdentity != "" {
			return st.AccountIdentity
		}
	}
	return ""
}

// HealthCheck reports liveness.
func (h *WebhookHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
