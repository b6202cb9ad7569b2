package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaycrm/messaging-gateway/internal/conversations"
	"github.com/relaycrm/messaging-gateway/internal/messages"
	"github.com/relaycrm/messaging-gateway/internal/tenancy"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

type conversationReader interface {
	List(ctx context.Context, companyID uuid.UUID, filter conversations.ListFilter) ([]conversations.Conversation, error)
	GetByID(ctx context.Context, companyID, id uuid.UUID) (conversations.Conversation, error)
	MarkRead(ctx context.Context, companyID, id uuid.UUID) error
	SetStatus(ctx context.Context, companyID, id uuid.UUID, status string) error
	Delete(ctx context.Context, companyID, id uuid.UUID) error
}

type messageReader interface {
	ListByConversation(ctx context.Context, companyID, conversationID uuid.UUID, limit int, before *time.Time) ([]messages.Message, error)
	GetByID(ctx context.Context, companyID, id uuid.UUID) (messages.Message, error)
}

type outboundEnqueuer interface {
	Enqueue(ctx context.Context, companyID, conversationID uuid.UUID, content messages.Content) (uuid.UUID, error)
}

// ConversationHandler serves the CRM-facing conversation API. Every
// route requires a company-scoped token; tenancy comes off the context.
type ConversationHandler struct {
	conversations conversationReader
	messages      messageReader
	outbound      outboundEnqueuer
	logger        *logging.Logger
}

func NewConversationHandler(convs conversationReader, msgs messageReader, outbound outboundEnqueuer, logger *logging.Logger) *ConversationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationHandler{
		conversations: convs,
		messages:      msgs,
		outbound:      outbound,
		logger:        logger,
	}
}

// List returns the company's conversations, optionally filtered by
// provider, account or unread state.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := conversations.ListFilter{
		Provider:   q.Get("provider"),
		UnreadOnly: q.Get("unread") == "true",
	}
	if raw := q.Get("status"); raw != "" {
		if !conversations.ValidStatus(raw) {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = raw
	}
	if raw := q.Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid account_id", http.StatusBadRequest)
			return
		}
		filter.AccountID = id
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}

	list, err := h.conversations.List(r.Context(), companyID, filter)
	if err != nil {
		h.logger.Error("conversation list failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

// Get returns a single conversation.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}

	conv, err := h.conversations.GetByID(r.Context(), companyID, conversationID)
	if err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("conversation lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// MarkRead zeroes the unread counter.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}

	if err := h.conversations.MarkRead(r.Context(), companyID, conversationID); err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("mark read failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus archives, blocks or reactivates a conversation.
func (h *ConversationHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.conversations.SetStatus(r.Context(), companyID, conversationID, req.Status); err != nil {
		switch {
		case errors.Is(err, conversations.ErrInvalidStatus):
			http.Error(w, "invalid status", http.StatusBadRequest)
		case errors.Is(err, conversations.ErrNotFound):
			http.Error(w, "conversation not found", http.StatusNotFound)
		default:
			h.logger.Error("set status failed", "error", err, "conversation_id", conversationID)
			http.Error(w, "server error", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete hides a conversation from listings. History is preserved and
// the conversation comes back if the contact writes again.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), companyID, conversationID); err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("conversation delete failed", "error", err, "conversation_id", conversationID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages returns a conversation's messages, newest first. The
// "before" query parameter pages backwards through history.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid before timestamp", http.StatusBadRequest)
			return
		}
		before = &ts
	}

	list, err := h.messages.ListByConversation(r.Context(), companyID, conversationID, limit, before)
	if err != nil {
		h.logger.Error("message list failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	// Opening a conversation counts as reading it.
	if err := h.conversations.MarkRead(r.Context(), companyID, conversationID); err != nil && !errors.Is(err, conversations.ErrNotFound) {
		h.logger.Warn("unread reset failed", "conversation_id", conversationID, "error", err)
	}

	out := make([]messageResponse, 0, len(list))
	for _, msg := range list {
		out = append(out, toMessageResponse(msg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type sendRequest struct {
	Content messages.Content `json:"content"`
}

// Send accepts an outbound message and hands back its id. Delivery is
// asynchronous; poll the message or rely on status events.
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "conversationID")
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Content.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgID, err := h.outbound.Enqueue(r.Context(), companyID, conversationID, req.Content)
	if err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("outbound enqueue failed", "error", err, "conversation_id", conversationID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": msgID,
		"status":     string(messages.StatusPending),
	})
}

// GetMessage returns one message with its delivery state.
func (h *ConversationHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(w, r)
	if !ok {
		return
	}
	messageID, ok := pathUUID(w, r, "messageID")
	if !ok {
		return
	}

	msg, err := h.messages.GetByID(r.Context(), companyID, messageID)
	if err != nil {
		if errors.Is(err, messages.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		h.logger.Error("message lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

type messageResponse struct {
	ID                uuid.UUID        `json:"id"`
	ConversationID    uuid.UUID        `json:"conversation_id"`
	Direction         string           `json:"direction"`
	Status            string           `json:"status"`
	Content           messages.Content `json:"content"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	ErrorCode         string           `json:"error_code,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	SendAttempts      int              `json:"send_attempts,omitempty"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	ReadAt            *time.Time       `json:"read_at,omitempty"`
	FailedAt          *time.Time       `json:"failed_at,omitempty"`
	ProviderTimestamp *time.Time       `json:"provider_timestamp,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

func toMessageResponse(msg messages.Message) messageResponse {
	return messageResponse{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		Direction:         string(msg.Direction),
		Status:            string(msg.Status),
		Content:           msg.Content,
		ProviderMessageID: msg.ProviderMessageID,
		ErrorCode:         msg.ErrorCode,
		ErrorMessage:      msg.ErrorMessage,
		SendAttempts:      msg.SendAttempts,
		SentAt:            msg.SentAt,
		DeliveredAt:       msg.DeliveredAt,
		ReadAt:            msg.ReadAt,
		FailedAt:          msg.FailedAt,
		ProviderTimestamp: msg.ProviderTimestamp,
		CreatedAt:         msg.CreatedAt,
	}
}

func companyFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := tenancy.CompanyIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing company scope", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid company scope", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
