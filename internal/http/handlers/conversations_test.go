package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaycrm/messaging-gateway/internal/conversations"
	"github.com/relaycrm/messaging-gateway/internal/messages"
	"github.com/relaycrm/messaging-gateway/internal/tenancy"
)

type stubConvReader struct {
	list       []conversations.Conversation
	conv       conversations.Conversation
	getErr     error
	markedRead []uuid.UUID
	filter     conversations.ListFilter
	setStatus  string
	deleted    []uuid.UUID
	opErr      error
}

func (s *stubConvReader) List(ctx context.Context, companyID uuid.UUID, filter conversations.ListFilter) ([]conversations.Conversation, error) {
	s.filter = filter
	return s.list, nil
}

func (s *stubConvReader) GetByID(ctx context.Context, companyID, id uuid.UUID) (conversations.Conversation, error) {
	return s.conv, s.getErr
}

func (s *stubConvReader) MarkRead(ctx context.Context, companyID, id uuid.UUID) error {
	s.markedRead = append(s.markedRead, id)
	return nil
}

func (s *stubConvReader) SetStatus(ctx context.Context, companyID, id uuid.UUID, status string) error {
	if s.opErr != nil {
		return s.opErr
	}
	s.setStatus = status
	return nil
}

func (s *stubConvReader) Delete(ctx context.Context, companyID, id uuid.UUID) error {
	if s.opErr != nil {
		return s.opErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

type stubMsgReader struct {
	list   []messages.Message
	msg    messages.Message
	getErr error
}

func (s *stubMsgReader) ListByConversation(ctx context.Context, companyID, conversationID uuid.UUID, limit int, before *time.Time) ([]messages.Message, error) {
	return s.list, nil
}

func (s *stubMsgReader) GetByID(ctx context.Context, companyID, id uuid.UUID) (messages.Message, error) {
	return s.msg, s.getErr
}

type stubEnqueuer struct {
	msgID     uuid.UUID
	err       error
	content   messages.Content
	companyID uuid.UUID
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, companyID, conversationID uuid.UUID, content messages.Content) (uuid.UUID, error) {
	s.companyID = companyID
	s.content = content
	return s.msgID, s.err
}

func newConversationRouter(h *ConversationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/conversations", h.List)
	r.Get("/conversations/{conversationID}", h.Get)
	r.Delete("/conversations/{conversationID}", h.Delete)
	r.Post("/conversations/{conversationID}/read", h.MarkRead)
	r.Post("/conversations/{conversationID}/status", h.SetStatus)
	r.Get("/conversations/{conversationID}/messages", h.Messages)
	r.Post("/conversations/{conversationID}/messages", h.Send)
	r.Get("/messages/{messageID}", h.GetMessage)
	return r
}

func withCompany(req *http.Request, companyID uuid.UUID) *http.Request {
	return req.WithContext(tenancy.WithCompanyID(req.Context(), companyID.String()))
}

func TestListConversationsAppliesFilters(t *testing.T) {
	companyID := uuid.New()
	accountID := uuid.New()
	convs := &stubConvReader{list: []conversations.Conversation{{ID: uuid.New(), CompanyID: companyID}}}
	h := NewConversationHandler(convs, &stubMsgReader{}, &stubEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/conversations?provider=whatsapp&unread=true&account_id="+accountID.String()+"&limit=10", nil)
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, companyID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if convs.filter.Provider != "whatsapp" || !convs.filter.UnreadOnly || convs.filter.AccountID != accountID || convs.filter.Limit != 10 {
		t.Fatalf("unexpected filter %+v", convs.filter)
	}
	var body struct {
		Conversations []conversations.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Conversations) != 1 {
		t.Fatalf("expected one conversation, got %d", len(body.Conversations))
	}
}

func TestListConversationsWithoutCompanyScope(t *testing.T) {
	h := NewConversationHandler(&stubConvReader{}, &stubMsgReader{}, &stubEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	convs := &stubConvReader{getErr: conversations.ErrNotFound}
	h := NewConversationHandler(convs, &stubMsgReader{}, &stubEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMessagesListResetsUnread(t *testing.T) {
	conversationID := uuid.New()
	convs := &stubConvReader{}
	msgs := &stubMsgReader{list: []messages.Message{{
		ID: uuid.New(), ConversationID: conversationID,
		Direction: messages.DirectionInbound, Status: messages.StatusReceived,
		Content: messages.NewText("oi"),
	}}}
	h := NewConversationHandler(convs, msgs, &stubEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+conversationID.String()+"/messages", nil)
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(convs.markedRead) != 1 || convs.markedRead[0] != conversationID {
		t.Fatalf("expected unread reset for %s, got %v", conversationID, convs.markedRead)
	}
}

func TestSendReturnsAcceptedWithMessageID(t *testing.T) {
	companyID := uuid.New()
	enq := &stubEnqueuer{msgID: uuid.New()}
	h := NewConversationHandler(&stubConvReader{}, &stubMsgReader{}, enq, nil)

	body := `{"content": {"type": "text", "text": {"body": "seu horario foi confirmado"}}}`
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, companyID))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if enq.companyID != companyID {
		t.Fatalf("expected enqueue scoped to %s", companyID)
	}
	var resp struct {
		MessageID uuid.UUID `json:"message_id"`
		Status    string    `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MessageID != enq.msgID {
		t.Fatalf("expected handed back id %s, got %s", enq.msgID, resp.MessageID)
	}
	if resp.Status != "pending" {
		t.Fatalf("expected pending status, got %q", resp.Status)
	}
}

func TestSendRejectsInvalidContent(t *testing.T) {
	h := NewConversationHandler(&stubConvReader{}, &stubMsgReader{}, &stubEnqueuer{}, nil)

	body := `{"content": {"type": "text"}}`
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	h := NewConversationHandler(&stubConvReader{}, &stubMsgReader{getErr: messages.ErrNotFound}, &stubEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/messages/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSetStatusArchivesConversation(t *testing.T) {
	convs := &stubConvReader{}
	h := NewConversationHandler(convs, &stubMsgReader{}, &stubEnqueuer{}, nil)

	body := `{"status": "archived"}`
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if convs.setStatus != conversations.StatusArchived {
		t.Fatalf("expected archived, got %q", convs.setStatus)
	}
}

func TestSetStatusRejectsUnknownState(t *testing.T) {
	convs := &stubConvReader{opErr: conversations.ErrInvalidStatus}
	h := NewConversationHandler(convs, &stubMsgReader{}, &stubEnqueuer{}, nil)

	body := `{"status": "snoozed"}`
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	convs := &stubConvReader{}
	h := NewConversationHandler(convs, &stubMsgReader{}, &stubEnqueuer{}, nil)

	convID := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/conversations/"+convID.String(), nil)
	rec := httptest.NewRecorder()
	newConversationRouter(h).ServeHTTP(rec, withCompany(req, uuid.New()))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(convs.deleted) != 1 || convs.deleted[0] != convID {
		t.Fatalf("expected delete of %s, got %v", convID, convs.deleted)
	}
}
