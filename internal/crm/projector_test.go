package crm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/relaycrm/messaging-gateway/internal/events"
)

func entryFixture(t *testing.T, companyID string, evt events.CanonicalEvent) events.OutboxEntry {
	t.Helper()
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := events.Envelope{
		EventID:         uuid.New(),
		EventType:       evt.EventType(),
		CompanyID:       companyID,
		TimestampMicros: time.Now().UTC().UnixMicro(),
		Payload:         payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return events.OutboxEntry{
		ID:        env.EventID,
		CompanyID: companyID,
		Type:      env.EventType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
}

func TestHandleMessageReceivedWritesActivity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	companyID := uuid.NewString()
	conversationID := uuid.NewString()
	entry := entryFixture(t, companyID, events.MessageReceivedV1{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		CompanyID:      companyID,
		Provider:       "whatsapp",
		ContentType:    "text",
		Preview:        "quero agendar um horario",
	})

	mock.ExpectExec("INSERT INTO crm_activities").
		WithArgs(pgxmock.AnyArg(), companyID, entry.ID, ActivityMessageReceived,
			conversationID, nil, "quero agendar um horario", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := NewActivityProjector(mock, nil)
	if err := p.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleLinkedEventCarriesLeadID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	companyID := uuid.NewString()
	conversationID := uuid.NewString()
	leadID := uuid.NewString()
	entry := entryFixture(t, companyID, events.ConversationLinkedV1{
		ConversationID: conversationID,
		CompanyID:      companyID,
		LeadID:         leadID,
		Provider:       "instagram",
		MatchedBy:      "instagram_id",
	})

	mock.ExpectExec("INSERT INTO crm_activities").
		WithArgs(pgxmock.AnyArg(), companyID, entry.ID, ActivityLeadLinked,
			conversationID, leadID, "conversation matched to lead by instagram_id", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := NewActivityProjector(mock, nil)
	if err := p.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleUnknownEventTypeIsSkipped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	env, _ := json.Marshal(events.Envelope{
		EventID:   uuid.New(),
		EventType: "crm.something.else.v1",
		CompanyID: uuid.NewString(),
		Payload:   []byte(`{}`),
	})
	entry := events.OutboxEntry{ID: uuid.New(), Type: "crm.something.else.v1", Payload: env}

	p := NewActivityProjector(mock, nil)
	if err := p.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleGarbagePayloadErrors(t *testing.T) {
	p := NewActivityProjector(nil, nil)
	entry := events.OutboxEntry{ID: uuid.New(), Type: events.TypeMessageSentV1, Payload: []byte("{")}
	if err := p.Handle(context.Background(), entry); err == nil {
		t.Fatal("expected decode error")
	}
}
