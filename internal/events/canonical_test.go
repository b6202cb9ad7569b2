package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExec struct {
	args []any
}

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.args = args
	return pgconn.CommandTag{}, nil
}

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	receivedAt := fixedNow
	env, err := newEnvelope("company-123", "corr-1", MessageReceivedV1{
		MessageID:         "msg-1",
		ConversationID:    "conv-1",
		CompanyID:         "company-123",
		Provider:          "whatsapp",
		ProviderMessageID: "wamid.abc",
		ContentType:       "text",
		Preview:           "hi",
		ReceivedAt:        &receivedAt,
	}, WithEventID(id))
	if err != nil {
		t.Fatalf("newEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != TypeMessageReceivedV1 {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.CompanyID != "company-123" {
		t.Fatalf("unexpected company: %s", env.CompanyID)
	}
	if len(env.Payload) == 0 {
		t.Fatal("expected payload bytes")
	}
}

func TestNewEnvelopeValidation(t *testing.T) {
	if _, err := newEnvelope("", "", MessageSentV1{}); err != errMissingCompany {
		t.Fatalf("expected missing company error, got %v", err)
	}
	if _, err := newEnvelope("company-1", "", nil); err != errNilEvent {
		t.Fatalf("expected nil event error, got %v", err)
	}
	if _, err := newEnvelope("company-1", "", badEvent{}); err == nil {
		t.Fatal("expected error for empty event type")
	}
}

func TestAppendCanonicalEvent(t *testing.T) {
	exec := &stubExec{}
	env, err := AppendCanonicalEvent(context.Background(), exec, "company-1", "corr-9", ConversationLinkedV1{
		ConversationID: "conv-1",
		CompanyID:      "company-1",
		LeadID:         "lead-1",
		Provider:       "instagram",
		MatchedBy:      "instagram_id",
	})
	if err != nil {
		t.Fatalf("append canonical event: %v", err)
	}
	if len(exec.args) != 4 {
		t.Fatalf("expected 4 insert args, got %d", len(exec.args))
	}

	data, ok := exec.args[3].([]byte)
	if !ok {
		t.Fatalf("expected payload bytes, got %T", exec.args[3])
	}
	var stored Envelope
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal stored envelope: %v", err)
	}
	if stored.EventID != env.EventID || stored.EventType != TypeConversationLinkedV1 {
		t.Fatalf("stored envelope mismatch: %+v", stored)
	}
}
