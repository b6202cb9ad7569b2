package messages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestUpsertInboundNewMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	msgID := uuid.New()
	// The conflict target must repeat the partial index predicate or
	// Postgres cannot infer idx_messages_provider_id.
	mock.ExpectQuery(`INSERT INTO messages(.|\n)*ON CONFLICT \(provider_message_id\) WHERE provider_message_id IS NOT NULL DO UPDATE`).
		WithArgs(msgID, pgxmock.AnyArg(), pgxmock.AnyArg(), "wamid.abc", ContentTypeText, pgxmock.AnyArg(), StatusReceived, StatusReceived.Rank(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(msgID, true))

	id, inserted, err := store.UpsertInbound(context.Background(), mock, Message{
		ID:                msgID,
		CompanyID:         uuid.New(),
		ConversationID:    uuid.New(),
		ProviderMessageID: "wamid.abc",
		Content:           NewText("hello"),
	})
	if err != nil {
		t.Fatalf("upsert inbound: %v", err)
	}
	if !inserted || id != msgID {
		t.Fatalf("expected insert of %s, got id=%s inserted=%v", msgID, id, inserted)
	}
}

func TestUpsertInboundDuplicateRefreshesContent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	existingID := uuid.New()
	// A redelivered message keeps its row but takes the latest content.
	mock.ExpectQuery(`INSERT INTO messages(.|\n)*DO UPDATE(.|\n)*SET content_type = EXCLUDED.content_type`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(existingID, false))

	id, inserted, err := store.UpsertInbound(context.Background(), mock, Message{
		CompanyID:         uuid.New(),
		ConversationID:    uuid.New(),
		ProviderMessageID: "wamid.abc",
		Content:           NewText("hello again"),
	})
	if err != nil {
		t.Fatalf("upsert inbound: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate to report inserted=false")
	}
	if id != existingID {
		t.Fatalf("expected existing id %s, got %s", existingID, id)
	}
}

func TestInsertPendingRejectsInvalidContent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	_, err = store.InsertPending(context.Background(), nil, Message{
		CompanyID:      uuid.New(),
		ConversationID: uuid.New(),
		Content:        Content{Type: ContentTypeText},
	})
	if err == nil {
		t.Fatal("expected content validation error")
	}
}

func TestApplyStatusForwardOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	now := time.Now()

	mock.ExpectExec("UPDATE messages").
		WithArgs("wamid.abc", StatusDelivered, StatusDelivered.Rank(), now, "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	changed, err := store.ApplyStatus(context.Background(), nil, "wamid.abc", StatusDelivered, now, "", "")
	if err != nil {
		t.Fatalf("apply status: %v", err)
	}
	if !changed {
		t.Fatal("expected delivered receipt to change the row")
	}

	// A late "sent" after "delivered" matches no rows.
	mock.ExpectExec("UPDATE messages").
		WithArgs("wamid.abc", StatusSent, StatusSent.Rank(), now, "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	changed, err = store.ApplyStatus(context.Background(), nil, "wamid.abc", StatusSent, now, "", "")
	if err != nil {
		t.Fatalf("apply status: %v", err)
	}
	if changed {
		t.Fatal("expected stale receipt to be a no-op")
	}
}

func TestApplyStatusNeverLeavesFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	now := time.Now()

	// A late delivered receipt for a message already marked failed must
	// not resurrect it: the guard excludes failed rows outright.
	mock.ExpectExec(`UPDATE messages(.|\n)*status <> 'failed' AND status_rank <`).
		WithArgs("wamid.dead", StatusDelivered, StatusDelivered.Rank(), now, "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	changed, err := store.ApplyStatus(context.Background(), nil, "wamid.dead", StatusDelivered, now, "", "")
	if err != nil {
		t.Fatalf("apply status: %v", err)
	}
	if changed {
		t.Fatal("expected receipt for a failed message to be a no-op")
	}
}

func TestApplyStatusRejectsUnknownStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	if _, err := store.ApplyStatus(context.Background(), nil, "wamid.abc", Status("bogus"), time.Now(), "", ""); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestMarkSentAndScheduleRetry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	msgID := uuid.New()
	now := time.Now()

	// MarkSent moves pending rows only; a failed or already sent row is
	// left alone.
	mock.ExpectExec(`UPDATE messages(.|\n)*WHERE id = \$1 AND status = 'pending'`).
		WithArgs(msgID, StatusSent, StatusSent.Rank(), "wamid.out", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkSent(context.Background(), nil, msgID, "wamid.out", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	mock.ExpectExec("UPDATE messages").
		WithArgs(msgID, pgxmock.AnyArg(), "timeout talking to graph api").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.ScheduleRetry(context.Background(), nil, msgID, now.Add(time.Minute), "timeout talking to graph api"); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}
}

func TestListRetryCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "company_id", "conversation_id", "direction", "provider_message_id",
		"content", "status", "error_code", "error_message",
		"send_attempts", "last_attempt_at", "next_retry_at",
		"sent_at", "delivered_at", "read_at", "failed_at", "provider_ts",
		"created_at", "updated_at",
	}).AddRow(
		uuid.New(), uuid.New(), uuid.New(), DirectionOutbound, (*string)(nil),
		[]byte(`{"type":"text","text":{"body":"hi"}}`), StatusPending, (*string)(nil), (*string)(nil),
		1, &now, &now,
		(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil),
		now, now,
	)
	mock.ExpectQuery("SELECT").
		WithArgs(3, 10).
		WillReturnRows(rows)

	msgs, err := store.ListRetryCandidates(context.Background(), 10, 3)
	if err != nil {
		t.Fatalf("list retry candidates: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(msgs))
	}
	if msgs[0].Content.Type != ContentTypeText || msgs[0].Content.Text.Body != "hi" {
		t.Fatalf("unexpected content: %+v", msgs[0].Content)
	}
}
