package conversations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestResolveCreatesConversation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	convID := uuid.New()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "whatsapp", "5511987654321", "Ana").
		WillReturnRows(pgxmock.NewRows([]string{"id", "lead_id", "inserted"}).AddRow(convID, (*uuid.UUID)(nil), true))

	res, err := store.Resolve(context.Background(), mock, ResolveParams{
		CompanyID:         uuid.New(),
		AccountID:         uuid.New(),
		Provider:          "whatsapp",
		ExternalContactID: "5511987654321",
		ContactName:       "Ana",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || res.ID != convID || res.LeadID != nil {
		t.Fatalf("unexpected resolve result: %+v", res)
	}
}

func TestResolveReturnsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	convID := uuid.New()
	leadID := uuid.New()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "lead_id", "inserted"}).AddRow(convID, &leadID, false))

	res, err := store.Resolve(context.Background(), nil, ResolveParams{
		CompanyID:         uuid.New(),
		AccountID:         uuid.New(),
		Provider:          "whatsapp",
		ExternalContactID: "5511987654321",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Created {
		t.Fatal("expected existing conversation")
	}
	if res.LeadID == nil || *res.LeadID != leadID {
		t.Fatalf("expected lead %s, got %v", leadID, res.LeadID)
	}
}

func TestLinkLeadOnlyWhenUnlinked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	convID := uuid.New()
	leadID := uuid.New()

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, leadID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	linked, err := store.LinkLead(context.Background(), nil, convID, leadID)
	if err != nil {
		t.Fatalf("link lead: %v", err)
	}
	if !linked {
		t.Fatal("expected link to apply")
	}

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, leadID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	linked, err = store.LinkLead(context.Background(), nil, convID, leadID)
	if err != nil {
		t.Fatalf("link lead: %v", err)
	}
	if linked {
		t.Fatal("expected already linked conversation to be left alone")
	}
}

func TestTouchInboundAndMarkRead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	convID := uuid.New()
	companyID := uuid.New()
	now := time.Now()

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, now, "hello").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.TouchInbound(context.Background(), nil, convID, "hello", now); err != nil {
		t.Fatalf("touch inbound: %v", err)
	}

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, companyID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkRead(context.Background(), companyID, convID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, companyID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.MarkRead(context.Background(), companyID, convID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
}

func TestSetStatusRejectsUnknownState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	err = store.SetStatus(context.Background(), uuid.New(), uuid.New(), "snoozed")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSetStatusArchives(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	convID := uuid.New()
	companyID := uuid.New()

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, companyID, StatusArchived).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.SetStatus(context.Background(), companyID, convID, StatusArchived); err != nil {
		t.Fatalf("set status: %v", err)
	}
}

func TestDeleteIsIdempotentAcrossTenants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	convID := uuid.New()
	companyID := uuid.New()

	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, companyID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Delete(context.Background(), companyID, convID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Second delete hits no row: already gone.
	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, companyID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.Delete(context.Background(), companyID, convID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	companyID := uuid.New()
	convID := uuid.New()
	accountID := uuid.New()
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "company_id", "account_id", "lead_id", "provider", "external_contact_id",
		"contact_name", "status", "last_message_at", "last_message_preview",
		"unread_count", "created_at", "updated_at", "deleted_at",
	}).AddRow(convID, companyID, accountID, (*uuid.UUID)(nil), "whatsapp", "5511987654321",
		"Ana", StatusArchived, &now, strPtr("oi"), 0, now, now, (*time.Time)(nil))

	mock.ExpectQuery("SELECT(.|\n)*FROM conversations").
		WithArgs(companyID, "", (*uuid.UUID)(nil), StatusArchived, false, 50, 0).
		WillReturnRows(rows)

	out, err := store.List(context.Background(), companyID, ListFilter{Status: StatusArchived})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].Status != StatusArchived {
		t.Fatalf("unexpected listing: %+v", out)
	}
}

func strPtr(s string) *string { return &s }
