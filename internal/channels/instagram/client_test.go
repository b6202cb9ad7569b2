package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendTextMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("access_token"); got != "page-token" {
			t.Errorf("unexpected token %q", got)
		}
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Recipient.ID != "5890234717" || req.Message.Text != "oi" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(SendResponse{RecipientID: "5890234717", MessageID: "mid.new"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	resp, err := client.SendTextMessage(context.Background(), "page-token", "5890234717", "oi")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if resp.MessageID != "mid.new" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSendTextMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(SendResponse{Error: &SendError{
			Message: "Invalid user id",
			Code:    100,
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.SendTextMessage(context.Background(), "page-token", "bogus", "oi")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Retryable() {
		t.Fatal("400 must be permanent")
	}
	if apiErr.Detail.Code != 100 {
		t.Fatalf("unexpected detail: %+v", apiErr.Detail)
	}
}

func TestSendRequiresToken(t *testing.T) {
	client := NewClient("", nil)
	if _, err := client.SendTextMessage(context.Background(), "", "5890234717", "oi"); err == nil {
		t.Fatal("expected error for missing token")
	}
}
