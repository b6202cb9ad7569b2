package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job kinds carried on the delivery queue.
const (
	JobInboundMessage = "inbound_message"
	JobStatusUpdate   = "status_update"
	JobOutboundSend   = "outbound_send"
)

// Job is the envelope every queued payload travels in.
type Job struct {
	Kind       string          `json:"kind"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// InboundMessageJob carries a normalized inbound message from webhook
// to worker.
type InboundMessageJob struct {
	Provider          string          `json:"provider"`
	AccountID         uuid.UUID       `json:"account_id"`
	CompanyID         uuid.UUID       `json:"company_id"`
	ProviderMessageID string          `json:"provider_message_id"`
	ContactID         string          `json:"contact_id"`
	ContactName       string          `json:"contact_name,omitempty"`
	Content           json.RawMessage `json:"content"`
	Timestamp         time.Time       `json:"timestamp"`
}

// StatusUpdateJob carries a delivery receipt.
type StatusUpdateJob struct {
	Provider          string    `json:"provider"`
	CompanyID         uuid.UUID `json:"company_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// OutboundSendJob asks the worker to deliver a stored pending message.
type OutboundSendJob struct {
	MessageID uuid.UUID `json:"message_id"`
	CompanyID uuid.UUID `json:"company_id"`
}

// EncodeJob wraps a payload in the job envelope.
func EncodeJob(kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal %s payload: %w", kind, err)
	}
	body, err := json.Marshal(Job{
		Kind:       kind,
		EnqueuedAt: time.Now().UTC(),
		Payload:    data,
	})
	if err != nil {
		return "", fmt.Errorf("queue: marshal job envelope: %w", err)
	}
	return string(body), nil
}

// DecodeJob parses the envelope from a queue message body.
func DecodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("queue: decode job envelope: %w", err)
	}
	if job.Kind == "" {
		return Job{}, fmt.Errorf("queue: job kind missing")
	}
	return job, nil
}
