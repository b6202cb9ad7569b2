package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Request limits imposed by the SQS API; values outside them are
// rejected by the service, so Receive clamps instead of failing.
const (
	sqsMaxBatch       = 10
	sqsMaxWaitSeconds = 20
)

// ErrQueueUnconfigured is returned when the SQS queue URL is missing.
var ErrQueueUnconfigured = errors.New("queue: sqs queue url not configured")

// SQSQueue implements Queue on AWS or LocalStack SQS.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue wraps the provided SQS client.
func NewSQSQueue(client *sqs.Client, queueURL string) (*SQSQueue, error) {
	if client == nil {
		return nil, errors.New("queue: sqs client is nil")
	}
	if queueURL == "" {
		return nil, ErrQueueUnconfigured
	}
	return &SQSQueue{client: client, queueURL: queueURL}, nil
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("queue: send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages < 1 {
		maxMessages = 1
	} else if maxMessages > sqsMaxBatch {
		maxMessages = sqsMaxBatch
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	} else if waitSeconds > sqsMaxWaitSeconds {
		waitSeconds = sqsMaxWaitSeconds
	}

	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, msg := range output.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue: delete: %w", err)
	}
	return nil
}
