package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// SQS long-poll and batch limits.
const (
	sqsMaxBatch       = 10
	sqsMaxWaitSeconds = 20
	sqsMessageGroup   = "crm-jobs"
)

// SQSAPI is the subset of the SQS client used by SQSQueue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue carries CRM jobs over AWS (or LocalStack) SQS. FIFO queues, whose
// URL ends in ".fifo", share one message group and deduplicate on the job body.
type SQSQueue struct {
	client SQSAPI
	url    string
	fifo   bool
}

// NewSQSQueue wraps client for queueURL.
func NewSQSQueue(client SQSAPI, queueURL string) (*SQSQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("crm: SQS client cannot be nil")
	}
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("crm: SQS queue URL cannot be empty")
	}
	return &SQSQueue{client: client, url: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}, nil
}

// Send publishes one encoded job.
func (q *SQSQueue) Send(ctx context.Context, body string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	}
	if q.fifo {
		input.MessageGroupId = aws.String(sqsMessageGroup)
		input.MessageDeduplicationId = aws.String(uuid.NewSHA1(uuid.NameSpaceOID, []byte(body)).String())
	}
	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("crm: send job to SQS: %w", err)
	}
	return nil
}

// Receive long-polls for jobs. Limits outside what SQS accepts are clamped.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	maxMessages = clamp(maxMessages, 1, sqsMaxBatch)
	waitSeconds = clamp(waitSeconds, 0, sqsMaxWaitSeconds)

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("crm: receive jobs from SQS: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete acknowledges a received job. An empty handle is ignored.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("crm: delete SQS job %s: %w", receiptHandle, err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
