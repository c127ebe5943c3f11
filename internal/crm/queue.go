package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by queues that refuse to block the caller.
var ErrQueueFull = errors.New("crm: queue is full")

// Queue carries encoded jobs between the API and the CRM workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received job.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is everything the CRM steps need about a confirmed booking.
type Job struct {
	ID              string    `json:"id"`
	ContactID       string    `json:"contact_id"`
	Backend         string    `json:"backend"`
	AppointmentID   int       `json:"appointment_id"`
	ProfessionalID  int       `json:"professional_id"`
	BranchID        int       `json:"branch_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Comment         string    `json:"comment,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("crm: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("crm: failed to decode job: %w", err)
	}
	return job, nil
}
