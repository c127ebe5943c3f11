package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const drainPollInterval = 20 * time.Millisecond

// MemoryQueue is a bounded in-process Queue. Send never blocks.
type MemoryQueue struct {
	ch chan Message
}

// NewMemoryQueue creates a MemoryQueue holding at most size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Message, size)}
}

// Send enqueues body or returns ErrQueueFull.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

// Delete is a no-op for the in-memory queue.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

// Len reports queued jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Drain blocks until every queued job has been received or ctx is done.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for q.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("crm: %d jobs left in memory queue: %w", q.Len(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (q *MemoryQueue) collect(first Message, max int) []Message {
	messages := make([]Message, 0, max)
	messages = append(messages, first)
	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return messages
		}
	}
	return messages
}
