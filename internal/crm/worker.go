package crm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	defaultWorkerCount   = 4
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	jobTimeout           = 60 * time.Second
)

// JobProcessor handles one decoded job.
type JobProcessor interface {
	Process(ctx context.Context, job Job) error
}

// Worker consumes CRM jobs from a Queue with a fixed pool of goroutines.
type Worker struct {
	queue     Queue
	processor JobProcessor
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker builds a Worker.
func NewWorker(queue Queue, processor JobProcessor, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("crm: queue cannot be nil")
	}
	if processor == nil {
		panic("crm: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, processor: processor, logger: logger, cfg: cfg}
}

// Start launches the worker goroutines. They stop receiving when ctx is done;
// jobs already received still finish.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until every worker goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("crm worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("crm worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive crm jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes and then deletes the message, also when processing fails.
func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	defer w.deleteMessage(context.Background(), msg.ReceiptHandle)

	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode crm job", "error", err, "msg_id", msg.ID)
		return
	}

	// A job already taken off the queue runs to completion after shutdown.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	w.logger.Info("crm worker processing job", "job_id", job.ID, "appointment_id", job.AppointmentID)
	if err := w.processor.Process(jobCtx, job); err != nil {
		w.logger.Error("crm job failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete crm job", "error", err)
	}
}
