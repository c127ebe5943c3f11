package crm

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultMaxInflight = 32
)

// Dispatcher hands jobs to a Queue without making the caller wait.
type Dispatcher struct {
	queue       Queue
	logger      *logging.Logger
	observer    Observer
	sendTimeout time.Duration
	inflight    chan struct{}
	wg          sync.WaitGroup
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxInflight caps concurrent background sends to a remote queue.
func WithMaxInflight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inflight = make(chan struct{}, n)
		}
	}
}

// NewDispatcher wraps queue. observer may be nil.
func NewDispatcher(queue Queue, logger *logging.Logger, observer Observer, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		queue:       queue,
		logger:      logger,
		observer:    observer,
		sendTimeout: defaultSendTimeout,
		inflight:    make(chan struct{}, defaultMaxInflight),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchAsync enqueues job and returns its id. A MemoryQueue is written
// inline since its Send never blocks; remote queues get a background send
// from a bounded pool. Enqueue failures are logged only; they never reach the
// booking caller. When the pool is saturated the job is dropped and "" is
// returned.
func (d *Dispatcher) DispatchAsync(job Job) string {
	job, body, err := encodeJob(job)
	if err != nil {
		d.logger.Error("crm: dropping job", "error", err)
		return ""
	}

	if _, local := d.queue.(*MemoryQueue); local {
		d.send(job, body)
		return job.ID
	}

	select {
	case d.inflight <- struct{}{}:
	default:
		d.logger.Warn("crm: enqueue pool saturated, dropping job", "job_id", job.ID, "appointment_id", job.AppointmentID)
		d.observe("dropped")
		return ""
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.inflight }()
		d.send(job, body)
	}()
	return job.ID
}

func (d *Dispatcher) send(job Job, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	if err := d.queue.Send(ctx, body); err != nil {
		d.logger.Error("crm: failed to enqueue job", "job_id", job.ID, "appointment_id", job.AppointmentID, "error", err)
		d.observe("error")
		return
	}
	d.observe("ok")
	d.logger.Debug("crm: job enqueued", "job_id", job.ID)
}

func (d *Dispatcher) observe(outcome string) {
	if d.observer != nil {
		d.observer.ObserveCRMStep("enqueue", outcome)
	}
}

// Wait blocks until in-flight enqueues finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
