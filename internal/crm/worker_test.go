package crm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureProcessor struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
}

func (c *captureProcessor) Process(_ context.Context, job Job) error {
	c.mu.Lock()
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func TestDispatcherAndWorkerDeliverJobs(t *testing.T) {
	queue := NewMemoryQueue(8)
	proc := &captureProcessor{done: make(chan struct{}, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(queue, proc, nil, WithWorkerCount(2), WithReceiveWaitSeconds(1))
	worker.Start(ctx)

	d := NewDispatcher(queue, nil, nil)
	id := d.DispatchAsync(sampleJob())
	require.NotEmpty(t, id)
	d.Wait()

	select {
	case <-proc.done:
	case <-time.After(3 * time.Second):
		t.Fatal("job was not processed")
	}

	cancel()
	worker.Wait()

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Len(t, proc.jobs, 1)
	assert.Equal(t, "job-1", proc.jobs[0].ID)
	assert.Equal(t, 501, proc.jobs[0].AppointmentID)
	assert.False(t, proc.jobs[0].CreatedAt.IsZero())
}

func TestDispatcherAssignsJobIDs(t *testing.T) {
	queue := NewMemoryQueue(2)
	d := NewDispatcher(queue, nil, nil)

	job := sampleJob()
	job.ID = ""
	id := d.DispatchAsync(job)
	d.Wait()

	assert.NotEmpty(t, id)
	assert.Equal(t, 1, queue.Len())
}

func TestMemoryQueueNeverBlocks(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Send(context.Background(), "a"))
	assert.ErrorIs(t, queue.Send(context.Background(), "b"), ErrQueueFull)

	msgs, err := queue.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Body)

	msgs, err = queue.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDispatcherSurvivesFullQueue(t *testing.T) {
	queue := NewMemoryQueue(1)
	steps := &stepRecorder{}
	d := NewDispatcher(queue, nil, steps)

	d.DispatchAsync(sampleJob())
	d.Wait()
	d.DispatchAsync(sampleJob())
	d.Wait()

	assert.Equal(t, 1, queue.Len())
	assert.ElementsMatch(t, []string{"enqueue:ok", "enqueue:error"}, steps.steps)
}

func TestDispatcherWritesMemoryQueueInline(t *testing.T) {
	queue := NewMemoryQueue(2)
	steps := &stepRecorder{}
	d := NewDispatcher(queue, nil, steps)

	id := d.DispatchAsync(sampleJob())

	assert.Equal(t, "job-1", id)
	assert.Equal(t, 1, queue.Len())
	assert.Equal(t, []string{"enqueue:ok"}, steps.steps)
}

// gatedQueue holds every Send until release is closed.
type gatedQueue struct {
	started chan struct{}
	release chan struct{}
}

func (q *gatedQueue) Send(ctx context.Context, _ string) error {
	q.started <- struct{}{}
	select {
	case <-q.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *gatedQueue) Receive(context.Context, int, int) ([]Message, error) { return nil, nil }
func (q *gatedQueue) Delete(context.Context, string) error                 { return nil }

func TestDispatcherBoundsRemoteSends(t *testing.T) {
	queue := &gatedQueue{started: make(chan struct{}, 4), release: make(chan struct{})}
	steps := &stepRecorder{}
	d := NewDispatcher(queue, nil, steps, WithMaxInflight(2))

	assert.NotEmpty(t, d.DispatchAsync(sampleJob()))
	assert.NotEmpty(t, d.DispatchAsync(sampleJob()))
	for i := 0; i < 2; i++ {
		select {
		case <-queue.started:
		case <-time.After(3 * time.Second):
			t.Fatal("send did not start")
		}
	}

	assert.Empty(t, d.DispatchAsync(sampleJob()))

	close(queue.release)
	d.Wait()

	assert.ElementsMatch(t, []string{"enqueue:ok", "enqueue:ok", "enqueue:dropped"}, steps.steps)

	// Slots free up once sends complete.
	assert.NotEmpty(t, d.DispatchAsync(sampleJob()))
	d.Wait()
	assert.Len(t, steps.steps, 4)
}

func TestMemoryQueueDrain(t *testing.T) {
	queue := NewMemoryQueue(2)
	require.NoError(t, queue.Drain(context.Background()))

	require.NoError(t, queue.Send(context.Background(), "a"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := queue.Drain(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "1 jobs left")

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = queue.Receive(context.Background(), 1, 1)
	}()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer drainCancel()
	require.NoError(t, queue.Drain(drainCtx))
}

// slowProcessor blocks until release and reports the context error it saw.
type slowProcessor struct {
	started chan struct{}
	release chan struct{}
	result  chan error
}

func (p *slowProcessor) Process(ctx context.Context, _ Job) error {
	p.started <- struct{}{}
	<-p.release
	p.result <- ctx.Err()
	return nil
}

func TestWorkerFinishesReceivedJobAfterShutdown(t *testing.T) {
	queue := NewMemoryQueue(4)
	proc := &slowProcessor{started: make(chan struct{}, 1), release: make(chan struct{}), result: make(chan error, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(queue, proc, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	worker.Start(ctx)

	NewDispatcher(queue, nil, nil).DispatchAsync(sampleJob())
	select {
	case <-proc.started:
	case <-time.After(3 * time.Second):
		t.Fatal("job was not picked up")
	}

	cancel()
	close(proc.release)
	worker.Wait()

	assert.NoError(t, <-proc.result)
}
