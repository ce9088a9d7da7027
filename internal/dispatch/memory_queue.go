package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue carries dispatch tasks over a buffered channel so the API
// process can run its own waves without SQS (USE_MEMORY_QUEUE=true).
// Tasks do not survive a restart; a dispatch restart from the admin
// console re-enqueues the job.
type MemoryQueue struct {
	tasks chan queueMessage
}

// NewMemoryQueue creates an in-process task queue holding up to capacity
// pending dispatch tasks.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryQueue{
		tasks: make(chan queueMessage, capacity),
	}
}

// Send enqueues one dispatch task, blocking until there is room or ctx
// is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	task := queueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next dispatch task and drains any others already
// buffered, up to maxMessages. A zero waitSeconds blocks until a task
// arrives; otherwise an empty batch is returned once the wait elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var deadline <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		return nil, nil
	case task := <-q.tasks:
		return q.drainInto([]queueMessage{task}, maxMessages), nil
	}
}

// Delete is a no-op: receiving a task already removed it from the
// channel.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

func (q *MemoryQueue) drainInto(batch []queueMessage, max int) []queueMessage {
	for len(batch) < max {
		select {
		case task := <-q.tasks:
			batch = append(batch, task)
		default:
			return batch
		}
	}
	return batch
}
