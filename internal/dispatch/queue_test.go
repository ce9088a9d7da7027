package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)
	queue := NewQueue(q)

	if err := queue.EnqueueDispatch(context.Background(), "job-1"); err != nil {
		t.Fatalf("EnqueueDispatch: %v", err)
	}

	messages, err := q.Receive(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
}

func TestMemoryQueueDrainsBufferedTasks(t *testing.T) {
	q := NewMemoryQueue(8)
	queue := NewQueue(q)

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if err := queue.EnqueueDispatch(context.Background(), id); err != nil {
			t.Fatalf("EnqueueDispatch(%s): %v", id, err)
		}
	}

	messages, err := q.Receive(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want batch capped at 2", len(messages))
	}

	messages, err = q.Receive(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want the remaining 1", len(messages))
	}
}

func TestWorkerConsumesDispatchTask(t *testing.T) {
	engine, _, jobStore, _ := testEngine(t, func(opts *EngineOptions) {
		opts.Directory = &fakeDirectory{available: []*providers.Locksmith{
			locksmith("1", "Alex"),
		}}
	})
	jobStore.byID["job-1"] = &jobs.Job{
		ID: "job-1", Status: jobs.StatusCreated,
		ServiceType: "rekey", City: "Laredo",
	}

	q := NewMemoryQueue(4)
	if err := NewQueue(q).EnqueueDispatch(context.Background(), "job-1"); err != nil {
		t.Fatalf("EnqueueDispatch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(engine, q, nil, WithWorkerCount(1))
	worker.Start(ctx)

	deadline := time.After(2 * time.Second)
	for jobStore.status("job-1") != jobs.StatusOffered {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("job never dispatched, status = %q", jobStore.status("job-1"))
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	worker.Wait()
}
