package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

const (
	receiveBatchSize = 5
	receiveWaitSecs  = 10
	receiveBackoff   = 5 * time.Second
)

// Worker consumes dispatch tasks from the queue with a small pool of
// long-polling goroutines.
type Worker struct {
	engine *Engine
	queue  queueClient
	logger *logging.Logger
	count  int
	wg     sync.WaitGroup
}

// WorkerOption customizes the worker pool.
type WorkerOption func(*Worker)

// WithWorkerCount sets the number of consumer goroutines.
func WithWorkerCount(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.count = n
		}
	}
}

// NewWorker builds the consumer pool over the given queue client.
func NewWorker(engine *Engine, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if engine == nil {
		panic("dispatch: engine required")
	}
	if queue == nil {
		panic("dispatch: queue client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		engine: engine,
		queue:  queue,
		logger: logger,
		count:  2,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutines. They stop when ctx is
// canceled; call Wait to block until they drain.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	w.logger.Info("dispatch workers started", "count", w.count)
}

// Wait blocks until all consumer goroutines have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, receiveBatchSize, receiveWaitSecs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue receive failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queueMessage) {
	var task Task
	if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
		w.logger.Error("task decode failed", "message_id", msg.ID, "error", err)
		// Poison message: delete rather than redeliver forever.
		w.delete(ctx, msg)
		return
	}

	switch task.Kind {
	case taskKindDispatch:
		if err := w.engine.Dispatch(ctx, task.JobID); err != nil {
			w.logger.Error("dispatch task failed", "job_id", task.JobID, "error", err)
			// Leave the message for redelivery.
			return
		}
	default:
		w.logger.Warn("unknown task kind", "kind", task.Kind, "message_id", msg.ID)
	}
	w.delete(ctx, msg)
}

func (w *Worker) delete(ctx context.Context, msg queueMessage) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Warn("queue delete failed", "message_id", msg.ID, "error", err)
	}
}
