package rooms

import (
	"context"
	"log/slog"
)

// taskQueue buffers gateway-driven work until the next reconcile pass. The
// single consumer is the manager's loop, so tasks never race room state.
type taskQueue struct {
	logger *slog.Logger
	tasks  chan func(context.Context)
}

func newTaskQueue(size int, logger *slog.Logger) *taskQueue {
	if size <= 0 {
		size = 256
	}
	return &taskQueue{logger: logger, tasks: make(chan func(context.Context), size)}
}

// Enqueue adds a task without blocking. When the queue is full the task is
// dropped and logged; the periodic reconcile pass repairs any state the
// dropped event would have touched.
func (q *taskQueue) Enqueue(task func(context.Context)) {
	select {
	case q.tasks <- task:
	default:
		q.logger.Warn("event queue full, dropping task")
	}
}

// Drain runs every currently queued task and returns.
func (q *taskQueue) Drain(ctx context.Context) {
	for {
		select {
		case task := <-q.tasks:
			task(ctx)
		default:
			return
		}
	}
}

// Len reports the number of pending tasks.
func (q *taskQueue) Len() int {
	return len(q.tasks)
}
