package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"verisync/internal/platform/metrics"
	derrors "verisync/pkg/domain-errors"
)

// Handler processes one task delivery. A retryable error re-enqueues the
// task; a terminal error or nil consumes it.
type Handler func(ctx context.Context, task Task) error

// maxAttempts is the delivery ceiling per task: the first delivery plus six
// retries.
const maxAttempts = 7

// retryDelay returns the backoff before the next delivery. Webhook
// redeliveries are paced a minute apart; internal follow-up work retries
// faster.
func retryDelay(kind Kind) time.Duration {
	switch kind {
	case KindPlatformWebhook, KindProviderWebhook:
		return time.Minute
	default:
		return 10 * time.Second
	}
}

// Worker drains the queue with a pool of goroutines and dispatches tasks to
// registered handlers.
type Worker struct {
	queue    Queue
	handlers map[Kind]Handler
	size     int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewWorker(queue Queue, size int, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if size < 1 {
		size = 1
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[Kind]Handler),
		size:     size,
		metrics:  m,
		logger:   logger,
	}
}

// Register binds a handler to a task kind. Must be called before Run.
func (w *Worker) Register(kind Kind, handler Handler) {
	w.handlers[kind] = handler
}

// Run blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.size; i++ {
		group.Go(func() error {
			return w.loop(ctx)
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task Task) {
	handler, ok := w.handlers[task.Kind]
	if !ok {
		w.logger.ErrorContext(ctx, "no handler for task kind", "kind", string(task.Kind))
		return
	}
	if task.Attempt < 1 {
		task.Attempt = 1
	}

	err := handler(ctx, task)
	if err == nil {
		return
	}

	if derrors.Retryable(err) && task.Attempt < maxAttempts {
		next := task
		next.Attempt++
		w.metrics.TaskRetries.WithLabelValues(string(task.Kind)).Inc()
		w.logger.WarnContext(ctx, "task failed, retrying",
			"kind", string(task.Kind),
			"ref", task.Ref,
			"attempt", task.Attempt,
			"error", err,
		)
		if err := w.queue.Enqueue(ctx, next, retryDelay(task.Kind)); err != nil {
			w.logger.ErrorContext(ctx, "failed to re-enqueue task",
				"kind", string(task.Kind),
				"ref", task.Ref,
				"error", err,
			)
		}
		return
	}

	w.logger.ErrorContext(ctx, "task failed terminally",
		"kind", string(task.Kind),
		"ref", task.Ref,
		"attempt", task.Attempt,
		"error", err,
	)
}
