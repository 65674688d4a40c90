package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verisync/internal/platform/metrics"
	derrors "verisync/pkg/domain-errors"
)

func TestMemoryQueueDeliversImmediately(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := Task{Kind: KindCheckGenerate, Ref: "check-1", Attempt: 1}
	require.NoError(t, q.Enqueue(ctx, want, 0))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMemoryQueueHonorsDelay(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, Task{Kind: KindDocumentUpload, Ref: "doc-1", Attempt: 1}, 50*time.Millisecond))

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueueDequeueRespectsContext(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryDelayByKind(t *testing.T) {
	assert.Equal(t, time.Minute, retryDelay(KindPlatformWebhook))
	assert.Equal(t, time.Minute, retryDelay(KindProviderWebhook))
	assert.Equal(t, 10*time.Second, retryDelay(KindDocumentUpload))
	assert.Equal(t, 10*time.Second, retryDelay(KindCheckGenerate))
}

// recordingQueue captures re-enqueues synchronously so worker retry behavior
// can be asserted without timing games.
type recordingQueue struct {
	mu       sync.Mutex
	pending  chan Task
	enqueued []Task
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{pending: make(chan Task, 16)}
}

func (q *recordingQueue) Enqueue(_ context.Context, task Task, _ time.Duration) error {
	q.mu.Lock()
	q.enqueued = append(q.enqueued, task)
	q.mu.Unlock()
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.pending:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *recordingQueue) reenqueued() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.enqueued...)
}

func runWorkerOnce(t *testing.T, queue *recordingQueue, task Task, handler Handler) {
	t.Helper()
	w := NewWorker(queue, 1, metrics.New(prometheus.NewRegistry()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.Register(task.Kind, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	handled := make(chan struct{})
	wrapped := w.handlers[task.Kind]
	w.handlers[task.Kind] = func(ctx context.Context, task Task) error {
		defer close(handled)
		return wrapped(ctx, task)
	}
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	queue.pending <- task
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	cancel()
	<-done
}

func TestWorkerReenqueuesRetryableFailures(t *testing.T) {
	queue := newRecordingQueue()
	task := Task{Kind: KindCheckGenerate, Ref: "check-1", Attempt: 1}

	runWorkerOnce(t, queue, task, func(context.Context, Task) error {
		return derrors.New(derrors.CodeUnavailable, "provider down")
	})

	retries := queue.reenqueued()
	require.Len(t, retries, 1)
	assert.Equal(t, 2, retries[0].Attempt)
	assert.Equal(t, task.Ref, retries[0].Ref)
}

func TestWorkerDropsTerminalFailures(t *testing.T) {
	queue := newRecordingQueue()
	task := Task{Kind: KindCheckGenerate, Ref: "check-1", Attempt: 1}

	runWorkerOnce(t, queue, task, func(context.Context, Task) error {
		return derrors.New(derrors.CodeValidation, "bad payload")
	})

	assert.Empty(t, queue.reenqueued())
}

func TestWorkerStopsRetryingAtAttemptCeiling(t *testing.T) {
	queue := newRecordingQueue()
	task := Task{Kind: KindProviderWebhook, Ref: "wh-1", Attempt: maxAttempts}

	runWorkerOnce(t, queue, task, func(context.Context, Task) error {
		return derrors.New(derrors.CodeUnavailable, "still down")
	})

	assert.Empty(t, queue.reenqueued())
}

func TestWorkerSuccessConsumesTask(t *testing.T) {
	queue := newRecordingQueue()
	task := Task{Kind: KindDocumentUpload, Ref: "doc-1", Attempt: 1}

	var calls int
	runWorkerOnce(t, queue, task, func(context.Context, Task) error {
		calls++
		return nil
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, queue.reenqueued())
}
