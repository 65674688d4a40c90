// Package scheduler runs deferred work: webhook processing, document
// uploads and check generation. Tasks carry no payload beyond a reference;
// handlers re-read state so a redelivered or duplicated task converges.
package scheduler

import (
	"context"
	"time"
)

// Kind names a task handler.
type Kind string

const (
	KindPlatformWebhook Kind = "webhook.platform"
	KindProviderWebhook Kind = "webhook.provider"
	KindDocumentUpload  Kind = "document.upload"
	KindCheckGenerate   Kind = "check.generate"
)

// Task is one unit of deferred work. Ref identifies the record the handler
// operates on (webhook id, document id, check id). Attempt counts
// deliveries, starting at 1.
type Task struct {
	Kind    Kind   `json:"kind"`
	Ref     string `json:"ref"`
	Attempt int    `json:"attempt"`
}

// Queue is a delayed task queue. Enqueue schedules the task to become ready
// after the delay; Dequeue blocks until a task is ready or the context is
// done.
type Queue interface {
	Enqueue(ctx context.Context, task Task, delay time.Duration) error
	Dequeue(ctx context.Context) (Task, error)
}
