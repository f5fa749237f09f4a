package api

import (
	"context"

	"kanban-board/domain"
)

// TaskStore abstracts task persistence for handlers.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error
}

// FeedStore abstracts the activity log, notes inbox and deliverables registry.
type FeedStore interface {
	ListActivity(ctx context.Context, limit int) ([]domain.ActivityLogEntry, error)
	AppendActivity(ctx context.Context, action, description string) (domain.ActivityLogEntry, error)
	ListNotes(ctx context.Context, limit int) ([]domain.Note, error)
	AddNote(ctx context.Context, content string) (domain.Note, error)
	MarkNoteRead(ctx context.Context, id string) error
	DeleteNote(ctx context.Context, id string) error
	ListDeliverables(ctx context.Context) ([]domain.Deliverable, error)
	AddDeliverable(ctx context.Context, d domain.Deliverable) (domain.Deliverable, error)
}

// TriageQueue schedules triage passes.
type TriageQueue interface {
	EnqueueTriage(ctx context.Context, dryRun bool) (domain.TriageRequest, error)
}

// Store is everything the API persists.
type Store interface {
	TaskStore
	FeedStore
	TriageQueue
}

// ChangeSource delivers every change broadcast by the store.
type ChangeSource interface {
	Listen(ctx context.Context, fn func(domain.Change)) (func(), error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, scope, key string) error
}
