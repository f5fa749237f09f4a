// Package feeds keeps read-only, newest-first views of the activity log, the
// notes inbox and the deliverables registry in sync with the store.
package feeds

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

// Subscriber delivers change notifications for a collection.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, onChange func()) (func(), error)
}

// Loader fetches at most limit items, newest first. A zero limit means all.
type Loader[T any] func(ctx context.Context, limit int) ([]T, error)

// Feed is a capped list refetched on every change of its collection. Fetches
// are sequence-numbered and a response older than the one already applied is
// dropped.
type Feed[T any] struct {
	collection string
	limit      int
	load       Loader[T]
	logger     *log.Logger

	mu          sync.Mutex
	items       []T
	loaded      bool
	fetchSeq    uint64
	appliedSeq  uint64
	onChange    []func([]T)
	wg          sync.WaitGroup
	unsubscribe func()
}

// New creates a feed over collection.
func New[T any](collection string, limit int, load Loader[T], logger *log.Logger) *Feed[T] {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Feed[T]{collection: collection, limit: limit, load: load, logger: logger}
}

// Limit is the display cap of the feed.
func (f *Feed[T]) Limit() int { return f.limit }

// OnChange registers an observer called with the items after every applied fetch.
func (f *Feed[T]) OnChange(fn func([]T)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = append(f.onChange, fn)
}

// Start subscribes to the collection and loads the first page.
func (f *Feed[T]) Start(ctx context.Context, sub Subscriber) error {
	unsubscribe, err := sub.Subscribe(ctx, f.collection, func() {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			_ = f.Refresh(ctx)
		}()
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.unsubscribe = unsubscribe
	f.mu.Unlock()
	return f.Refresh(ctx)
}

// Close stops the subscription and waits for pending refreshes.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	f.wg.Wait()
}

// Refresh reloads the feed.
func (f *Feed[T]) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.fetchSeq++
	seq := f.fetchSeq
	f.mu.Unlock()

	items, err := f.load(ctx, f.limit)
	if err != nil {
		f.logger.WithError(err).WithField("collection", f.collection).Warn("feed refresh failed")
		return err
	}
	if f.limit > 0 && len(items) > f.limit {
		items = items[:f.limit]
	}

	f.mu.Lock()
	if seq <= f.appliedSeq {
		f.mu.Unlock()
		return nil
	}
	f.appliedSeq = seq
	f.items = items
	f.loaded = true
	fns := append(([]func([]T))(nil), f.onChange...)
	f.mu.Unlock()

	snapshot := append([]T(nil), items...)
	for _, fn := range fns {
		fn(snapshot)
	}
	return nil
}

// Items returns the current items, newest first.
func (f *Feed[T]) Items() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]T(nil), f.items...)
}

// Loaded reports whether a fetch has completed.
func (f *Feed[T]) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

type ActivitySource interface {
	ListActivity(ctx context.Context, limit int) ([]domain.ActivityLogEntry, error)
}

type NotesSource interface {
	ListNotes(ctx context.Context, limit int) ([]domain.Note, error)
}

type DeliverablesSource interface {
	ListDeliverables(ctx context.Context) ([]domain.Deliverable, error)
}

// Activity follows the activity log, capped at domain.ActivityDisplayLimit.
func Activity(src ActivitySource, logger *log.Logger) *Feed[domain.ActivityLogEntry] {
	return New(domain.CollectionActivity, domain.ActivityDisplayLimit, src.ListActivity, logger)
}

// Notes follows the notes inbox, capped at domain.NotesDisplayLimit.
func Notes(src NotesSource, logger *log.Logger) *Feed[domain.Note] {
	return New(domain.CollectionNotes, domain.NotesDisplayLimit, src.ListNotes, logger)
}

// Deliverables follows the whole deliverables registry.
func Deliverables(src DeliverablesSource, logger *log.Logger) *Feed[domain.Deliverable] {
	return New(domain.CollectionDeliverables, 0, func(ctx context.Context, _ int) ([]domain.Deliverable, error) {
		return src.ListDeliverables(ctx)
	}, logger)
}

// Unread counts unread notes in the inbox feed.
func Unread(f *Feed[domain.Note]) int {
	return domain.UnreadCount(f.Items())
}

var knownActions = map[string]bool{
	domain.ActionTaskCreated:   true,
	domain.ActionTaskUpdated:   true,
	domain.ActionTaskCompleted: true,
	domain.ActionTaskDeleted:   true,
	domain.ActionTaskMoved:     true,
	domain.ActionNoteAdded:     true,
	domain.ActionStatusChanged: true,
}

// ActionKind returns action when it is part of the known vocabulary and
// "default" otherwise.
func ActionKind(action string) string {
	if knownActions[action] {
		return action
	}
	return "default"
}
