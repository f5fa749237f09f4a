package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kanban-board/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	tasks     []domain.Task
	listHook  func(call int) error
	listCalls int
	updateErr error
	updates   []domain.TaskPatch
	updating  chan struct{}
	block     chan struct{}
	deleted   []string
	created   int
}

func (f *fakeStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	snap := append([]domain.Task(nil), f.tasks...)
	hook := f.listHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in = in.Normalize()
	f.created++
	t := domain.Task{ID: "task-new", Title: in.Title, Priority: in.Priority, Stage: in.Stage, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	if f.updating != nil {
		close(f.updating)
		f.updating = nil
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks[i] = t.Apply(patch, time.Now())
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

var base = time.Date(2025, 1, 21, 10, 0, 0, 0, time.UTC)

func seededStore() *fakeStore {
	return &fakeStore{tasks: []domain.Task{
		{ID: "task-1", Title: "Papaprotect Deep Dive", Stage: domain.StageTodo, CreatedAt: base, UpdatedAt: base},
		{ID: "task-2", Title: "GEZ abmelden", Stage: domain.StageKarim, CreatedAt: base.Add(time.Minute)},
		{ID: "task-3", Title: "Dogcare Posts fertig", Stage: domain.StageDone, CreatedAt: base.Add(2 * time.Minute)},
	}}
}

func startedSession(t *testing.T, store *fakeStore) *Session {
	t.Helper()
	s := NewSession(store, nil)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return s
}

func stageOf(t *testing.T, s *Session, id string) domain.Stage {
	t.Helper()
	task, ok := s.Task(id)
	if !ok {
		t.Fatalf("task %s not in view", id)
	}
	return task.Stage
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDropOnCardTargetsCardStage(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)

	if err := s.BeginDrag("task-1"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if got := s.State(); got != DraggingLocal {
		t.Fatalf("expected dragging, got %v", got)
	}
	if active, ok := s.Active(); !ok || active.ID != "task-1" {
		t.Fatalf("unexpected active task %#v", active)
	}

	if err := s.Drop(context.Background(), "task-3"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := s.State(); got != Idle {
		t.Fatalf("expected idle, got %v", got)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageDone {
		t.Fatalf("expected done, got %q", got)
	}
	if len(store.updates) != 1 || *store.updates[0].Stage != domain.StageDone {
		t.Fatalf("unexpected updates %#v", store.updates)
	}
	if got := s.Column(domain.StageDone); len(got) != 2 {
		t.Fatalf("expected two done tasks, got %#v", got)
	}
}

func TestDropOnColumn(t *testing.T) {
	s := startedSession(t, seededStore())
	if err := s.BeginDrag("task-1"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := s.Drop(context.Background(), "klausi"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageKlausi {
		t.Fatalf("expected klausi, got %q", got)
	}
}

func TestDropIntoSameStageOrInvalidTargetIsNoop(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)

	for _, over := range []string{"todo", "nowhere"} {
		if err := s.BeginDrag("task-1"); err != nil {
			t.Fatalf("begin drag: %v", err)
		}
		if err := s.Drop(context.Background(), over); err != nil {
			t.Fatalf("drop on %s: %v", over, err)
		}
		if got := s.State(); got != Idle {
			t.Fatalf("drop on %s: expected idle, got %v", over, got)
		}
	}

	if err := s.BeginDrag("task-2"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	s.CancelDrag()
	if got := s.State(); got != Idle {
		t.Fatalf("expected idle after cancel, got %v", got)
	}
	if _, ok := s.Active(); ok {
		t.Fatalf("active task after cancel")
	}

	if len(store.updates) != 0 {
		t.Fatalf("store written: %#v", store.updates)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageTodo {
		t.Fatalf("expected todo, got %q", got)
	}
}

func TestBeginDragRequiresIdleAndKnownTask(t *testing.T) {
	s := startedSession(t, seededStore())
	if err := s.BeginDrag("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.BeginDrag("task-1"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := s.BeginDrag("task-2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestDropGoesStraightToSyncing(t *testing.T) {
	store := seededStore()
	store.updating = make(chan struct{})
	updating := store.updating
	store.block = make(chan struct{})
	s := startedSession(t, store)

	if err := s.BeginDrag("task-1"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}

	stolen := make(chan bool, 1)
	go func() {
		for {
			select {
			case <-updating:
				stolen <- false
				return
			default:
			}
			if s.BeginDrag("task-2") == nil {
				stolen <- true
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- s.Drop(context.Background(), "karim") }()

	if <-stolen {
		t.Fatalf("another drag started while the drop was being handed to the store")
	}
	if got := s.State(); got != Syncing {
		t.Fatalf("expected syncing, got %v", got)
	}
	close(store.block)
	if err := <-done; err != nil {
		t.Fatalf("drop: %v", err)
	}
}

func TestFailedDropRollsBack(t *testing.T) {
	store := seededStore()
	store.updateErr = domain.ErrStoreUnavailable
	s := startedSession(t, store)

	var errs []error
	var views [][]domain.Task
	s.OnError(func(err error) { errs = append(errs, err) })
	s.OnChange(func(v []domain.Task) { views = append(views, v) })

	if err := s.BeginDrag("task-2"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := s.Drop(context.Background(), "done"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := s.State(); got != Idle {
		t.Fatalf("expected idle, got %v", got)
	}
	if got := stageOf(t, s, "task-2"); got != domain.StageKarim {
		t.Fatalf("expected rollback to karim, got %q", got)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one reported error, got %v", errs)
	}

	if len(views) != 2 {
		t.Fatalf("expected optimistic view then rollback, got %d views", len(views))
	}
	for _, task := range views[0] {
		if task.ID == "task-2" && task.Stage != domain.StageDone {
			t.Fatalf("optimistic view shows %q", task.Stage)
		}
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)

	release := make(chan struct{})
	entered := make(chan struct{})
	store.listHook = func(call int) error {
		if call == 2 {
			close(entered)
			<-release
		}
		return nil
	}

	slow := make(chan error, 1)
	go func() { slow <- s.Refresh(context.Background()) }()
	<-entered
	// The slow fetch already holds its snapshot; the store moves on.
	if err := store.UpdateTask(context.Background(), "task-1", domain.StagePatch(domain.StageKlausi)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageKlausi {
		t.Fatalf("expected klausi, got %q", got)
	}

	close(release)
	if err := <-slow; err != nil {
		t.Fatalf("slow refresh: %v", err)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageKlausi {
		t.Fatalf("older response overwrote newer one: %q", got)
	}
}

func TestOptimisticEditSurvivesFetchIssuedBeforeCompletion(t *testing.T) {
	store := seededStore()
	store.block = make(chan struct{})
	s := startedSession(t, store)

	if err := s.BeginDrag("task-1"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Drop(context.Background(), "karim") }()

	eventually(t, "syncing", func() bool { return s.State() == Syncing })
	// A notification for some other change arrives while the update is in flight.
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	task, _ := s.Task("task-1")
	if task.Stage != domain.StageKarim {
		t.Fatalf("stale list reverted optimistic edit: %q", task.Stage)
	}
	if !task.UpdatedAt.Equal(base) {
		t.Fatalf("overlay changed UpdatedAt to %v", task.UpdatedAt)
	}

	close(store.block)
	if err := <-done; err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := s.State(); got != Idle {
		t.Fatalf("expected idle, got %v", got)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageKarim {
		t.Fatalf("expected karim, got %q", got)
	}

	// After completion the next fetch is authoritative.
	store.mu.Lock()
	store.tasks[0].Stage = domain.StageDone
	store.mu.Unlock()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageDone {
		t.Fatalf("expected done, got %q", got)
	}
}

func TestOverlayKeepsServerUpdatedAt(t *testing.T) {
	store := seededStore()
	store.block = make(chan struct{})
	s := startedSession(t, store)

	title := "Papaprotect Deep Dive (Teil 2)"
	done := make(chan error, 1)
	go func() { done <- s.EditTask(context.Background(), "task-1", domain.TaskPatch{Title: &title}) }()
	eventually(t, "syncing", func() bool { return s.State() == Syncing })

	for i := 0; i < 2; i++ {
		task, _ := s.Task("task-1")
		if task.Title != title || !task.UpdatedAt.Equal(base) {
			t.Fatalf("unexpected overlay %#v", task)
		}
		if err := s.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	close(store.block)
	if err := <-done; err != nil {
		t.Fatalf("edit: %v", err)
	}
}

func TestSlowFetchStartedBeforeEditCompletes(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)

	release := make(chan struct{})
	entered := make(chan struct{})
	store.listHook = func(call int) error {
		if call == 2 {
			close(entered)
			<-release
		}
		return nil
	}
	slow := make(chan error, 1)
	go func() { slow <- s.Refresh(context.Background()) }()
	<-entered

	if err := s.BeginDrag("task-1"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := s.Drop(context.Background(), "done"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	close(release)
	if err := <-slow; err != nil {
		t.Fatalf("slow refresh: %v", err)
	}
	if got := stageOf(t, s, "task-1"); got != domain.StageDone {
		t.Fatalf("snapshot taken before the write won: %q", got)
	}
}

func TestEditAndDeleteTask(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)
	ctx := context.Background()

	title := "GEZ abmelden (erledigt)"
	if err := s.EditTask(ctx, "task-2", domain.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got, ok := s.Task("task-2"); !ok || got.Title != title {
		t.Fatalf("unexpected task %#v", got)
	}

	if err := s.EditTask(ctx, "task-2", domain.TaskPatch{}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := s.DeleteTask(ctx, "task-3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Task("task-3"); ok {
		t.Fatalf("deleted task still in view")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "task-3" {
		t.Fatalf("unexpected deletes %v", store.deleted)
	}

	if err := s.DeleteTask(ctx, "task-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateTaskAppearsBeforeNextFetch(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, domain.TaskInput{Title: ""}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.created != 0 {
		t.Fatalf("store written on invalid input")
	}

	task, err := s.CreateTask(ctx, domain.TaskInput{Title: "ACC Website Livegang"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := s.Tasks()
	if len(tasks) != 4 || tasks[3].ID != task.ID {
		t.Fatalf("created task not last in view: %#v", tasks)
	}

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := s.Tasks(); len(got) != 4 {
		t.Fatalf("expected 4 tasks after refresh, got %d", len(got))
	}
}

func TestRefreshErrorIsReported(t *testing.T) {
	store := seededStore()
	s := startedSession(t, store)
	store.listHook = func(int) error { return domain.ErrStoreUnavailable }

	var got error
	s.OnError(func(err error) { got = err })
	if err := s.Refresh(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(got, domain.ErrStoreUnavailable) {
		t.Fatalf("error not reported: %v", got)
	}
	if len(s.Tasks()) != 3 {
		t.Fatalf("view dropped on failed refresh")
	}
}

type fakeSubscriber struct {
	mu       sync.Mutex
	onChange func()
	stopped  bool
	err      error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, collection string, onChange func()) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.onChange = onChange
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeSubscriber) fire() {
	f.mu.Lock()
	fn := f.onChange
	f.mu.Unlock()
	fn()
}

func TestStartRefreshesOnNotification(t *testing.T) {
	store := seededStore()
	sub := &fakeSubscriber{}
	s := NewSession(store, nil)
	if err := s.Start(context.Background(), sub); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(s.Tasks()) != 3 {
		t.Fatalf("initial fetch missing")
	}

	if err := store.DeleteTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sub.fire()
	eventually(t, "refresh", func() bool { return len(s.Tasks()) == 2 })

	s.Close()
	if !sub.stopped {
		t.Fatalf("subscription not stopped")
	}
}

func TestStartFailsWhenSubscribeFails(t *testing.T) {
	s := NewSession(seededStore(), nil)
	if err := s.Start(context.Background(), &fakeSubscriber{err: domain.ErrStoreUnavailable}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
