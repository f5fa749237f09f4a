// Package board holds the client-side view of a board: the last fetched task
// list, optimistic edits layered on top of it and the drag-and-drop state
// machine.
package board

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

// Store is the task store the session reads and mutates.
type Store interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error
}

// Subscriber delivers change notifications for a collection.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, onChange func()) (func(), error)
}

type State int

const (
	Idle State = iota
	DraggingLocal
	Syncing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DraggingLocal:
		return "dragging"
	case Syncing:
		return "syncing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrBusy is returned by BeginDrag when the session is not idle.
var ErrBusy = errors.New("board: session busy")

const inFlight = math.MaxUint64

// edit is an optimistic change not yet confirmed by a fetch. It is overlaid on
// every fetched list whose sequence number is at or below barrier. While the
// store call is in flight barrier is inFlight; once it succeeds barrier becomes
// the last fetch issued before completion, so any later fetch already
// contains the write.
type edit struct {
	patch   domain.TaskPatch
	deleted bool
	created *domain.Task
	barrier uint64
}

// apply overlays e on t. The overlay keeps the server's UpdatedAt.
func (e *edit) apply(t domain.Task) (domain.Task, bool) {
	if e.deleted {
		return t, false
	}
	if e.created != nil {
		return t, true
	}
	return t.Apply(e.patch, t.UpdatedAt), true
}

// Session is one user's board. It is safe for concurrent use: notifications
// arrive on the subscriber goroutine while user actions run on the caller's.
type Session struct {
	store  Store
	logger *log.Logger

	mu         sync.Mutex
	server     []domain.Task
	edits      map[string][]*edit
	view       []domain.Task
	dragging   bool
	active     string
	syncing    int
	fetchSeq   uint64
	appliedSeq uint64
	onChange   []func([]domain.Task)
	onError    []func(error)

	wg          sync.WaitGroup
	unsubscribe func()
}

// NewSession creates an empty session over store.
func NewSession(store Store, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		store:  store,
		logger: logger,
		edits:  map[string][]*edit{},
	}
}

// OnChange registers an observer called with the new view after every change.
func (s *Session) OnChange(fn func([]domain.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// OnError registers an observer for failed fetches and rolled back edits.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, fn)
}

// Start subscribes to task changes and performs the initial fetch. Each
// notification triggers a refresh on its own goroutine.
func (s *Session) Start(ctx context.Context, sub Subscriber) error {
	unsubscribe, err := sub.Subscribe(ctx, domain.CollectionTasks, func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.Refresh(ctx)
		}()
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Close stops the subscription and waits for pending refreshes.
func (s *Session) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
}

// Refresh fetches the full task list and merges it into the view. A response
// that arrives after a newer one has been applied is discarded.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("seq", seq).Warn("board refresh failed")
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	if applied := s.appliedSeq; seq <= applied {
		s.mu.Unlock()
		s.logger.WithFields(log.Fields{"seq": seq, "applied": applied}).Debug("discarding stale task list")
		return nil
	}
	s.appliedSeq = seq
	s.server = append([]domain.Task(nil), tasks...)
	for id, list := range s.edits {
		kept := list[:0]
		for _, e := range list {
			if seq <= e.barrier {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.edits, id)
		} else {
			s.edits[id] = kept
		}
	}
	view := s.rebuild()
	s.mu.Unlock()

	s.emitChange(view)
	return nil
}

// BeginDrag picks up a task.
func (s *Session) BeginDrag(taskID string) error {
	s.mu.Lock()
	if s.state() != Idle {
		s.mu.Unlock()
		return ErrBusy
	}
	if _, ok := s.find(taskID); !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	s.dragging = true
	s.active = taskID
	s.mu.Unlock()
	return nil
}

// CancelDrag drops the held task without moving it.
func (s *Session) CancelDrag() {
	s.mu.Lock()
	s.dragging = false
	s.active = ""
	s.mu.Unlock()
}

// Drop releases the held task over overID, which is either a stage or the id
// of another task; dropping on a card targets that card's stage. Unknown
// targets and drops into the task's own stage change nothing. A failed store
// update rolls the task back to its last fetched stage; the error is returned
// and reported to OnError observers.
func (s *Session) Drop(ctx context.Context, overID string) error {
	s.mu.Lock()
	if !s.dragging {
		s.mu.Unlock()
		return nil
	}
	id := s.active
	s.dragging = false
	s.active = ""

	task, ok := s.find(id)
	target, valid := s.resolveTarget(overID)
	if !ok || !valid || task.Stage == target {
		s.logger.WithFields(log.Fields{"task": id, "over": overID, "valid": valid}).Debug("drop ignored")
		s.mu.Unlock()
		return nil
	}
	// The edit is staged under the same lock that ends the drag, so the
	// session goes straight from dragging to syncing.
	e := &edit{patch: domain.StagePatch(target)}
	view := s.stage(id, e)
	s.mu.Unlock()

	return s.commit(id, e, view, func() error {
		return s.store.UpdateTask(ctx, id, domain.StagePatch(target))
	})
}

// EditTask applies patch optimistically and writes it to the store.
func (s *Session) EditTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	if err := domain.ValidatePatch(patch); err != nil {
		return err
	}
	return s.mutate(id, &edit{patch: patch}, func() error {
		return s.store.UpdateTask(ctx, id, patch)
	})
}

// DeleteTask hides the task immediately and deletes it from the store.
func (s *Session) DeleteTask(ctx context.Context, id string) error {
	return s.mutate(id, &edit{deleted: true}, func() error {
		return s.store.DeleteTask(ctx, id)
	})
}

// CreateTask writes a new task and adds it to the view once the store has
// assigned its id.
func (s *Session) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if err := domain.ValidateTaskInput(in); err != nil {
		return domain.Task{}, err
	}
	task, err := s.store.CreateTask(ctx, in)
	if err != nil {
		s.emitError(err)
		return domain.Task{}, err
	}
	s.mu.Lock()
	created := task
	s.edits[task.ID] = append(s.edits[task.ID], &edit{created: &created, barrier: s.fetchSeq})
	view := s.rebuild()
	s.mu.Unlock()
	s.emitChange(view)
	return task, nil
}

func (s *Session) mutate(id string, e *edit, call func() error) error {
	s.mu.Lock()
	view := s.stage(id, e)
	s.mu.Unlock()
	return s.commit(id, e, view, call)
}

// stage overlays e as an in-flight edit and enters Syncing. Callers hold mu.
func (s *Session) stage(id string, e *edit) []domain.Task {
	e.barrier = inFlight
	s.edits[id] = append(s.edits[id], e)
	s.syncing++
	return s.rebuild()
}

// commit runs the store call for a staged edit and settles it.
func (s *Session) commit(id string, e *edit, view []domain.Task, call func() error) error {
	s.emitChange(view)

	err := call()

	s.mu.Lock()
	s.syncing--
	if err != nil {
		s.removeEdit(id, e)
	} else {
		e.barrier = s.fetchSeq
	}
	view = s.rebuild()
	s.mu.Unlock()

	s.emitChange(view)
	if err != nil {
		s.logger.WithError(err).WithField("task", id).Warn("optimistic edit rolled back")
		s.emitError(err)
	}
	return err
}

func (s *Session) removeEdit(id string, e *edit) {
	list := s.edits[id]
	for i, cur := range list {
		if cur == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.edits, id)
	} else {
		s.edits[id] = list
	}
}

// rebuild recomputes the view from the server snapshot and pending edits.
// Callers hold mu.
func (s *Session) rebuild() []domain.Task {
	view := make([]domain.Task, 0, len(s.server)+len(s.edits))
	seen := make(map[string]bool, len(s.server))
	for _, t := range s.server {
		seen[t.ID] = true
		keep := true
		for _, e := range s.edits[t.ID] {
			if t, keep = e.apply(t); !keep {
				break
			}
		}
		if keep {
			view = append(view, t)
		}
	}
	for id, list := range s.edits {
		if seen[id] {
			continue
		}
		var base *domain.Task
		for _, e := range list {
			if e.created != nil {
				base = e.created
			}
		}
		if base == nil {
			continue
		}
		t := *base
		keep := true
		for _, e := range list {
			if t, keep = e.apply(t); !keep {
				break
			}
		}
		if keep {
			view = append(view, t)
		}
	}
	sort.SliceStable(view, func(i, j int) bool {
		if !view[i].CreatedAt.Equal(view[j].CreatedAt) {
			return view[i].CreatedAt.Before(view[j].CreatedAt)
		}
		return view[i].ID < view[j].ID
	})
	s.view = view
	return append([]domain.Task(nil), view...)
}

func (s *Session) find(id string) (domain.Task, bool) {
	for _, t := range s.view {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func (s *Session) resolveTarget(overID string) (domain.Stage, bool) {
	if stage, ok := domain.ParseStage(overID); ok {
		return stage, true
	}
	if t, ok := s.find(overID); ok {
		return t.Stage, true
	}
	return "", false
}

func (s *Session) state() State {
	switch {
	case s.dragging:
		return DraggingLocal
	case s.syncing > 0:
		return Syncing
	}
	return Idle
}

// State reports the drag-and-drop state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// Active returns the task currently being dragged.
func (s *Session) Active() (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dragging {
		return domain.Task{}, false
	}
	return s.find(s.active)
}

// Tasks returns the current view ordered by creation.
func (s *Session) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.view...)
}

// Column returns the tasks of one stage.
func (s *Session) Column(stage domain.Stage) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.view {
		if t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

// Task looks up a task in the current view.
func (s *Session) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

func (s *Session) emitChange(view []domain.Task) {
	s.mu.Lock()
	fns := append(([]func([]domain.Task))(nil), s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(view)
	}
}

func (s *Session) emitError(err error) {
	s.mu.Lock()
	fns := append(([]func(error))(nil), s.onError...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
