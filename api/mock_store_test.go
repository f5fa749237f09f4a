package api

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"kanban-board/domain"
)

type mockStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	activity []domain.ActivityLogEntry
	notes    []domain.Note
	triage   []bool
	seq      int
	err      error
	// block, when set, holds AppendActivity until closed.
	block    chan struct{}
	appended chan string
	limits   []int
}

func newMockStore(tasks ...domain.Task) *mockStore {
	m := &mockStore{tasks: make(map[string]domain.Task), appended: make(chan string, 16)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	in = in.Normalize()
	m.seq++
	now := time.Now().UTC()
	t := domain.Task{
		ID:          "task-" + strconv.Itoa(m.seq),
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Deadline:    in.Deadline,
		Stage:       in.Stage,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *mockStore) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.tasks[id] = t.Apply(patch, time.Now())
	return nil
}

func (m *mockStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockStore) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	out := append([]domain.ActivityLogEntry(nil), m.activity...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) AppendActivity(ctx context.Context, action, description string) (domain.ActivityLogEntry, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	e := domain.ActivityLogEntry{ID: "a-" + strconv.Itoa(len(m.activity)+1), Action: action, Description: description, CreatedAt: time.Now()}
	m.activity = append(m.activity, e)
	m.mu.Unlock()
	m.appended <- action + "|" + description
	return e, nil
}

func (m *mockStore) ListNotes(ctx context.Context, limit int) ([]domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	return append([]domain.Note(nil), m.notes...), m.err
}

func (m *mockStore) AddNote(ctx context.Context, content string) (domain.Note, error) {
	if err := domain.ValidateNoteContent(content); err != nil {
		return domain.Note{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := domain.Note{ID: "n-" + strconv.Itoa(len(m.notes)+1), Content: content, Status: domain.NoteUnread, CreatedAt: time.Now()}
	m.notes = append(m.notes, n)
	return n, nil
}

func (m *mockStore) MarkNoteRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notes {
		if m.notes[i].ID == id {
			m.notes[i].Status = domain.NoteRead
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteNote(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notes {
		if m.notes[i].ID == id {
			m.notes = append(m.notes[:i], m.notes[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) ListDeliverables(ctx context.Context) ([]domain.Deliverable, error) {
	return nil, m.err
}

func (m *mockStore) AddDeliverable(ctx context.Context, d domain.Deliverable) (domain.Deliverable, error) {
	if err := domain.ValidateDeliverable(d); err != nil {
		return domain.Deliverable{}, err
	}
	if d.Type == "" {
		d.Type = "link"
	}
	d.ID = "d-1"
	return d, nil
}

func (m *mockStore) EnqueueTriage(ctx context.Context, dryRun bool) (domain.TriageRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.TriageRequest{}, m.err
	}
	m.triage = append(m.triage, dryRun)
	return domain.TriageRequest{ID: "req-1", DryRun: dryRun, RequestedAt: time.Now()}, nil
}
