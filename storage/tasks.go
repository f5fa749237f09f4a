package storage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"kanban-board/domain"
)

type taskEntity struct {
	entity
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Priority      string `json:"Priority"`
	Deadline      string `json:"Deadline"`
	Stage         string `json:"Stage"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// taskUpdate carries a partial merge; nil fields are not sent.
type taskUpdate struct {
	entity
	Title         *string `json:"Title,omitempty"`
	Description   *string `json:"Description,omitempty"`
	Priority      *string `json:"Priority,omitempty"`
	Deadline      *string `json:"Deadline,omitempty"`
	Stage         *string `json:"Stage,omitempty"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Priority:    domain.Priority(e.Priority),
		Deadline:    e.Deadline,
		Stage:       domain.Stage(e.Stage),
		CreatedAt:   fromNanos(e.CreatedAt),
		UpdatedAt:   fromNanos(e.UpdatedAt),
	}
}

// ListTasks returns every task of the board ordered by creation, oldest first.
func (s *Storage) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.tasks.list(ctx, s.partitionFilter())
	if err != nil {
		return nil, classify(err)
	}
	ents, err := decodeAll[taskEntity](rows)
	if err != nil {
		return nil, classify(err)
	}
	tasks := make([]domain.Task, 0, len(ents))
	for _, e := range ents {
		tasks = append(tasks, e.toDomain())
	}
	sortByCreation(tasks)
	return tasks, nil
}

func sortByCreation(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// GetTask loads a single task.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row, err := s.tasks.get(ctx, s.board, id)
	if err != nil {
		return domain.Task{}, classify(err)
	}
	var ent taskEntity
	if err := json.Unmarshal(row, &ent); err != nil {
		return domain.Task{}, classify(err)
	}
	return ent.toDomain(), nil
}

// CreateTask validates in and inserts a new task with a fresh id.
func (s *Storage) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if err := domain.ValidateTaskInput(in); err != nil {
		return domain.Task{}, err
	}
	in = in.Normalize()
	now := s.now().UTC()
	task := domain.Task{
		ID:          "task-" + uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Deadline:    in.Deadline,
		Stage:       in.Stage,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ent := taskEntity{
		entity:        entity{PartitionKey: s.board, RowKey: task.ID},
		Title:         task.Title,
		Description:   task.Description,
		Priority:      string(task.Priority),
		Deadline:      task.Deadline,
		Stage:         string(task.Stage),
		CreatedAt:     toNanos(now),
		CreatedAtType: EdmInt64,
		UpdatedAt:     toNanos(now),
		UpdatedAtType: EdmInt64,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.tasks.add(ctx, payload); err != nil {
		return domain.Task{}, classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionTasks, Op: domain.OpInsert, ID: task.ID})
	return task, nil
}

// UpdateTask merges patch into the stored task. Concurrent updates of the same
// field are resolved by whichever write lands last.
func (s *Storage) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	if err := domain.ValidatePatch(patch); err != nil {
		return err
	}
	upd := taskUpdate{
		entity:        entity{PartitionKey: s.board, RowKey: id},
		Title:         patch.Title,
		Description:   patch.Description,
		Deadline:      patch.Deadline,
		UpdatedAt:     toNanos(s.now()),
		UpdatedAtType: EdmInt64,
	}
	if upd.Title != nil {
		t := domain.TaskInput{Title: *upd.Title}.Normalize().Title
		upd.Title = &t
	}
	if patch.Priority != nil {
		p := string(*patch.Priority)
		upd.Priority = &p
	}
	if patch.Stage != nil {
		st := string(*patch.Stage)
		upd.Stage = &st
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	if err := s.tasks.merge(ctx, payload); err != nil {
		return classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionTasks, Op: domain.OpUpdate, ID: id})
	return nil
}

// DeleteTask removes a task permanently.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	if err := s.tasks.remove(ctx, s.board, id); err != nil {
		return classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionTasks, Op: domain.OpDelete, ID: id})
	return nil
}

// SeedTasks upserts tasks with fixed ids, keeping their timestamps.
func (s *Storage) SeedTasks(ctx context.Context, tasks []domain.Task) error {
	for _, t := range tasks {
		if t.Priority == "" {
			t.Priority = domain.PriorityNormal
		}
		if !t.Stage.Valid() {
			return &domain.ValidationError{Field: "stage", Reason: "unknown stage " + string(t.Stage) + " for " + t.ID}
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		ent := taskEntity{
			entity:        entity{PartitionKey: s.board, RowKey: t.ID},
			Title:         t.Title,
			Description:   t.Description,
			Priority:      string(t.Priority),
			Deadline:      t.Deadline,
			Stage:         string(t.Stage),
			CreatedAt:     toNanos(t.CreatedAt),
			CreatedAtType: EdmInt64,
			UpdatedAt:     toNanos(t.UpdatedAt),
			UpdatedAtType: EdmInt64,
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		if err := s.tasks.upsert(ctx, payload); err != nil {
			return classify(err)
		}
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionTasks, Op: domain.OpUpdate})
	return nil
}
