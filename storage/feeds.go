package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"kanban-board/domain"
)

type activityEntity struct {
	entity
	Action        string `json:"Action"`
	Description   string `json:"Description"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type noteEntity struct {
	entity
	Content       string `json:"Content"`
	Status        string `json:"Status"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type noteStatusUpdate struct {
	entity
	Status        string `json:"Status"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type deliverableEntity struct {
	entity
	Type          string `json:"Type"`
	Title         string `json:"Title"`
	URL           string `json:"Url"`
	Description   string `json:"Description"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

// capNewest sorts rows newest first by created and truncates to limit (0 keeps all).
func capNewest[T any](items []T, created func(T) int64, id func(T) string, limit int) []T {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if ci != cj {
			return ci > cj
		}
		return id(items[i]) > id(items[j])
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ListActivity returns the newest activity entries, at most limit of them.
func (s *Storage) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLogEntry, error) {
	rows, err := s.activity.list(ctx, s.partitionFilter())
	if err != nil {
		return nil, classify(err)
	}
	ents, err := decodeAll[activityEntity](rows)
	if err != nil {
		return nil, classify(err)
	}
	ents = capNewest(ents, func(e activityEntity) int64 { return e.CreatedAt }, func(e activityEntity) string { return e.RowKey }, limit)
	out := make([]domain.ActivityLogEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, domain.ActivityLogEntry{ID: e.RowKey, Action: e.Action, Description: e.Description, CreatedAt: fromNanos(e.CreatedAt)})
	}
	return out, nil
}

// AppendActivity records an activity entry. Unknown actions are accepted.
func (s *Storage) AppendActivity(ctx context.Context, action, description string) (domain.ActivityLogEntry, error) {
	if strings.TrimSpace(action) == "" {
		return domain.ActivityLogEntry{}, &domain.ValidationError{Field: "action", Reason: "must not be empty"}
	}
	now := s.now().UTC()
	entry := domain.ActivityLogEntry{ID: uuid.NewString(), Action: action, Description: description, CreatedAt: now}
	payload, err := json.Marshal(activityEntity{
		entity:        entity{PartitionKey: s.board, RowKey: entry.ID},
		Action:        action,
		Description:   description,
		CreatedAt:     toNanos(now),
		CreatedAtType: EdmInt64,
	})
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	if err := s.activity.add(ctx, payload); err != nil {
		return domain.ActivityLogEntry{}, classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionActivity, Op: domain.OpInsert, ID: entry.ID})
	return entry, nil
}

// ListNotes returns the newest notes, at most limit of them.
func (s *Storage) ListNotes(ctx context.Context, limit int) ([]domain.Note, error) {
	rows, err := s.notes.list(ctx, s.partitionFilter())
	if err != nil {
		return nil, classify(err)
	}
	ents, err := decodeAll[noteEntity](rows)
	if err != nil {
		return nil, classify(err)
	}
	ents = capNewest(ents, func(e noteEntity) int64 { return e.CreatedAt }, func(e noteEntity) string { return e.RowKey }, limit)
	out := make([]domain.Note, 0, len(ents))
	for _, e := range ents {
		out = append(out, domain.Note{
			ID:        e.RowKey,
			Content:   e.Content,
			Status:    domain.NoteStatus(e.Status),
			CreatedAt: fromNanos(e.CreatedAt),
			UpdatedAt: fromNanos(e.UpdatedAt),
		})
	}
	return out, nil
}

// AddNote stores a new unread note.
func (s *Storage) AddNote(ctx context.Context, content string) (domain.Note, error) {
	if err := domain.ValidateNoteContent(content); err != nil {
		return domain.Note{}, err
	}
	now := s.now().UTC()
	note := domain.Note{ID: uuid.NewString(), Content: strings.TrimSpace(content), Status: domain.NoteUnread, CreatedAt: now, UpdatedAt: now}
	payload, err := json.Marshal(noteEntity{
		entity:        entity{PartitionKey: s.board, RowKey: note.ID},
		Content:       note.Content,
		Status:        string(note.Status),
		CreatedAt:     toNanos(now),
		CreatedAtType: EdmInt64,
		UpdatedAt:     toNanos(now),
		UpdatedAtType: EdmInt64,
	})
	if err != nil {
		return domain.Note{}, err
	}
	if err := s.notes.add(ctx, payload); err != nil {
		return domain.Note{}, classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionNotes, Op: domain.OpInsert, ID: note.ID})
	return note, nil
}

// MarkNoteRead flags a note as read.
func (s *Storage) MarkNoteRead(ctx context.Context, id string) error {
	payload, err := json.Marshal(noteStatusUpdate{
		entity:        entity{PartitionKey: s.board, RowKey: id},
		Status:        string(domain.NoteRead),
		UpdatedAt:     toNanos(s.now()),
		UpdatedAtType: EdmInt64,
	})
	if err != nil {
		return err
	}
	if err := s.notes.merge(ctx, payload); err != nil {
		return classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionNotes, Op: domain.OpUpdate, ID: id})
	return nil
}

// DeleteNote removes a note.
func (s *Storage) DeleteNote(ctx context.Context, id string) error {
	if err := s.notes.remove(ctx, s.board, id); err != nil {
		return classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionNotes, Op: domain.OpDelete, ID: id})
	return nil
}

// ListDeliverables returns all registered deliverables, newest first.
func (s *Storage) ListDeliverables(ctx context.Context) ([]domain.Deliverable, error) {
	rows, err := s.deliverables.list(ctx, s.partitionFilter())
	if err != nil {
		return nil, classify(err)
	}
	ents, err := decodeAll[deliverableEntity](rows)
	if err != nil {
		return nil, classify(err)
	}
	ents = capNewest(ents, func(e deliverableEntity) int64 { return e.CreatedAt }, func(e deliverableEntity) string { return e.RowKey }, 0)
	out := make([]domain.Deliverable, 0, len(ents))
	for _, e := range ents {
		out = append(out, domain.Deliverable{
			ID:          e.RowKey,
			Type:        e.Type,
			Title:       e.Title,
			URL:         e.URL,
			Description: e.Description,
			CreatedAt:   fromNanos(e.CreatedAt),
		})
	}
	return out, nil
}

// AddDeliverable registers a deliverable link.
func (s *Storage) AddDeliverable(ctx context.Context, d domain.Deliverable) (domain.Deliverable, error) {
	if err := domain.ValidateDeliverable(d); err != nil {
		return domain.Deliverable{}, err
	}
	if d.Type == "" {
		d.Type = "link"
	}
	d.ID = uuid.NewString()
	d.Title = strings.TrimSpace(d.Title)
	d.URL = strings.TrimSpace(d.URL)
	d.CreatedAt = s.now().UTC()
	payload, err := json.Marshal(deliverableEntity{
		entity:        entity{PartitionKey: s.board, RowKey: d.ID},
		Type:          d.Type,
		Title:         d.Title,
		URL:           d.URL,
		Description:   d.Description,
		CreatedAt:     toNanos(d.CreatedAt),
		CreatedAtType: EdmInt64,
	})
	if err != nil {
		return domain.Deliverable{}, err
	}
	if err := s.deliverables.add(ctx, payload); err != nil {
		return domain.Deliverable{}, classify(err)
	}
	s.changed(ctx, domain.Change{Collection: domain.CollectionDeliverables, Op: domain.OpInsert, ID: d.ID})
	return d, nil
}
