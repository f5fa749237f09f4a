package domain

import (
	"strings"
	"time"
)

// Stage is the board column a task currently occupies.
type Stage string

const (
	StageTodo   Stage = "todo"
	StageKarim  Stage = "karim"
	StageKlausi Stage = "klausi"
	StageDone   Stage = "done"
)

// Stages lists the board columns in display order.
var Stages = []Stage{StageTodo, StageKarim, StageKlausi, StageDone}

// Valid reports whether s is one of the four board stages.
func (s Stage) Valid() bool {
	switch s {
	case StageTodo, StageKarim, StageKlausi, StageDone:
		return true
	}
	return false
}

// ParseStage converts a wire identifier into a Stage.
func ParseStage(v string) (Stage, bool) {
	s := Stage(v)
	return s, s.Valid()
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// DateLayout is the wire format of task deadlines.
const DateLayout = "2006-01-02"

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Deadline    string    `json:"deadline,omitempty"`
	Stage       Stage     `json:"stage"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Deadline    string   `json:"deadline,omitempty"`
	Stage       Stage    `json:"stage,omitempty"`
}

// TaskPatch carries a partial update. Nil fields are left untouched; an empty
// Deadline clears it.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Deadline    *string   `json:"deadline,omitempty"`
	Stage       *Stage    `json:"stage,omitempty"`
}

// StagePatch builds the patch issued by drag-and-drop.
func StagePatch(s Stage) TaskPatch {
	return TaskPatch{Stage: &s}
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Deadline == nil && p.Stage == nil
}

// Normalize fills defaults and trims the title.
func (in TaskInput) Normalize() TaskInput {
	in.Title = strings.TrimSpace(in.Title)
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if in.Stage == "" {
		in.Stage = StageTodo
	}
	return in
}

// ValidateTaskInput checks a creation request after normalization.
func ValidateTaskInput(in TaskInput) error {
	in = in.Normalize()
	if in.Title == "" {
		return invalid("title", "must not be empty")
	}
	if !in.Priority.Valid() {
		return invalid("priority", "unknown priority "+string(in.Priority))
	}
	if !in.Stage.Valid() {
		return invalid("stage", "unknown stage "+string(in.Stage))
	}
	return validateDeadline(in.Deadline)
}

// ValidatePatch checks a partial update.
func ValidatePatch(p TaskPatch) error {
	if p.Empty() {
		return invalid("patch", "no fields to update")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("priority", "unknown priority "+string(*p.Priority))
	}
	if p.Stage != nil && !p.Stage.Valid() {
		return invalid("stage", "unknown stage "+string(*p.Stage))
	}
	if p.Deadline != nil {
		return validateDeadline(*p.Deadline)
	}
	return nil
}

func validateDeadline(v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, v); err != nil {
		return invalid("deadline", "expected YYYY-MM-DD")
	}
	return nil
}

// Apply returns a copy of t with the patch merged in and UpdatedAt set to now.
func (t Task) Apply(p TaskPatch, now time.Time) Task {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Deadline != nil {
		t.Deadline = *p.Deadline
	}
	if p.Stage != nil {
		t.Stage = *p.Stage
	}
	t.UpdatedAt = now
	return t
}
