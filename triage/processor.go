// Package triage moves tasks waiting in the klausi column to karim after
// classifying them and prepending an audit note to their description.
package triage

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanban-board/classifier"
	"kanban-board/domain"
)

const (
	tracerName  = "kanban-board/triage"
	runSpanName = "triage.run"
	taskSpan    = "triage.task"

	noteSeparator = "\n\n---\n"
)

// Store is the part of the task store the processor mutates.
type Store interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
}

// ActivityRecorder appends to the activity log.
type ActivityRecorder interface {
	AppendActivity(ctx context.Context, action, description string) (domain.ActivityLogEntry, error)
}

type Outcome string

const (
	OutcomeMoved  Outcome = "moved"
	OutcomeFailed Outcome = "failed"
)

// Result describes what happened to one task during a run. Applied is false
// for dry runs and failures.
type Result struct {
	TaskID   string  `json:"taskId"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Action   string  `json:"action"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
	Applied  bool    `json:"applied"`
}

// Processor runs triage passes against a Store.
type Processor struct {
	store      Store
	activity   ActivityRecorder
	classifier *classifier.Classifier
	logger     *log.Logger
	tracer     trace.Tracer
}

type Option func(*Processor)

// WithActivity records a task_moved entry after every applied move.
func WithActivity(a ActivityRecorder) Option {
	return func(p *Processor) { p.activity = a }
}

func WithClassifier(c *classifier.Classifier) Option {
	return func(p *Processor) { p.classifier = c }
}

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a Processor using the default classification rules.
func NewProcessor(store Store, opts ...Option) *Processor {
	p := &Processor{
		store:      store,
		classifier: classifier.Default(),
		logger:     log.StandardLogger(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuditNote renders the note prepended to a triaged task's description.
func AuditNote(v classifier.Verdict) string {
	return fmt.Sprintf("🦦 Klausi hat Task analysiert:\n- Typ: %s\n- Nächster Schritt: %s\n- Status: Warte auf Details/Approval", v.Category, v.Action)
}

// Annotate prepends note to description.
func Annotate(note, description string) string {
	if description == "" {
		return note
	}
	return note + noteSeparator + description
}

// Run processes every task currently in klausi, oldest first. The returned
// error is non-nil only when the task list cannot be loaded; per-task failures
// are reported in the results.
func (p *Processor) Run(ctx context.Context, dryRun bool) ([]Result, error) {
	ctx, span := p.tracer.Start(ctx, runSpanName, trace.WithAttributes(attribute.Bool("triage.dry_run", dryRun)))
	defer span.End()

	tasks, err := p.store.ListTasks(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	pending := Pending(tasks)
	span.SetAttributes(attribute.Int("triage.pending", len(pending)))
	results := make([]Result, 0, len(pending))
	for _, task := range pending {
		results = append(results, p.process(ctx, task, dryRun))
	}

	failed := Failed(results)
	span.SetAttributes(attribute.Int("triage.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d tasks failed", failed, len(results)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	p.logger.WithFields(log.Fields{"pending": len(pending), "failed": failed, "dry_run": dryRun}).Info("triage.run")
	return results, nil
}

func (p *Processor) process(ctx context.Context, task domain.Task, dryRun bool) Result {
	ctx, span := p.tracer.Start(ctx, taskSpan, trace.WithAttributes(attribute.String("task.id", task.ID)))
	defer span.End()

	verdict := p.classifier.Classify(task.Title, task.Description)
	res := Result{
		TaskID:   task.ID,
		Title:    task.Title,
		Category: verdict.Category,
		Action:   verdict.Action,
		Outcome:  OutcomeMoved,
	}
	span.SetAttributes(attribute.String("triage.category", verdict.Category))
	logger := p.logger.WithFields(log.Fields{"task": task.ID, "category": verdict.Category})

	if dryRun {
		logger.Debug("dry run, not moving task")
		return res
	}

	desc := Annotate(AuditNote(verdict), task.Description)
	stage := domain.StageKarim
	start := time.Now()
	if err := p.store.UpdateTask(ctx, task.ID, domain.TaskPatch{Stage: &stage, Description: &desc}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Warn("unable to move task")
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return res
	}
	res.Applied = true
	logger.WithField("update_ms", float64(time.Since(start))/float64(time.Millisecond)).Info("task moved to karim")

	if p.activity != nil {
		msg := fmt.Sprintf("%s: %s → %s (%s)", task.Title, domain.StageKlausi, domain.StageKarim, verdict.Category)
		if _, err := p.activity.AppendActivity(ctx, domain.ActionTaskMoved, msg); err != nil {
			logger.WithError(err).Warn("unable to record activity")
		}
	}
	return res
}

// Pending returns the tasks in klausi ordered by creation, ties broken by id.
func Pending(tasks []domain.Task) []domain.Task {
	var out []domain.Task
	for _, t := range tasks {
		if t.Stage == domain.StageKlausi {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Failed counts failed results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}
