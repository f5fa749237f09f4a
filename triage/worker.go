package triage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
	"kanban-board/storage"
)

// Queue delivers triage requests.
type Queue interface {
	NextTriageRequest(ctx context.Context) (*storage.TriageDelivery, error)
	CompleteTriageRequest(ctx context.Context, d *storage.TriageDelivery) error
}

// Worker runs one triage pass per queued request.
type Worker struct {
	queue     Queue
	processor *Processor
	logger    *log.Logger
	idle      time.Duration
	onRun     func(domain.TriageRequest, []Result)
}

// NewWorker creates a Worker polling queue every idle interval when empty.
func NewWorker(queue Queue, processor *Processor, logger *log.Logger, idle time.Duration) *Worker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if idle <= 0 {
		idle = time.Second
	}
	return &Worker{queue: queue, processor: processor, logger: logger, idle: idle}
}

// OnRun registers a callback invoked after each completed pass.
func (w *Worker) OnRun(fn func(domain.TriageRequest, []Result)) {
	w.onRun = fn
}

// Run consumes requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handled, err := w.Step(ctx)
		if err != nil {
			w.logger.WithError(err).Error("triage worker")
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.idle):
		}
	}
}

// Step handles at most one request. It reports whether a request was found.
// A request whose pass could not load the task list stays on the queue and
// becomes visible again after its visibility timeout.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.queue.NextTriageRequest(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	logger := w.logger.WithFields(log.Fields{"request": d.Request.ID, "dry_run": d.Request.DryRun})
	results, err := w.processor.Run(ctx, d.Request.DryRun)
	if err != nil {
		return true, err
	}
	if err := w.queue.CompleteTriageRequest(ctx, d); err != nil {
		logger.WithError(err).Warn("unable to complete triage request")
	}
	logger.WithFields(log.Fields{"processed": len(results), "failed": Failed(results)}).Info("triage request handled")
	if w.onRun != nil {
		w.onRun(d.Request, results)
	}
	return true, nil
}
