package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

const (
	maxBodySize          = 64 << 10
	idempotencyKeyHeader = "Idempotency-Key"
	noteSnippetLength    = 80
)

// Options carries the dependencies of the HTTP surface. Broker, Deduper and
// Recorder are optional.
type Options struct {
	Store    Store
	Broker   *Broker
	Deduper  Deduper
	Recorder *Recorder
	Logger   *log.Logger
	// Scope namespaces idempotency keys, normally the board id.
	Scope string
}

type handlers struct {
	store    Store
	broker   *Broker
	deduper  Deduper
	recorder *Recorder
	log      *log.Logger
	scope    string
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, opts Options) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	h := &handlers{
		store:    opts.Store,
		broker:   opts.Broker,
		deduper:  opts.Deduper,
		recorder: opts.Recorder,
		log:      opts.Logger,
		scope:    opts.Scope,
	}

	e.GET("/api/tasks", h.getTasks)
	e.POST("/api/tasks", h.postTask)
	e.PUT("/api/tasks/:id", h.putTask)
	e.DELETE("/api/tasks/:id", h.deleteTask)

	e.GET("/api/activity", h.getActivity)

	e.GET("/api/notes", h.getNotes)
	e.POST("/api/notes", h.postNote)
	e.PUT("/api/notes/:id/read", h.markNoteRead)
	e.DELETE("/api/notes/:id", h.deleteNote)

	e.GET("/api/deliverables", h.getDeliverables)
	e.POST("/api/deliverables", h.postDeliverable)

	e.POST("/api/triage", h.postTriage)
	e.GET("/healthz", healthz)

	if h.broker != nil {
		e.GET("/stream", h.broker.streamChanges)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c echo.Context, err error) error {
	resp := errorResponse{Error: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Error = ve.Reason
		resp.Field = ve.Field
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, resp)
}

// decode reads a bounded JSON body and rejects unknown fields.
func decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "invalid body"}
	}
	return nil
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handlers) record(action, description string) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(action, description)
}

// instrument starts request metrics and swaps the span context into the request.
func (h *handlers) instrument(c echo.Context) (*requestMetrics, context.Context) {
	route := c.Path()
	if route == "" {
		route = c.Request().URL.Path
	}
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

func (h *handlers) getTasks(c echo.Context) (err error) {
	metrics, ctx := h.instrument(c)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	fetchStart := time.Now()
	tasks, fetchErr := h.store.ListTasks(ctx)
	metrics.ObserveFetch(time.Since(fetchStart))
	if fetchErr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, fetchErr)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	metrics.SetItemsReturned(len(tasks))
	return c.JSON(http.StatusOK, tasks)
}

func (h *handlers) postTask(c echo.Context) (err error) {
	metrics, ctx := h.instrument(c)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	var in domain.TaskInput
	if derr := decode(c, &in); derr != nil {
		metrics.SetErrorStage("decode")
		return writeError(c, derr)
	}
	if verr := domain.ValidateTaskInput(in); verr != nil {
		metrics.SetErrorStage("validate")
		return writeError(c, verr)
	}

	key := strings.TrimSpace(c.Request().Header.Get(idempotencyKeyHeader))
	if key != "" && h.deduper != nil {
		added, derr := h.deduper.Add(ctx, h.scope, key)
		if derr != nil {
			// Deduplication is best effort.
			h.log.WithError(derr).Warn("idempotency check failed")
			key = ""
		} else if !added {
			metrics.SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	task, cerr := h.store.CreateTask(ctx, in)
	if cerr != nil {
		if key != "" && h.deduper != nil {
			if rerr := h.deduper.Remove(context.Background(), h.scope, key); rerr != nil {
				h.log.WithError(rerr).WithField("key", key).Error("dedupe rollback failed")
			}
		}
		metrics.SetErrorStage("storage")
		return writeError(c, cerr)
	}
	metrics.SetItemsReturned(1)
	h.record(domain.ActionTaskCreated, task.Title)
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) putTask(c echo.Context) (err error) {
	metrics, ctx := h.instrument(c)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()
	id := c.Param("id")

	var patch domain.TaskPatch
	if derr := decode(c, &patch); derr != nil {
		metrics.SetErrorStage("decode")
		return writeError(c, derr)
	}
	if verr := domain.ValidatePatch(patch); verr != nil {
		metrics.SetErrorStage("validate")
		return writeError(c, verr)
	}

	before, gerr := h.store.GetTask(ctx, id)
	if gerr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, gerr)
	}
	if uerr := h.store.UpdateTask(ctx, id, patch); uerr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, uerr)
	}
	after, gerr := h.store.GetTask(ctx, id)
	if gerr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, gerr)
	}

	h.recordUpdate(before, after)
	metrics.SetItemsReturned(1)
	return c.JSON(http.StatusOK, after)
}

func (h *handlers) recordUpdate(before, after domain.Task) {
	switch {
	case before.Stage == after.Stage:
		h.record(domain.ActionTaskUpdated, after.Title)
	case after.Stage == domain.StageDone:
		h.record(domain.ActionTaskCompleted, after.Title)
	default:
		h.record(domain.ActionTaskMoved, after.Title+": "+string(before.Stage)+" → "+string(after.Stage))
	}
}

func (h *handlers) deleteTask(c echo.Context) (err error) {
	metrics, ctx := h.instrument(c)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()
	id := c.Param("id")

	// The title is only needed for the activity entry.
	title := id
	if task, gerr := h.store.GetTask(ctx, id); gerr == nil {
		title = task.Title
	}
	if derr := h.store.DeleteTask(ctx, id); derr != nil {
		metrics.SetErrorStage("storage")
		return writeError(c, derr)
	}
	h.record(domain.ActionTaskDeleted, title)
	return c.NoContent(http.StatusNoContent)
}

// limitParam parses an optional positive limit, capped at max.
func limitParam(c echo.Context, max int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam("limit"))
	if raw == "" {
		return max, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &domain.ValidationError{Field: "limit", Reason: "must be a positive integer"}
	}
	if n > max {
		n = max
	}
	return n, nil
}

func (h *handlers) getActivity(c echo.Context) error {
	limit, err := limitParam(c, domain.ActivityDisplayLimit)
	if err != nil {
		return writeError(c, err)
	}
	entries, err := h.store.ListActivity(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []domain.ActivityLogEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *handlers) getNotes(c echo.Context) error {
	limit, err := limitParam(c, domain.NotesDisplayLimit)
	if err != nil {
		return writeError(c, err)
	}
	notes, err := h.store.ListNotes(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	if notes == nil {
		notes = []domain.Note{}
	}
	return c.JSON(http.StatusOK, notes)
}

type noteRequest struct {
	Content string `json:"content"`
}

func (h *handlers) postNote(c echo.Context) error {
	var req noteRequest
	if err := decode(c, &req); err != nil {
		return writeError(c, err)
	}
	note, err := h.store.AddNote(c.Request().Context(), req.Content)
	if err != nil {
		return writeError(c, err)
	}
	h.record(domain.ActionNoteAdded, snippet(note.Content, noteSnippetLength))
	return c.JSON(http.StatusCreated, note)
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func (h *handlers) markNoteRead(c echo.Context) error {
	if err := h.store.MarkNoteRead(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteNote(c echo.Context) error {
	if err := h.store.DeleteNote(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) getDeliverables(c echo.Context) error {
	out, err := h.store.ListDeliverables(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if out == nil {
		out = []domain.Deliverable{}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) postDeliverable(c echo.Context) error {
	var d domain.Deliverable
	if err := decode(c, &d); err != nil {
		return writeError(c, err)
	}
	out, err := h.store.AddDeliverable(c.Request().Context(), d)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *handlers) postTriage(c echo.Context) error {
	dryRun := false
	if raw := c.QueryParam("dryRun"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return writeError(c, &domain.ValidationError{Field: "dryRun", Reason: "must be a boolean"})
		}
		dryRun = v
	}
	req, err := h.store.EnqueueTriage(c.Request().Context(), dryRun)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, req)
}
