// Package client is an HTTP client of the board API. It satisfies the same
// store contracts as storage.Storage, so board sessions and feeds can run
// against a remote server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

// Client wraps http.Client with helpers for JSON requests.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Stream is used for the long-lived change stream and has no timeout.
	Stream    *http.Client
	Logger    *log.Logger
	Reconnect time.Duration
}

// New creates a new Client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Stream:    &http.Client{},
		Logger:    log.StandardLogger(),
		Reconnect: time.Second,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := sonic.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %w", domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// statusError maps an API error response onto the domain error taxonomy.
func statusError(status int, data []byte) error {
	var eb errorBody
	_ = sonic.Unmarshal(data, &eb)
	switch status {
	case http.StatusBadRequest:
		field := eb.Field
		if field == "" {
			field = "request"
		}
		return &domain.ValidationError{Field: field, Reason: eb.Error}
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	if eb.Error == "" {
		eb.Error = http.StatusText(status)
	}
	return fmt.Errorf("%w: %d %s", domain.ErrStoreUnavailable, status, eb.Error)
}

// ListTasks returns every task ordered by creation.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask validates in locally before sending it.
func (c *Client) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if err := domain.ValidateTaskInput(in); err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in.Normalize(), &task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	if err := domain.ValidatePatch(patch); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), patch, nil)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLogEntry, error) {
	path := "/api/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []domain.ActivityLogEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) ListNotes(ctx context.Context, limit int) ([]domain.Note, error) {
	path := "/api/notes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var notes []domain.Note
	if err := c.do(ctx, http.MethodGet, path, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Client) AddNote(ctx context.Context, content string) (domain.Note, error) {
	if err := domain.ValidateNoteContent(content); err != nil {
		return domain.Note{}, err
	}
	var note domain.Note
	if err := c.do(ctx, http.MethodPost, "/api/notes", map[string]string{"content": content}, &note); err != nil {
		return domain.Note{}, err
	}
	return note, nil
}

func (c *Client) MarkNoteRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/api/notes/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListDeliverables(ctx context.Context) ([]domain.Deliverable, error) {
	var out []domain.Deliverable
	if err := c.do(ctx, http.MethodGet, "/api/deliverables", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddDeliverable(ctx context.Context, d domain.Deliverable) (domain.Deliverable, error) {
	if err := domain.ValidateDeliverable(d); err != nil {
		return domain.Deliverable{}, err
	}
	var out domain.Deliverable
	if err := c.do(ctx, http.MethodPost, "/api/deliverables", d, &out); err != nil {
		return domain.Deliverable{}, err
	}
	return out, nil
}

// TriggerTriage asks the server to queue a triage pass.
func (c *Client) TriggerTriage(ctx context.Context, dryRun bool) (domain.TriageRequest, error) {
	var req domain.TriageRequest
	path := "/api/triage?dryRun=" + strconv.FormatBool(dryRun)
	if err := c.do(ctx, http.MethodPost, path, nil, &req); err != nil {
		return domain.TriageRequest{}, err
	}
	return req, nil
}
