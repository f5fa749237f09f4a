package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

const (
	EdmInt64 = "Edm.Int64"
)

// Options names the Azure resources backing one board.
type Options struct {
	ConnectionString  string
	BoardID           string
	TasksTable        string
	ActivityTable     string
	NotesTable        string
	DeliverablesTable string
	TriageQueue       string
}

// table is the subset of an Azure table client used by Storage.
type table interface {
	add(ctx context.Context, payload []byte) error
	merge(ctx context.Context, payload []byte) error
	upsert(ctx context.Context, payload []byte) error
	remove(ctx context.Context, pk, rk string) error
	get(ctx context.Context, pk, rk string) ([]byte, error)
	list(ctx context.Context, filter string) ([][]byte, error)
}

// Storage provides access to the board collections. Every write is
// last-write-wins: updates merge with If-Match: * and carry no version token.
type Storage struct {
	board        string
	tasks        table
	activity     table
	notes        table
	deliverables table
	triage       triageQueue
	notifier     *Notifier
	logger       *log.Logger
	now          func() time.Time
	hooks        []func(ctx context.Context, c domain.Change)
}

// New creates a Storage instance from the given options.
func New(opts Options, notifier *Notifier, logger *log.Logger) (*Storage, error) {
	if opts.ConnectionString == "" {
		return nil, errors.New("storage: missing connection string")
	}
	// Mutations are never retried below the store client; callers decide.
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: -1,
				TryTimeout: time.Second * 30,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(opts.ConnectionString, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := newStorage(opts.BoardID, notifier, logger)
	s.tasks = azTable{client: svc.NewClient(opts.TasksTable)}
	s.activity = azTable{client: svc.NewClient(opts.ActivityTable)}
	s.notes = azTable{client: svc.NewClient(opts.NotesTable)}
	s.deliverables = azTable{client: svc.NewClient(opts.DeliverablesTable)}

	if opts.TriageQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries: -1,
					TryTimeout: time.Second * 30,
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(opts.ConnectionString, opts.TriageQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.triage = azQueue{client: q}
	}
	return s, nil
}

func newStorage(board string, notifier *Notifier, logger *log.Logger) *Storage {
	if board == "" {
		board = "board"
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{board: board, notifier: notifier, logger: logger, now: time.Now}
}

// OnChange registers a hook that runs after a successful mutation and before
// the change is broadcast.
func (s *Storage) OnChange(fn func(ctx context.Context, c domain.Change)) {
	s.hooks = append(s.hooks, fn)
}

// Subscribe invokes onChange after any mutation of collection. The returned
// function stops the subscription.
func (s *Storage) Subscribe(ctx context.Context, collection string, onChange func()) (func(), error) {
	if s.notifier == nil {
		return nil, fmt.Errorf("%w: change notifications not configured", domain.ErrStoreUnavailable)
	}
	return s.notifier.Subscribe(ctx, collection, onChange)
}

func (s *Storage) changed(ctx context.Context, c domain.Change) {
	for _, h := range s.hooks {
		h(ctx, c)
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, c); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"collection": c.Collection, "op": c.Op, "id": c.ID}).Error("unable to publish change")
	}
}

func (s *Storage) partitionFilter() string {
	return "PartitionKey eq '" + strings.ReplaceAll(s.board, "'", "''") + "'"
}

// classify maps SDK errors onto the domain error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// entity carries the table keys shared by all entities.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type azTable struct {
	client *aztables.Client
}

func (t azTable) add(ctx context.Context, payload []byte) error {
	_, err := t.client.AddEntity(ctx, payload, nil)
	return err
}

func (t azTable) merge(ctx context.Context, payload []byte) error {
	et := azcore.ETagAny
	_, err := t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (t azTable) upsert(ctx context.Context, payload []byte) error {
	_, err := t.client.UpsertEntity(ctx, payload, nil)
	return err
}

func (t azTable) remove(ctx context.Context, pk, rk string) error {
	et := azcore.ETagAny
	_, err := t.client.DeleteEntity(ctx, pk, rk, &aztables.DeleteEntityOptions{IfMatch: &et})
	return err
}

func (t azTable) get(ctx context.Context, pk, rk string) ([]byte, error) {
	resp, err := t.client.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (t azTable) list(ctx context.Context, filter string) ([][]byte, error) {
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func decodeAll[T any](rows [][]byte) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var ent T
		if err := json.Unmarshal(row, &ent); err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

// Board returns the partition this Storage reads and writes.
func (s *Storage) Board() string { return s.board }
