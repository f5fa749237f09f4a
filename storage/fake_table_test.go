package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// fakeTable is an in-memory table with Azure merge semantics.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]map[string]any
	order   []string
	failErr error
	calls   int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]any{}}
}

func rowKey(pk, rk string) string { return pk + "/" + rk }

func decodeRow(payload []byte) (map[string]any, string, error) {
	var row map[string]any
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, "", err
	}
	pk, _ := row["PartitionKey"].(string)
	rk, _ := row["RowKey"].(string)
	return row, rowKey(pk, rk), nil
}

func (f *fakeTable) begin() error {
	f.calls++
	return f.failErr
}

func (f *fakeTable) add(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return err
	}
	row, key, err := decodeRow(payload)
	if err != nil {
		return err
	}
	if _, ok := f.rows[key]; ok {
		return &azcore.ResponseError{StatusCode: http.StatusConflict}
	}
	f.rows[key] = row
	f.order = append(f.order, key)
	return nil
}

func (f *fakeTable) merge(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return err
	}
	row, key, err := decodeRow(payload)
	if err != nil {
		return err
	}
	cur, ok := f.rows[key]
	if !ok {
		return &azcore.ResponseError{StatusCode: http.StatusNotFound}
	}
	for k, v := range row {
		cur[k] = v
	}
	return nil
}

func (f *fakeTable) upsert(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return err
	}
	row, key, err := decodeRow(payload)
	if err != nil {
		return err
	}
	cur, ok := f.rows[key]
	if !ok {
		f.rows[key] = row
		f.order = append(f.order, key)
		return nil
	}
	for k, v := range row {
		cur[k] = v
	}
	return nil
}

func (f *fakeTable) remove(ctx context.Context, pk, rk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return err
	}
	key := rowKey(pk, rk)
	if _, ok := f.rows[key]; !ok {
		return &azcore.ResponseError{StatusCode: http.StatusNotFound}
	}
	delete(f.rows, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeTable) get(ctx context.Context, pk, rk string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return nil, err
	}
	row, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return nil, &azcore.ResponseError{StatusCode: http.StatusNotFound}
	}
	return json.Marshal(row)
}

func (f *fakeTable) list(ctx context.Context, filter string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(f.order))
	for _, k := range f.order {
		data, err := json.Marshal(f.rows[k])
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (f *fakeTable) field(pk, rk, name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return nil
	}
	return row[name]
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []queueMessage
	removed  []string
	next     int
	failErr  error
}

func (q *fakeQueue) enqueue(ctx context.Context, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failErr != nil {
		return q.failErr
	}
	q.next++
	id := "msg-" + string(rune('0'+q.next))
	q.messages = append(q.messages, queueMessage{id: id, popReceipt: "pop-" + id, text: text})
	return nil
}

func (q *fakeQueue) dequeue(ctx context.Context) (*queueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failErr != nil {
		return nil, q.failErr
	}
	if len(q.messages) == 0 {
		return nil, nil
	}
	m := q.messages[0]
	q.messages = q.messages[1:]
	return &m, nil
}

func (q *fakeQueue) remove(ctx context.Context, id, popReceipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if popReceipt != "pop-"+id {
		return errors.New("bad pop receipt")
	}
	q.removed = append(q.removed, id)
	return nil
}

func newTestStorage() (*Storage, *fakeTable) {
	s := newStorage("board", nil, nil)
	tasks := newFakeTable()
	s.tasks = tasks
	s.activity = newFakeTable()
	s.notes = newFakeTable()
	s.deliverables = newFakeTable()
	return s, tasks
}
