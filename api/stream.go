package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"kanban-board/domain"
)

// subscriber coalesces pending notifications: a slow reader receives one
// event per changed collection rather than one per change.
type subscriber struct {
	collection string
	ch         chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

func (s *subscriber) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for c := range s.pending {
		out = append(out, c)
	}
	clear(s.pending)
	sort.Strings(out)
	return out
}

// Broker fans store changes out to SSE clients.
type Broker struct {
	heartbeat time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBroker creates a broker. A positive heartbeat sends a comment line at
// that interval to keep idle connections open through proxies.
func NewBroker(heartbeat time.Duration) *Broker {
	return &Broker{heartbeat: heartbeat, subs: make(map[*subscriber]struct{})}
}

func (b *Broker) subscribe(collection string) *subscriber {
	s := &subscriber{
		collection: collection,
		ch:         make(chan struct{}, 1),
		pending:    make(map[string]struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broker) unsubscribe(s *subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Notify signals every subscriber following the changed collection.
func (b *Broker) Notify(c domain.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.collection != "" && s.collection != c.Collection {
			continue
		}
		s.mu.Lock()
		s.pending[c.Collection] = struct{}{}
		s.mu.Unlock()
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Follow forwards every change from src to the broker until the returned
// function is called.
func (b *Broker) Follow(ctx context.Context, src ChangeSource) (func(), error) {
	return src.Listen(ctx, b.Notify)
}

// Subscribers returns the number of connected stream clients.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) streamChanges(c echo.Context) error {
	collection := c.QueryParam("collection")
	switch collection {
	case "", domain.CollectionTasks, domain.CollectionActivity, domain.CollectionNotes, domain.CollectionDeliverables:
	default:
		return writeError(c, &domain.ValidationError{Field: "collection", Reason: "unknown collection " + collection})
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sub := b.subscribe(collection)
	defer b.unsubscribe(sub)

	if _, err := fmt.Fprint(c.Response(), ": connected\n\n"); err != nil {
		return nil
	}
	flusher.Flush()

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if _, err := fmt.Fprint(c.Response(), ": ping\n\n"); err != nil {
				return nil
			}
		case <-sub.ch:
			for _, name := range sub.drain() {
				if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", name); err != nil {
					return nil
				}
			}
		}
		flusher.Flush()
	}
}
