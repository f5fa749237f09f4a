package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kanban-board/domain"
)

// ChangeSource delivers every change broadcast for a board, normally a Notifier.
type ChangeSource interface {
	Listen(ctx context.Context, fn func(domain.Change)) (func(), error)
}

// Cache wraps a Storage instance with a Redis-backed cache of the task list.
//
// Cached lists are keyed by a generation counter. Writes through the wrapped
// Storage bump it before their change is broadcast, and Follow bumps it for
// changes published by other processes before passing them on, so a reader
// woken by a notification never sees the list from before that mutation.
type Cache struct {
	*Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base *Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		Storage: base,
		redis:   client,
		ttl:     ttl,
	}
	base.OnChange(func(ctx context.Context, ch domain.Change) {
		c.Invalidate(ctx, ch)
	})
	return c
}

// Invalidate drops the cached list when ch touches tasks.
func (c *Cache) Invalidate(ctx context.Context, ch domain.Change) {
	if ch.Collection == domain.CollectionTasks {
		c.bump(ctx)
	}
}

// Follow wraps src so every task change it delivers invalidates the cached
// list before fn sees it.
func (c *Cache) Follow(src ChangeSource) ChangeSource {
	return invalidating{cache: c, src: src}
}

type invalidating struct {
	cache *Cache
	src   ChangeSource
}

func (i invalidating) Listen(ctx context.Context, fn func(domain.Change)) (func(), error) {
	return i.src.Listen(ctx, func(ch domain.Change) {
		i.cache.Invalidate(ctx, ch)
		fn(ch)
	})
}

func (c *Cache) ListTasks(ctx context.Context) ([]domain.Task, error) {
	gen, ok := c.generation(ctx)
	if ok {
		if tasks, hit := c.loadTasks(ctx, gen); hit {
			return tasks, nil
		}
	}

	tasks, err := c.Storage.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	if ok {
		c.storeTasks(ctx, gen, tasks)
	}
	return tasks, nil
}

// generation reports the current list generation. ok is false when the cache
// cannot be used.
func (c *Cache) generation(ctx context.Context) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, c.generationKey()).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) loadTasks(ctx context.Context, gen int64) ([]domain.Task, bool) {
	key := c.tasksKey(gen)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, gen int64, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.tasksKey(gen), data, c.ttl).Err()
}

func (c *Cache) bump(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, c.generationKey()).Err()
}

func (c *Cache) generationKey() string {
	return "tasks:" + c.Board() + ":gen"
}

func (c *Cache) tasksKey(gen int64) string {
	return "tasks:" + c.Board() + ":" + strconv.FormatInt(gen, 10)
}
