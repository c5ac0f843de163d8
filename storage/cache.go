package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/simonbegg/todo/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	MinOrder(ctx context.Context, userID string) (int64, bool, error)
	InsertTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// Cache wraps a task backend with a Redis read-through cache for task lists.
// Every write bumps a per-user version and evicts the cached list; a refill
// is only stored if the version it started from is still current. MinOrder
// always reads the backend so new tasks are placed against committed data.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	version, versionOK := c.listVersion(ctx, userID)
	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	if versionOK {
		c.storeTasks(ctx, userID, version, tasks)
	}
	return tasks, nil
}

func (c *Cache) MinOrder(ctx context.Context, userID string) (int64, bool, error) {
	return c.base.MinOrder(ctx, userID)
}

func (c *Cache) InsertTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	task, err := c.base.InsertTask(ctx, userID, n)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, userID)
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	err := c.base.UpdateTask(ctx, userID, taskID, patch)
	// A failed merge may still have landed server side.
	c.evict(ctx, userID)
	return err
}

func (c *Cache) DeleteTask(ctx context.Context, userID, taskID string) error {
	err := c.base.DeleteTask(ctx, userID, taskID)
	c.evict(ctx, userID)
	return err
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

// listVersion reads the write counter for userID. A missing counter is
// version zero.
func (c *Cache) listVersion(ctx context.Context, userID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	v, err := c.redis.Get(ctx, tasksVersionKey(userID)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return v, true
}

// storeTasks caches tasks unless a write bumped the version after the
// backend read began.
func (c *Cache) storeTasks(ctx context.Context, userID string, version int64, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	vkey := tasksVersionKey(userID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			return p.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
		})
		return err
	}, vkey)
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, tasksVersionKey(userID))
	pipe.Del(ctx, tasksCacheKey(userID))
	_, _ = pipe.Exec(ctx)
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func tasksVersionKey(userID string) string {
	return "tasks-version:" + userID
}
