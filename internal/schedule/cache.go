package schedule

import (
	"context"
	"errors"
)

// passCache memoizes store reads for the duration of one reconcile or
// evaluation pass. It is not safe for concurrent use and must not be kept
// past the pass that created it.
type passCache struct {
	store Store
	tasks map[Key]cachedTask
	args  map[Key][]string
}

// cachedTask is a known answer for one key. A nil def with a nil err means
// the task exists but its definition was not loaded.
type cachedTask struct {
	def *Definition
	err error
}

func newPassCache(store Store) *passCache {
	return &passCache{
		store: store,
		tasks: make(map[Key]cachedTask),
		args:  make(map[Key][]string),
	}
}

// GetTask caches both hits and ErrNotFound. Other errors are not cached.
func (c *passCache) GetTask(ctx context.Context, key Key) (*Definition, error) {
	if hit, ok := c.tasks[key]; ok && (hit.def != nil || hit.err != nil) {
		return hit.def, hit.err
	}
	def, err := c.store.GetTask(ctx, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		c.tasks[key] = cachedTask{def: def, err: err}
	}
	return def, err
}

// HasTask caches both answers. Errors are not cached.
func (c *passCache) HasTask(ctx context.Context, key Key) (bool, error) {
	if hit, ok := c.tasks[key]; ok {
		return hit.err == nil, nil
	}
	ok, err := c.store.HasTask(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		c.tasks[key] = cachedTask{}
	} else {
		c.tasks[key] = cachedTask{err: ErrNotFound}
	}
	return ok, nil
}

// remember records that key exists after a write, replacing any cached
// answer.
func (c *passCache) remember(key Key) {
	c.tasks[key] = cachedTask{}
}

func (c *passCache) DispatchArgs(ctx context.Context, key Key) ([]string, error) {
	if args, ok := c.args[key]; ok {
		return args, nil
	}
	args, err := c.store.DispatchArgs(ctx, key)
	if err != nil {
		return nil, err
	}
	c.args[key] = args
	return args, nil
}
