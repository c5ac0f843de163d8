// Package board keeps a user's ordered task list in memory, applies drag
// reorders optimistically and reconciles with the backend by refetching.
package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/simonbegg/todo/domain"
)

// DefaultWriteLimit caps concurrent order writes issued by one reorder.
const DefaultWriteLimit = 8

// Config wires a Core to its collaborators. Notifier, Reporter and Logger
// are optional.
type Config struct {
	Store      RowStore
	Notifier   ChangeNotifier
	Session    Session
	Reporter   Reporter
	Logger     *log.Logger
	WriteLimit int
}

// Core owns the in-memory task list. items is only ever replaced, never
// mutated in place, so snapshots handed out stay valid.
type Core struct {
	store      RowStore
	notifier   ChangeNotifier
	session    Session
	reporter   Reporter
	logger     *log.Logger
	writeLimit int

	mu          sync.Mutex
	items       []domain.Task
	pendingDrag string
	userID      string
	sub         Subscription
	listeners   []func([]domain.Task)

	// generation is bumped by every refresh start and every local splice;
	// applied is the generation currently shown. Refreshes older than
	// applied are dropped.
	generation uint64
	applied    uint64

	// persisting counts reorders whose writes are in flight. Change
	// notifications arriving meanwhile are folded into one refresh after.
	persisting int
	deferred   bool
}

// New creates a Core.
func New(cfg Config) *Core {
	c := &Core{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		session:    cfg.Session,
		reporter:   cfg.Reporter,
		logger:     cfg.Logger,
		writeLimit: cfg.WriteLimit,
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	if c.writeLimit <= 0 {
		c.writeLimit = DefaultWriteLimit
	}
	return c
}

// OnChange registers fn to receive a snapshot every time the list is replaced.
func (c *Core) OnChange(fn func([]domain.Task)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Items returns a snapshot of the current list.
func (c *Core) Items() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// PendingDrag returns the id of the task being dragged, if any.
func (c *Core) PendingDrag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingDrag
}

// UserID returns the user resolved by Mount.
func (c *Core) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Mount resolves the current user, subscribes to changes and loads the list.
// It returns domain.ErrAuthRequired when nobody is signed in.
func (c *Core) Mount(ctx context.Context) error {
	user, err := c.session.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			return domain.ErrAuthRequired
		}
		return c.fail("current user", err)
	}
	if user == "" {
		return domain.ErrAuthRequired
	}

	if err := c.Unmount(); err != nil {
		c.logger.WithError(err).Warn("unable to drop previous subscription")
	}
	c.mu.Lock()
	c.userID = user
	c.mu.Unlock()

	if c.notifier != nil {
		sub, err := c.notifier.Subscribe(ctx, c.onRemoteChange)
		if err != nil {
			return c.fail("subscribe", err)
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
	return c.Refresh(ctx)
}

// Unmount drops the change subscription.
func (c *Core) Unmount() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// BeginDrag records the task being dragged.
func (c *Core) BeginDrag(id string) {
	c.mu.Lock()
	c.pendingDrag = id
	c.mu.Unlock()
}

// CompleteDrag moves sourceID to targetID's position. The local list is
// updated before any backend call; then every task whose order changed is
// written concurrently. If any write fails the error is reported and the list
// is refetched, discarding the local splice. An empty targetID, equal ids or
// unknown ids leave everything untouched.
func (c *Core) CompleteDrag(ctx context.Context, sourceID, targetID string) error {
	c.mu.Lock()
	c.pendingDrag = ""
	next, moved := domain.Move(c.items, sourceID, targetID)
	if !moved {
		c.mu.Unlock()
		return nil
	}
	updates := domain.Canonicalize(next)
	c.items = next
	c.generation++
	c.applied = c.generation
	c.persisting++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	err := c.persistOrder(ctx, updates)

	c.mu.Lock()
	c.persisting--
	deferred := c.persisting == 0 && c.deferred
	if c.persisting == 0 {
		c.deferred = false
	}
	c.mu.Unlock()

	if err != nil {
		err = c.fail("reorder", err)
		// The refetch must run even when the caller's context is gone.
		_ = c.Refresh(context.WithoutCancel(ctx))
		return err
	}
	if deferred {
		_ = c.Refresh(context.WithoutCancel(ctx))
	}
	return nil
}

func (c *Core) persistOrder(ctx context.Context, updates []domain.OrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(c.writeLimit)
	for _, u := range updates {
		g.Go(func() error {
			return c.store.UpdateTask(ctx, u.ID, domain.OrderPatch(u.Order))
		})
	}
	err := g.Wait()
	c.logger.WithFields(log.Fields{
		"writes":   len(updates),
		"duration": time.Since(start),
		"failed":   err != nil,
	}).Debug("reorder persisted")
	return err
}

// Refresh replaces the list with the backend's rows.
func (c *Core) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	ticket := c.generation
	c.mu.Unlock()

	tasks, err := c.store.ListTasks(ctx)
	if err != nil {
		return c.fail("list tasks", err)
	}
	domain.SortByOrder(tasks)

	c.mu.Lock()
	if ticket < c.applied {
		c.mu.Unlock()
		c.logger.WithField("generation", ticket).Debug("discarding stale refresh")
		return nil
	}
	c.applied = ticket
	c.items = tasks
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
	return nil
}

// Insert adds a task above every existing one. Blank text is ignored. The
// local list is not touched; the change feed or a refresh picks the row up.
func (c *Core) Insert(ctx context.Context, text string, due *time.Time) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, nil
	}
	min, ok, err := c.store.MinOrder(ctx)
	if err != nil {
		return domain.Task{}, c.fail("min order", err)
	}
	task, err := c.store.InsertTask(ctx, domain.NewTask{Text: text, DueDate: due, Order: domain.InsertOrder(min, ok)})
	if err != nil {
		return domain.Task{}, c.fail("insert task", err)
	}
	return task, nil
}

// ToggleCompleted flips the completion flag of a known task.
func (c *Core) ToggleCompleted(ctx context.Context, id string) error {
	c.mu.Lock()
	i := domain.IndexOf(c.items, id)
	var completed bool
	if i >= 0 {
		completed = !c.items[i].Completed
	}
	c.mu.Unlock()
	if i < 0 {
		c.report(domain.ErrTaskNotFound)
		return domain.ErrTaskNotFound
	}
	if err := c.store.UpdateTask(ctx, id, domain.CompletedPatch(completed)); err != nil {
		return c.fail("toggle task", err)
	}
	return nil
}

// Edit replaces a task's text and due date; a nil due date clears it.
// Blank text is ignored.
func (c *Core) Edit(ctx context.Context, id, text string, due *time.Time) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	patch := domain.TaskPatch{Text: &text, DueDate: due, ClearDueDate: due == nil}
	if err := c.store.UpdateTask(ctx, id, patch); err != nil {
		return c.fail("edit task", err)
	}
	return nil
}

// Remove deletes a task.
func (c *Core) Remove(ctx context.Context, id string) error {
	if err := c.store.DeleteTask(ctx, id); err != nil {
		return c.fail("delete task", err)
	}
	return nil
}

func (c *Core) onRemoteChange() {
	c.mu.Lock()
	if c.persisting > 0 {
		c.deferred = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.Refresh(context.Background())
}

func (c *Core) fail(op string, err error) error {
	err = domain.NewBackendError(op, err)
	c.report(err)
	return err
}

func (c *Core) report(err error) {
	c.logger.WithError(err).Warn("task operation failed")
	if c.reporter != nil {
		c.reporter.Report(err)
	}
}

func (c *Core) snapshotLocked() []domain.Task {
	out := make([]domain.Task, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Core) emit(snap []domain.Task) {
	c.mu.Lock()
	listeners := append(([]func([]domain.Task))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
