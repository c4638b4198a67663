package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// watchDebounce coalesces bursts of file events from a single commit.
const watchDebounce = 100 * time.Millisecond

// TasksSnapshot is one delivery of a per-query subscription. Epoch grows with
// every committed change, so a consumer can discard stale deliveries.
type TasksSnapshot struct {
	Epoch uint64
	Tasks []*models.Task
	Err   error
}

// TaskSnapshot is one delivery of a per-document subscription. Task is nil
// once the document no longer exists.
type TaskSnapshot struct {
	Epoch uint64
	Task  *models.Task
	Err   error
}

type listener struct {
	deliver func(ctx context.Context, epoch uint64)
}

// Epoch returns the number of changes published so far.
func (db *DB) Epoch() uint64 {
	return db.epoch.Load()
}

// SubscribeTasks calls fn with the project's tasks now and again after every
// committed change. fn runs on the writer's goroutine and must not write to
// the store. The returned function cancels the subscription.
func (db *DB) SubscribeTasks(ctx context.Context, projectID string, fn func(TasksSnapshot)) func() {
	deliver := func(ctx context.Context, epoch uint64) {
		tasks, err := db.ListTasks(ctx, TaskFilter{ProjectID: projectID})
		fn(TasksSnapshot{Epoch: epoch, Tasks: tasks, Err: err})
	}
	return db.subscribe(ctx, deliver)
}

// SubscribeTask calls fn with a single task now and after every committed
// change.
func (db *DB) SubscribeTask(ctx context.Context, id string, fn func(TaskSnapshot)) func() {
	deliver := func(ctx context.Context, epoch uint64) {
		t, err := db.GetTask(ctx, id)
		fn(TaskSnapshot{Epoch: epoch, Task: t, Err: err})
	}
	return db.subscribe(ctx, deliver)
}

func (db *DB) subscribe(ctx context.Context, deliver func(context.Context, uint64)) func() {
	db.listenersMu.Lock()
	db.nextID++
	id := db.nextID
	db.listeners[id] = &listener{deliver: deliver}
	db.listenersMu.Unlock()

	deliver(ctx, db.epoch.Load())

	return func() {
		db.listenersMu.Lock()
		delete(db.listeners, id)
		db.listenersMu.Unlock()
	}
}

func (db *DB) publish(ctx context.Context) {
	epoch := db.epoch.Add(1)

	db.listenersMu.RLock()
	ls := make([]*listener, 0, len(db.listeners))
	for _, l := range db.listeners {
		ls = append(ls, l)
	}
	db.listenersMu.RUnlock()

	for _, l := range ls {
		l.deliver(ctx, epoch)
	}
}

// Watch republishes to subscribers whenever another process modifies the
// database file. It blocks until ctx is done.
func (db *DB) Watch(ctx context.Context) error {
	if db.path == "" || db.path == ":memory:" {
		return errors.New("cannot watch an in-memory database")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(db.path)); err != nil {
		return fmt.Errorf("failed to watch database directory: %w", err)
	}

	base := filepath.Base(db.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) || !ev.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}
		case <-fire:
			db.publish(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
