// Package board keeps a session-local copy of a project's tasks for
// interactive moves. A move is validated locally, applied optimistically
// and committed through the engine; a failed commit rolls the board back to
// the last authoritative snapshot.
package board

import (
	"context"
	"sync"

	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// Transitioner commits a move. *workflow.Engine implements it.
type Transitioner interface {
	TransitionTask(ctx context.Context, actor models.Actor, projectID, taskID string, cmds ...workflow.Command) (*models.Task, error)
}

// Source pushes authoritative task snapshots. *db.DB implements it.
type Source interface {
	SubscribeTasks(ctx context.Context, projectID string, fn func(db.TasksSnapshot)) func()
}

var (
	_ Transitioner = (*workflow.Engine)(nil)
	_ Source       = (*db.DB)(nil)
)

// DropTarget is where a task was dropped: a column, or another task whose
// status becomes the target status. TaskID wins when both are set.
type DropTarget struct {
	Column models.TaskStatus
	TaskID string
}

// View is an immutable picture of the board. Epoch is the authoritative
// snapshot it is based on; Optimistic is set when local moves are layered
// on top of it.
type View struct {
	Epoch      uint64
	Tasks      []*models.Task
	Blocked    graph.Set
	Optimistic bool

	byID map[string]*models.Task
}

func newView(epoch uint64, tasks []*models.Task, optimistic bool) *View {
	v := &View{
		Epoch:      epoch,
		Tasks:      tasks,
		Blocked:    graph.ComputeBlocked(tasks),
		Optimistic: optimistic,
		byID:       make(map[string]*models.Task, len(tasks)),
	}
	for _, t := range tasks {
		v.byID[t.ID] = t
	}
	return v
}

// Task returns the task with id, or nil.
func (v *View) Task(id string) *models.Task {
	return v.byID[id]
}

// Column returns the tasks in status, in board order.
func (v *View) Column(status models.TaskStatus) []*models.Task {
	var col []*models.Task
	for _, t := range v.Tasks {
		if t.Status == status {
			col = append(col, t)
		}
	}
	return col
}

// with returns a copy of v with task replaced by next.
func (v *View) with(next *models.Task) *View {
	tasks := make([]*models.Task, len(v.Tasks))
	for i, t := range v.Tasks {
		if t.ID == next.ID {
			tasks[i] = next
		} else {
			tasks[i] = t
		}
	}
	return newView(v.Epoch, tasks, true)
}

type EventKind string

const (
	// EventSnapshot: a fresh authoritative snapshot replaced the view.
	EventSnapshot EventKind = "snapshot"
	// EventApplied: a move passed local validation and is shown optimistically.
	EventApplied EventKind = "applied"
	// EventConfirmed: the engine committed a move.
	EventConfirmed EventKind = "confirmed"
	// EventRejected: a move failed local validation. Nothing changed.
	EventRejected EventKind = "rejected"
	// EventUndone: the engine refused a move and the board rolled back.
	EventUndone EventKind = "undone"
	// EventError: the snapshot source reported an error.
	EventError EventKind = "error"
)

// Event reports something the user should see.
type Event struct {
	Kind    EventKind
	TaskID  string
	Title   string
	From    models.TaskStatus
	To      models.TaskStatus
	Err     error
	Message string
}

// Board is safe for concurrent use.
type Board struct {
	engine    Transitioner
	actor     models.Actor
	projectID string
	log       *log.Logger
	metrics   *metrics.Metrics
	events    chan Event

	mu            sync.Mutex
	authoritative *View
	view          *View
	pending       sync.WaitGroup
}

// New creates an empty board for projectID. Moves are committed through
// engine as actor.
func New(engine Transitioner, actor models.Actor, projectID string, logger *log.Logger, m *metrics.Metrics) *Board {
	if logger == nil {
		logger = log.Discard()
	}
	empty := newView(0, nil, false)
	return &Board{
		engine:        engine,
		actor:         actor,
		projectID:     projectID,
		log:           logger.With("component", "board", "project_id", projectID),
		metrics:       m,
		events:        make(chan Event, 64),
		authoritative: empty,
		view:          empty,
	}
}

// Events delivers board events. Events are dropped when nobody reads them.
func (b *Board) Events() <-chan Event {
	return b.events
}

func (b *Board) emit(e Event) {
	select {
	case b.events <- e:
	default:
		b.log.Debug("board event dropped", "kind", string(e.Kind))
	}
}

// View returns the current view.
func (b *Board) View() *View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view
}

// Authoritative returns the last snapshot pushed by the store.
func (b *Board) Authoritative() *View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authoritative
}

// Attach subscribes the board to src. The returned func unsubscribes.
func (b *Board) Attach(ctx context.Context, src Source) func() {
	return src.SubscribeTasks(ctx, b.projectID, func(s db.TasksSnapshot) {
		if s.Err != nil {
			b.log.WithError(s.Err).Warn("snapshot failed")
			b.emit(Event{Kind: EventError, Err: s.Err, Message: apperr.UserMessage(apperr.Store(s.Err))})
			return
		}
		b.ApplySnapshot(s.Epoch, s.Tasks)
	})
}

// ApplySnapshot replaces the view with an authoritative snapshot, dropping
// any optimistic moves. Snapshots older than the current one are ignored.
// It reports whether the snapshot was applied.
func (b *Board) ApplySnapshot(epoch uint64, tasks []*models.Task) bool {
	b.mu.Lock()
	if epoch < b.authoritative.Epoch {
		b.mu.Unlock()
		b.log.Debug("stale snapshot ignored", "epoch", epoch, "current", b.authoritative.Epoch)
		return false
	}
	v := newView(epoch, tasks, false)
	b.authoritative = v
	b.view = v
	b.mu.Unlock()

	b.emit(Event{Kind: EventSnapshot})
	return true
}

// Move moves a task to the status named by target. Validation failures are
// returned directly and leave the view untouched. Otherwise the move is
// shown at once and committed in the background; the returned channel
// yields the commit result and is then closed.
func (b *Board) Move(ctx context.Context, taskID string, target DropTarget) (<-chan error, error) {
	b.mu.Lock()
	v := b.view
	t := v.Task(taskID)
	if t == nil {
		b.mu.Unlock()
		return nil, apperr.NotFound(apperr.CodeTaskNotFound, "task %s is not on the board", taskID)
	}

	to, err := resolveTarget(v, target)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	done := make(chan error, 1)
	if to == t.Status {
		b.mu.Unlock()
		done <- nil
		close(done)
		return done, nil
	}

	next := t.Clone()
	next.Status = to
	if err := workflow.CheckTransition(&next, t.Status, graph.Lookup(v.Tasks)); err != nil {
		b.mu.Unlock()
		b.metrics.BoardMove("rejected")
		b.emit(Event{Kind: EventRejected, TaskID: t.ID, Title: t.Title, From: t.Status, To: to, Err: err, Message: apperr.UserMessage(err)})
		return nil, err
	}

	b.view = v.with(&next)
	b.pending.Add(1)
	b.mu.Unlock()

	b.emit(Event{Kind: EventApplied, TaskID: t.ID, Title: t.Title, From: t.Status, To: to})
	go b.commit(ctx, t.ID, t.Title, t.Status, to, done)
	return done, nil
}

func (b *Board) commit(ctx context.Context, taskID, title string, from, to models.TaskStatus, done chan<- error) {
	defer b.pending.Done()
	defer close(done)

	_, err := b.engine.TransitionTask(ctx, b.actor, b.projectID, taskID, workflow.ChangeStatus{Status: to})
	if err == nil {
		b.metrics.BoardMove("confirmed")
		b.emit(Event{Kind: EventConfirmed, TaskID: taskID, Title: title, From: from, To: to})
		done <- nil
		return
	}

	b.mu.Lock()
	b.view = b.authoritative
	b.mu.Unlock()

	b.metrics.BoardMove("undone")
	b.metrics.BoardRollback()
	b.log.WithError(err).Info("move undone", "task_id", taskID, "to", string(to))
	b.emit(Event{
		Kind:    EventUndone,
		TaskID:  taskID,
		Title:   title,
		From:    from,
		To:      to,
		Err:     err,
		Message: "Move undone: " + apperr.UserMessage(err),
	})
	done <- err
}

// Wait blocks until every in-flight commit has finished.
func (b *Board) Wait() {
	b.pending.Wait()
}

func resolveTarget(v *View, target DropTarget) (models.TaskStatus, error) {
	if target.TaskID != "" {
		other := v.Task(target.TaskID)
		if other == nil {
			return "", apperr.NotFound(apperr.CodeTaskNotFound, "drop target %s is not on the board", target.TaskID)
		}
		return other.Status, nil
	}
	if !target.Column.Valid() {
		return "", apperr.Validation(apperr.ReasonInvalidCommand, "unknown column %q", target.Column)
	}
	return target.Column, nil
}
