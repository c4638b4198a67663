package graph

import (
	"context"
	"fmt"

	"github.com/nick-dorsch/trellis/internal/activity"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// Manager adds and removes dependency edges, writing both halves of every
// edge in one transaction.
type Manager struct {
	db       *db.DB
	log      *log.Logger
	activity *activity.Recorder
}

func NewManager(database *db.DB, logger *log.Logger, recorder *activity.Recorder) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	if recorder == nil {
		recorder = activity.NewRecorder(database, logger, nil)
	}
	return &Manager{db: database, log: logger, activity: recorder}
}

// AddDependency records that source blocks target. Adding an existing edge
// is a no-op. Cycles are allowed but logged.
func (m *Manager) AddDependency(ctx context.Context, actor models.Actor, source, target string) error {
	if source == "" || target == "" {
		return apperr.Validation(apperr.ReasonInvalidCommand, "source and target are required")
	}
	if source == target {
		return apperr.Validation(apperr.ReasonInvalidCommand, "task %s cannot depend on itself", source)
	}

	var projectID string
	err := m.db.RunInTx(ctx, func(tx *db.Tx) error {
		src, err := tx.GetTask(ctx, source)
		if err != nil {
			return err
		}
		if src == nil {
			return apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found", source)
		}
		dst, err := tx.GetTask(ctx, target)
		if err != nil {
			return err
		}
		if dst == nil {
			return apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found", target)
		}
		if src.ProjectID != dst.ProjectID {
			return apperr.Validation(apperr.ReasonInvalidCommand, "tasks %s and %s belong to different projects", source, target)
		}
		projectID = src.ProjectID

		if err := tx.AddEdge(ctx, source, target, models.DependencyBlocking); err != nil {
			return err
		}
		if err := tx.AddEdge(ctx, target, source, models.DependencyBlockedBy); err != nil {
			return err
		}
		if err := tx.TouchTask(ctx, source); err != nil {
			return err
		}
		return tx.TouchTask(ctx, target)
	})
	if err != nil {
		return wrapStore(err)
	}

	m.log.DebugContext(ctx, "dependency added", "source", source, "target", target)
	m.warnOnCycle(ctx, projectID, source)
	m.activity.Record(ctx, actor, models.ActivityDependencyAdded, projectID, &target,
		fmt.Sprintf("%s made task %s depend on %s", actor.Name(), target, source))
	return nil
}

// RemoveDependency removes both halves of the edge. Either endpoint may
// already be deleted; the halves on the remaining endpoint are removed.
func (m *Manager) RemoveDependency(ctx context.Context, actor models.Actor, source, target string) error {
	if source == "" || target == "" {
		return apperr.Validation(apperr.ReasonInvalidCommand, "source and target are required")
	}

	var projectID string
	err := m.db.RunInTx(ctx, func(tx *db.Tx) error {
		src, err := tx.GetTask(ctx, source)
		if err != nil {
			return err
		}
		dst, err := tx.GetTask(ctx, target)
		if err != nil {
			return err
		}
		if src == nil && dst == nil {
			return apperr.NotFound(apperr.CodeTaskNotFound, "tasks %s and %s not found", source, target)
		}

		if src != nil {
			projectID = src.ProjectID
			if err := tx.RemoveEdge(ctx, source, target, models.DependencyBlocking); err != nil {
				return err
			}
			if err := tx.TouchTask(ctx, source); err != nil {
				return err
			}
		}
		if dst != nil {
			projectID = dst.ProjectID
			if err := tx.RemoveEdge(ctx, target, source, models.DependencyBlockedBy); err != nil {
				return err
			}
			if err := tx.TouchTask(ctx, target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStore(err)
	}

	m.log.DebugContext(ctx, "dependency removed", "source", source, "target", target)
	m.activity.Record(ctx, actor, models.ActivityDependencyRemoved, projectID, &target,
		fmt.Sprintf("%s removed the dependency of %s on %s", actor.Name(), target, source))
	return nil
}

// Check loads the project's tasks and reports cycles and one-sided edges.
func (m *Manager) Check(ctx context.Context, projectID string) (*Report, error) {
	tasks, err := m.db.ListTasks(ctx, db.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, apperr.Store(err)
	}
	return &Report{
		Cycles:     FindCycles(tasks),
		Asymmetric: Asymmetric(tasks),
		Blocked:    ComputeBlocked(tasks).IDs(),
	}, nil
}

// Report is the result of a dependency check.
type Report struct {
	Cycles     [][]string `json:"cycles"`
	Asymmetric []Edge     `json:"asymmetric"`
	Blocked    []string   `json:"blocked"`
}

func (r *Report) Healthy() bool {
	return len(r.Cycles) == 0 && len(r.Asymmetric) == 0
}

func (m *Manager) warnOnCycle(ctx context.Context, projectID, taskID string) {
	tasks, err := m.db.ListTasks(ctx, db.TaskFilter{ProjectID: projectID})
	if err != nil {
		m.log.WithError(err).WarnContext(ctx, "failed to check for dependency cycles")
		return
	}
	for _, cycle := range FindCycles(tasks) {
		for _, id := range cycle {
			if id == taskID {
				m.log.WarnContext(ctx, "dependency cycle detected", "project_id", projectID, "cycle", cycle)
				return
			}
		}
	}
}

func wrapStore(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Store(err)
}
