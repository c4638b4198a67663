package db

import (
	"context"
	"database/sql"
	"fmt"

	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// CommitBatch applies a session's staged features, tasks and dependencies in
// one transaction. Nothing is written if any item fails to resolve, and the
// session keeps its items so the caller can fix the plan and commit again.
func (db *DB) CommitBatch(ctx context.Context, projectID, sessionID string) error {
	items := db.Staging.GetAndClear(sessionID)
	if items.Empty() {
		return nil
	}

	err := db.commitItems(ctx, projectID, items)
	if err != nil {
		db.Staging.Restore(sessionID, items)
	}
	return err
}

func (db *DB) commitItems(ctx context.Context, projectID string, items *StagedItems) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		features := make(map[string]*models.Feature)
		tasks := make(map[string]string)

		// 1. Features
		for _, f := range items.Features {
			f.ProjectID = projectID
			if err := db.createFeature(ctx, tx.tx, f); err != nil {
				return fmt.Errorf("failed to create staged feature %s: %w", f.Name, err)
			}
			features[f.Name] = f
		}

		// 2. Tasks
		for _, st := range items.Tasks {
			t := st.Task
			t.ProjectID = projectID
			if st.FeatureName != "" {
				f, ok := features[st.FeatureName]
				if !ok {
					var err error
					f, err = db.getFeatureByName(ctx, tx.tx, projectID, st.FeatureName)
					if err != nil {
						return fmt.Errorf("failed to resolve feature %s for task %s: %w", st.FeatureName, t.Title, err)
					}
					if f == nil {
						return fmt.Errorf("feature %s not found for task %s", st.FeatureName, t.Title)
					}
					features[f.Name] = f
				}
				t.FeatureID = models.StringPtr(f.ID)
				if f.ModuleID != "" {
					t.ModuleID = models.StringPtr(f.ModuleID)
				}
			}

			if err := db.createTask(ctx, tx.tx, t); err != nil {
				return fmt.Errorf("failed to create staged task %s: %w", t.Title, err)
			}
			tasks[t.Title] = t.ID
		}

		// 3. Dependencies, both halves
		for _, d := range items.Dependencies {
			source, err := db.resolveStagedTask(ctx, tx.tx, projectID, tasks, d.SourceID, d.SourceTitle)
			if err != nil {
				return err
			}
			target, err := db.resolveStagedTask(ctx, tx.tx, projectID, tasks, d.TargetID, d.TargetTitle)
			if err != nil {
				return err
			}
			if source == target {
				return fmt.Errorf("task %s cannot depend on itself", source)
			}
			if err := db.addEdge(ctx, tx.tx, source, target, models.DependencyBlocking); err != nil {
				return fmt.Errorf("failed to create staged dependency: %w", err)
			}
			if err := db.addEdge(ctx, tx.tx, target, source, models.DependencyBlockedBy); err != nil {
				return fmt.Errorf("failed to create staged dependency: %w", err)
			}
		}

		return nil
	})
}

func (db *DB) resolveStagedTask(ctx context.Context, exec executor, projectID string, staged map[string]string, id, title string) (string, error) {
	if id != "" {
		var owner string
		err := exec.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, id).Scan(&owner)
		if err == sql.ErrNoRows {
			return "", apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found for dependency", id)
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve task %s: %w", id, err)
		}
		if owner != projectID {
			return "", apperr.Validation(apperr.ReasonInvalidCommand,
				"task %s belongs to project %s, not %s", id, owner, projectID)
		}
		return id, nil
	}
	if id, ok := staged[title]; ok {
		return id, nil
	}

	err := exec.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE project_id = ? AND title = ? ORDER BY created_at LIMIT 1`,
		projectID, title,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("task %s not found for dependency", title)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve task %s: %w", title, err)
	}
	return id, nil
}
