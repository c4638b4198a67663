package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nick-dorsch/trellis/pkg/models"
)

// Edge is a stored dependency half together with the task it lives on.
type Edge struct {
	TaskID      string
	OtherTaskID string
	Type        models.DependencyType
}

// AddEdge stores one half of a dependency edge. Storing an existing half is a
// no-op, so adding the same edge twice leaves a single copy.
func (tx *Tx) AddEdge(ctx context.Context, taskID, otherTaskID string, typ models.DependencyType) error {
	return tx.db.addEdge(ctx, tx.tx, taskID, otherTaskID, typ)
}

// RemoveEdge deletes one half of a dependency edge. Removing a missing half
// is a no-op.
func (tx *Tx) RemoveEdge(ctx context.Context, taskID, otherTaskID string, typ models.DependencyType) error {
	query := `DELETE FROM task_dependencies WHERE task_id = ? AND other_task_id = ? AND type = ?`
	if _, err := tx.tx.ExecContext(ctx, query, taskID, otherTaskID, typ); err != nil {
		return fmt.Errorf("failed to remove dependency edge: %w", err)
	}
	return nil
}

// TouchTask bumps updated_at so subscribers see an edge change on the task.
func (tx *Tx) TouchTask(ctx context.Context, id string) error {
	res, err := tx.tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, tx.db.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// ListEdges returns every stored edge half for the project's tasks.
func (db *DB) ListEdges(ctx context.Context, projectID string) ([]Edge, error) {
	query := `
		SELECT d.task_id, d.other_task_id, d.type
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.task_id
		WHERE t.project_id = ?
		ORDER BY d.task_id, d.rowid
	`
	var edges []Edge
	err := eachRow(ctx, db.DB, query, []any{projectID}, func(rows *sql.Rows) error {
		var e Edge
		if err := rows.Scan(&e.TaskID, &e.OtherTaskID, &e.Type); err != nil {
			return err
		}
		edges = append(edges, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dependency edges: %w", err)
	}
	return edges, nil
}

func (db *DB) addEdge(ctx context.Context, exec executor, taskID, otherTaskID string, typ models.DependencyType) error {
	query := `INSERT OR IGNORE INTO task_dependencies (task_id, other_task_id, type) VALUES (?, ?, ?)`
	if _, err := exec.ExecContext(ctx, query, taskID, otherTaskID, typ); err != nil {
		return fmt.Errorf("failed to add dependency edge: %w", err)
	}
	return nil
}
