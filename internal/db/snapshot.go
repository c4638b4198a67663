package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/spf13/afero"
)

const snapshotVersion = 1

type snapshotRecord struct {
	RecordType string `json:"record_type"`
}

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

type snapshotFeature struct {
	RecordType string `json:"record_type"`
	*models.Feature
}

type snapshotTask struct {
	RecordType string `json:"record_type"`
	*models.Task
}

// EnableAutoSnapshot sets up a hook that automatically exports a snapshot
// to the given path after every successful write operation. The write that
// triggered the hook has already committed, so export failures are only
// logged and counted.
func (db *DB) EnableAutoSnapshot(path string, logger *log.Logger, m *metrics.Metrics) {
	if logger == nil {
		logger = log.Discard()
	}
	db.SetOnChange(func(ctx context.Context) {
		if err := db.ExportSnapshot(ctx, path); err != nil {
			m.SideEffectFailed("snapshot")
			logger.WithError(err).WarnContext(ctx, "failed to export snapshot", "path", path)
		}
	})
}

// ExportSnapshot writes every feature and task as JSON lines to path,
// atomically via a temporary file in the same directory.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	features, err := db.allFeatures(ctx)
	if err != nil {
		return err
	}
	tasks, err := db.listTasks(ctx, db.DB, TaskFilter{})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := db.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := afero.TempFile(db.fs, dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			db.fs.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	enc := json.NewEncoder(w)

	if err := enc.Encode(snapshotMeta{RecordType: "meta", Version: snapshotVersion, ExportedAt: db.Now()}); err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}
	for _, f := range features {
		if err := enc.Encode(snapshotFeature{RecordType: "feature", Feature: f}); err != nil {
			return fmt.Errorf("failed to write feature %s: %w", f.Name, err)
		}
	}
	for _, t := range tasks {
		if err := enc.Encode(snapshotTask{RecordType: "task", Task: t}); err != nil {
			return fmt.Errorf("failed to write task %s: %w", t.Title, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := db.fs.Rename(filename, path); err != nil {
		db.fs.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ImportSnapshot reads a JSONL snapshot and upserts its features and tasks
// by ID in a single transaction. A task's edges, time logs and links are
// replaced by the snapshot's copy. Every edge is stored on both tasks, and
// a task in a gated status without a feature fails the whole import.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := db.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	var features []*models.Feature
	var tasks []*models.Task

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base snapshotRecord
		if err := json.Unmarshal(line, &base); err != nil {
			return fmt.Errorf("failed to unmarshal base record: %w", err)
		}

		switch base.RecordType {
		case "meta":
			var m snapshotMeta
			if err := json.Unmarshal(line, &m); err != nil {
				return fmt.Errorf("failed to unmarshal meta: %w", err)
			}
			if m.Version > snapshotVersion {
				return fmt.Errorf("unsupported snapshot version %d", m.Version)
			}
		case "feature":
			f := &models.Feature{}
			if err := json.Unmarshal(line, f); err != nil {
				return fmt.Errorf("failed to unmarshal feature: %w", err)
			}
			features = append(features, f)
		case "task":
			t := &models.Task{}
			if err := json.Unmarshal(line, t); err != nil {
				return fmt.Errorf("failed to unmarshal task: %w", err)
			}
			tasks = append(tasks, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	for _, t := range tasks {
		if t.Status.RequiresFeature() && !t.HasFeature() {
			return apperr.Validation(apperr.ReasonNoFeature,
				"snapshot task %s is %s without a feature", t.Title, t.Status)
		}
	}

	return db.RunInTx(ctx, func(tx *Tx) error {
		for _, f := range features {
			if err := importFeature(ctx, tx, f); err != nil {
				return fmt.Errorf("failed to sync feature %s: %w", f.Name, err)
			}
		}
		for _, t := range tasks {
			if err := importTask(ctx, tx, t); err != nil {
				return fmt.Errorf("failed to sync task %s: %w", t.Title, err)
			}
		}
		// Edges go in once every task row exists, so mirrors can land.
		for _, t := range tasks {
			if err := importEdges(ctx, tx, t); err != nil {
				return fmt.Errorf("failed to sync dependencies of %s: %w", t.Title, err)
			}
		}
		return nil
	})
}

func (db *DB) allFeatures(ctx context.Context) ([]*models.Feature, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+featureColumns+` FROM features ORDER BY project_id, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var out []*models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func importFeature(ctx context.Context, tx *Tx, f *models.Feature) error {
	flows, err := json.Marshal(nonNil(f.UserFlows))
	if err != nil {
		return err
	}
	cases, err := json.Marshal(nonNil(f.TestCases))
	if err != nil {
		return err
	}
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO features (id, project_id, module_id, name, description, status, user_flows, test_cases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, module_id = excluded.module_id, name = excluded.name,
			description = excluded.description, status = excluded.status, user_flows = excluded.user_flows,
			test_cases = excluded.test_cases, created_at = excluded.created_at, updated_at = excluded.updated_at`,
		f.ID, f.ProjectID, f.ModuleID, f.Name, f.Description, f.Status, string(flows), string(cases), f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func importTask(ctx context.Context, tx *Tx, t *models.Task) error {
	reproved := 0
	if t.HasBeenReproved {
		reproved = 1
	}
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, assignee, feature_id, module_id,
		                   category_id, due_date, comments_count, has_been_reproved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, title = excluded.title, description = excluded.description,
			status = excluded.status, assignee = excluded.assignee, feature_id = excluded.feature_id,
			module_id = excluded.module_id, category_id = excluded.category_id, due_date = excluded.due_date,
			comments_count = excluded.comments_count, has_been_reproved = excluded.has_been_reproved,
			created_at = excluded.created_at, updated_at = excluded.updated_at`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Assignee, t.FeatureID, t.ModuleID,
		t.CategoryID, t.DueDate, t.CommentsCount, reproved, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, q := range []string{
		`DELETE FROM task_dependencies WHERE task_id = ?1 OR other_task_id = ?1`,
		`DELETE FROM time_logs WHERE task_id = ?1`,
	} {
		if _, err := tx.tx.ExecContext(ctx, q, t.ID); err != nil {
			return err
		}
	}
	for _, l := range t.TimeLogs {
		if err := tx.AppendTimeLog(ctx, t.ID, l); err != nil {
			return err
		}
	}
	return tx.db.replaceLinks(ctx, tx.tx, t)
}

// importEdges stores both halves of each of t's edges. Edges to tasks that
// are in neither the snapshot nor the store stay one-sided.
func importEdges(ctx context.Context, tx *Tx, t *models.Task) error {
	for _, d := range t.Dependencies {
		if !d.Type.Valid() {
			return apperr.Validation(apperr.ReasonInvalidCommand, "unknown dependency type %q", d.Type)
		}
		if d.TaskID == t.ID {
			return apperr.Validation(apperr.ReasonInvalidCommand, "task %s cannot depend on itself", t.Title)
		}
		if err := tx.AddEdge(ctx, t.ID, d.TaskID, d.Type); err != nil {
			return err
		}

		var exists int
		err := tx.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, d.TaskID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to look up task %s: %w", d.TaskID, err)
		}
		if exists == 0 {
			continue
		}
		if err := tx.AddEdge(ctx, d.TaskID, t.ID, d.Type.Inverse()); err != nil {
			return err
		}
	}
	return nil
}
