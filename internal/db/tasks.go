package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nick-dorsch/trellis/pkg/models"
)

const taskColumns = `
	t.id, t.project_id, t.title, t.description, t.status, t.assignee, t.feature_id, t.module_id,
	t.category_id, t.due_date, t.comments_count, t.has_been_reproved, t.created_at, t.updated_at`

// TaskFilter narrows ListTasks. Zero-valued fields are ignored.
type TaskFilter struct {
	ProjectID string
	Status    *models.TaskStatus
	FeatureID *string
	Assignee  *string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var reproved int
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Assignee, &t.FeatureID, &t.ModuleID,
		&t.CategoryID, &t.DueDate, &t.CommentsCount, &reproved, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.HasBeenReproved = reproved == 1
	return t, nil
}

// CreateTask inserts a new task. If t.ID is empty a new UUID is generated.
// New tasks always start at todo.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		return tx.CreateTask(ctx, t)
	})
}

// GetTask retrieves a task by its ID, with edges, time logs and links.
// It returns nil, nil when the task does not exist.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return db.getTask(ctx, db.DB, id)
}

// ListTasks returns tasks matching filter, oldest first.
func (db *DB) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	return db.listTasks(ctx, db.DB, filter)
}

// UpdateTask persists the scalar fields and links of t.
func (db *DB) UpdateTask(ctx context.Context, t *models.Task) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		return tx.UpdateTask(ctx, t)
	})
}

// DeleteTask deletes a task by its ID. Its own edges, time logs, links and
// comments go with it; edges stored on other tasks are left in place.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		return tx.DeleteTask(ctx, id)
	})
}

func (tx *Tx) CreateTask(ctx context.Context, t *models.Task) error {
	return tx.db.createTask(ctx, tx.tx, t)
}

func (tx *Tx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return tx.db.getTask(ctx, tx.tx, id)
}

func (tx *Tx) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	return tx.db.listTasks(ctx, tx.tx, filter)
}

// ListFeatureTasks returns every task linked to the feature.
func (tx *Tx) ListFeatureTasks(ctx context.Context, featureID string) ([]*models.Task, error) {
	return tx.db.listTasks(ctx, tx.tx, TaskFilter{FeatureID: &featureID})
}

func (tx *Tx) UpdateTask(ctx context.Context, t *models.Task) error {
	return tx.db.updateTask(ctx, tx.tx, t)
}

func (tx *Tx) DeleteTask(ctx context.Context, id string) error {
	return tx.db.deleteTask(ctx, tx.tx, id)
}

// TaskStatuses returns the current status of each task in ids that exists.
func (tx *Tx) TaskStatuses(ctx context.Context, ids []string) (map[string]models.TaskStatus, error) {
	return tx.db.taskStatuses(ctx, tx.tx, ids)
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Status = models.TaskStatusTodo
	now := db.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO tasks (id, project_id, title, description, status, assignee, feature_id, module_id,
		                   category_id, due_date, comments_count, has_been_reproved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	`
	_, err := exec.ExecContext(ctx, query,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Assignee, t.FeatureID, t.ModuleID,
		t.CategoryID, t.DueDate, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return db.replaceLinks(ctx, exec, t)
}

func (db *DB) getTask(ctx context.Context, exec executor, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.id = ?`
	t, err := scanTask(exec.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if err := db.hydrateTasks(ctx, exec, []*models.Task{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) listTasks(ctx context.Context, exec executor, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE 1=1`
	args := []any{}

	if filter.ProjectID != "" {
		query += " AND t.project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		query += " AND t.status = ?"
		args = append(args, *filter.Status)
	}
	if filter.FeatureID != nil {
		query += " AND t.feature_id = ?"
		args = append(args, *filter.FeatureID)
	}
	if filter.Assignee != nil {
		query += " AND t.assignee = ?"
		args = append(args, *filter.Assignee)
	}

	query += " ORDER BY t.created_at ASC, t.id ASC"

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if err := db.hydrateTasks(ctx, exec, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// hydrateTasks loads the array-valued fields of tasks in three queries.
func (db *DB) hydrateTasks(ctx context.Context, exec executor, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[string]*models.Task, len(tasks))
	ids := make([]any, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
		t.Dependencies = []models.Dependency{}
		t.TimeLogs = []models.TimeLog{}
		t.Links = []models.Link{}
	}
	in := placeholders(len(ids))

	err := eachRow(ctx, exec, `
		SELECT task_id, other_task_id, type FROM task_dependencies
		WHERE task_id IN (`+in+`) ORDER BY rowid`, ids, func(rows *sql.Rows) error {
		var taskID string
		var d models.Dependency
		if err := rows.Scan(&taskID, &d.TaskID, &d.Type); err != nil {
			return err
		}
		byID[taskID].Dependencies = append(byID[taskID].Dependencies, d)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load dependencies: %w", err)
	}

	err = eachRow(ctx, exec, `
		SELECT task_id, user_id, duration_seconds, logged_at FROM time_logs
		WHERE task_id IN (`+in+`) ORDER BY id`, ids, func(rows *sql.Rows) error {
		var taskID string
		var l models.TimeLog
		if err := rows.Scan(&taskID, &l.UserID, &l.DurationInSeconds, &l.LoggedAt); err != nil {
			return err
		}
		byID[taskID].TimeLogs = append(byID[taskID].TimeLogs, l)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load time logs: %w", err)
	}

	err = eachRow(ctx, exec, `
		SELECT task_id, id, url, title FROM task_links
		WHERE task_id IN (`+in+`) ORDER BY position`, ids, func(rows *sql.Rows) error {
		var taskID string
		var l models.Link
		if err := rows.Scan(&taskID, &l.ID, &l.URL, &l.Title); err != nil {
			return err
		}
		byID[taskID].Links = append(byID[taskID].Links, l)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load links: %w", err)
	}

	return nil
}

func (db *DB) updateTask(ctx context.Context, exec executor, t *models.Task) error {
	reproved := 0
	if t.HasBeenReproved {
		reproved = 1
	}
	t.UpdatedAt = db.Now()

	query := `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, assignee = ?, feature_id = ?, module_id = ?,
		    category_id = ?, due_date = ?, has_been_reproved = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := exec.ExecContext(ctx, query,
		t.Title, t.Description, t.Status, t.Assignee, t.FeatureID, t.ModuleID,
		t.CategoryID, t.DueDate, reproved, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", t.ID)
	}

	return db.replaceLinks(ctx, exec, t)
}

func (db *DB) replaceLinks(ctx context.Context, exec executor, t *models.Task) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM task_links WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to clear links: %w", err)
	}
	for i := range t.Links {
		if t.Links[i].ID == "" {
			t.Links[i].ID = uuid.New().String()
		}
		_, err := exec.ExecContext(ctx,
			`INSERT INTO task_links (id, task_id, url, title, position) VALUES (?, ?, ?, ?, ?)`,
			t.Links[i].ID, t.ID, t.Links[i].URL, t.Links[i].Title, i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert link: %w", err)
		}
	}
	return nil
}

func (db *DB) deleteTask(ctx context.Context, exec executor, id string) error {
	res, err := exec.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

func (db *DB) taskStatuses(ctx context.Context, exec executor, ids []string) (map[string]models.TaskStatus, error) {
	statuses := make(map[string]models.TaskStatus, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	err := eachRow(ctx, exec, `SELECT id, status FROM tasks WHERE id IN (`+placeholders(len(ids))+`)`, args,
		func(rows *sql.Rows) error {
			var id string
			var status models.TaskStatus
			if err := rows.Scan(&id, &status); err != nil {
				return err
			}
			statuses[id] = status
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load task statuses: %w", err)
	}
	return statuses, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func eachRow(ctx context.Context, exec executor, query string, args []any, fn func(rows *sql.Rows) error) error {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
