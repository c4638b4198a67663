package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nick-dorsch/trellis/pkg/models"
)

// GetUser returns nil, nil for users the store has never seen.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	return db.getUser(ctx, db.DB, id)
}

// UpsertUser records a user's display name, leaving any timer untouched.
func (db *DB) UpsertUser(ctx context.Context, u *models.User) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		return tx.db.upsertUser(ctx, tx.tx, u.ID, u.DisplayName)
	})
}

// SetActiveTimer writes the user's active timer, creating the user row if
// needed. It does not check for an existing timer.
func (db *DB) SetActiveTimer(ctx context.Context, userID string, timer models.ActiveTimer) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		if err := tx.db.upsertUser(ctx, tx.tx, userID, ""); err != nil {
			return err
		}
		_, err := tx.tx.ExecContext(ctx, `
			UPDATE users SET timer_project_id = ?, timer_task_id = ?, timer_start_time = ?
			WHERE id = ?`,
			timer.ProjectID, timer.TaskID, timer.StartTime.UTC(), userID,
		)
		if err != nil {
			return fmt.Errorf("failed to set active timer: %w", err)
		}
		return nil
	})
}

func (tx *Tx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return tx.db.getUser(ctx, tx.tx, id)
}

// ClearActiveTimer removes the user's active timer, if any.
func (tx *Tx) ClearActiveTimer(ctx context.Context, userID string) error {
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE users SET timer_project_id = NULL, timer_task_id = NULL, timer_start_time = NULL
		WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear active timer: %w", err)
	}
	return nil
}

// AppendTimeLog adds a time log entry to the task.
func (tx *Tx) AppendTimeLog(ctx context.Context, taskID string, l models.TimeLog) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO time_logs (task_id, user_id, duration_seconds, logged_at) VALUES (?, ?, ?, ?)`,
		taskID, l.UserID, l.DurationInSeconds, l.LoggedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append time log: %w", err)
	}
	return nil
}

func (db *DB) getUser(ctx context.Context, exec executor, id string) (*models.User, error) {
	u := &models.User{}
	var projectID, taskID sql.NullString
	var start sql.NullTime
	err := exec.QueryRowContext(ctx, `
		SELECT id, display_name, timer_project_id, timer_task_id, timer_start_time
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &projectID, &taskID, &start)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if taskID.Valid && start.Valid {
		u.ActiveTimer = &models.ActiveTimer{
			ProjectID: projectID.String,
			TaskID:    taskID.String,
			StartTime: start.Time.In(time.UTC),
		}
	}
	return u, nil
}

func (db *DB) upsertUser(ctx context.Context, exec executor, id, displayName string) error {
	query := `
		INSERT INTO users (id, display_name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = CASE
			WHEN excluded.display_name = '' THEN users.display_name
			ELSE excluded.display_name
		END
	`
	if _, err := exec.ExecContext(ctx, query, id, displayName); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
