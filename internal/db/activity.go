package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// AddComment stores a comment and increments the task's comment counter.
func (tx *Tx) AddComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = tx.db.Now()

	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO comments (id, task_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.AuthorID, c.Content, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}

	res, err := tx.tx.ExecContext(ctx,
		`UPDATE tasks SET comments_count = comments_count + 1, updated_at = ? WHERE id = ?`,
		c.CreatedAt, c.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to bump comment count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", c.TaskID)
	}
	return nil
}

func (db *DB) AddComment(ctx context.Context, c *models.Comment) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		return tx.AddComment(ctx, c)
	})
}

func (db *DB) ListComments(ctx context.Context, taskID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := eachRow(ctx, db.DB,
		`SELECT id, task_id, author_id, content, created_at FROM comments WHERE task_id = ? ORDER BY created_at, rowid`,
		[]any{taskID}, func(rows *sql.Rows) error {
			c := &models.Comment{}
			if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
				return err
			}
			comments = append(comments, c)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// InsertActivity appends a record to the activity log. It runs outside any
// engine transaction and does not notify subscribers.
func (db *DB) InsertActivity(ctx context.Context, a *models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = db.Now()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO activity_log (id, type, project_id, task_id, message, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.ProjectID, a.TaskID, a.Message, a.User, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the project's most recent activity, newest first.
func (db *DB) ListActivity(ctx context.Context, projectID string, limit int) ([]*models.Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []*models.Activity
	err := eachRow(ctx, db.DB, `
		SELECT id, type, project_id, task_id, message, user_id, created_at
		FROM activity_log WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		[]any{projectID, limit}, func(rows *sql.Rows) error {
			a := &models.Activity{}
			if err := rows.Scan(&a.ID, &a.Type, &a.ProjectID, &a.TaskID, &a.Message, &a.User, &a.CreatedAt); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return out, nil
}

// InsertNotification stores a notification for its recipient.
func (db *DB) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = db.Now()
	}

	related, err := json.Marshal(nonNil(n.RelatedIDs))
	if err != nil {
		return fmt.Errorf("failed to encode related ids: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_user_id, type, message, related_ids, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.RecipientUserID, n.Type, n.Message, string(related), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `
		SELECT id, recipient_user_id, type, message, related_ids, read, created_at
		FROM notifications WHERE recipient_user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	var out []*models.Notification
	err := eachRow(ctx, db.DB, query, []any{userID}, func(rows *sql.Rows) error {
		n := &models.Notification{}
		var related string
		var read int
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.Type, &n.Message, &related, &read, &n.CreatedAt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(related), &n.RelatedIDs); err != nil {
			return err
		}
		n.Read = read == 1
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationsRead flags all of a user's notifications as read.
func (db *DB) MarkNotificationsRead(ctx context.Context, userID string) error {
	if _, err := db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE recipient_user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}
