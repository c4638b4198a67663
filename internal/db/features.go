package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nick-dorsch/trellis/pkg/models"
)

const featureColumns = `id, project_id, module_id, name, description, status, user_flows, test_cases, created_at, updated_at`

func scanFeature(row rowScanner) (*models.Feature, error) {
	f := &models.Feature{}
	var flows, cases string
	err := row.Scan(
		&f.ID, &f.ProjectID, &f.ModuleID, &f.Name, &f.Description, &f.Status, &flows, &cases, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(flows), &f.UserFlows); err != nil {
		return nil, fmt.Errorf("failed to decode user flows: %w", err)
	}
	if err := json.Unmarshal([]byte(cases), &f.TestCases); err != nil {
		return nil, fmt.Errorf("failed to decode test cases: %w", err)
	}
	return f, nil
}

func (db *DB) CreateFeature(ctx context.Context, f *models.Feature) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		return tx.CreateFeature(ctx, f)
	})
}

// GetFeature returns nil, nil when the feature does not exist.
func (db *DB) GetFeature(ctx context.Context, id string) (*models.Feature, error) {
	return db.getFeature(ctx, db.DB, id)
}

func (db *DB) GetFeatureByName(ctx context.Context, projectID, name string) (*models.Feature, error) {
	return db.getFeatureByName(ctx, db.DB, projectID, name)
}

func (db *DB) ListFeatures(ctx context.Context, projectID string) ([]*models.Feature, error) {
	query := `SELECT ` + featureColumns + ` FROM features WHERE project_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	var features []*models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return features, nil
}

// UpdateFeature persists the descriptive fields of f. Status changes go
// through SetFeatureStatus.
func (db *DB) UpdateFeature(ctx context.Context, f *models.Feature) error {
	return db.RunInTx(ctx, func(tx *Tx) error {
		flows, err := json.Marshal(nonNil(f.UserFlows))
		if err != nil {
			return err
		}
		cases, err := json.Marshal(nonNil(f.TestCases))
		if err != nil {
			return err
		}
		f.UpdatedAt = db.Now()
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE features
			SET name = ?, description = ?, module_id = ?, user_flows = ?, test_cases = ?, updated_at = ?
			WHERE id = ?`,
			f.Name, f.Description, f.ModuleID, string(flows), string(cases), f.UpdatedAt, f.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update feature: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("feature not found: %s", f.ID)
		}
		return nil
	})
}

func (tx *Tx) CreateFeature(ctx context.Context, f *models.Feature) error {
	return tx.db.createFeature(ctx, tx.tx, f)
}

func (tx *Tx) GetFeature(ctx context.Context, id string) (*models.Feature, error) {
	return tx.db.getFeature(ctx, tx.tx, id)
}

func (tx *Tx) GetFeatureByName(ctx context.Context, projectID, name string) (*models.Feature, error) {
	return tx.db.getFeatureByName(ctx, tx.tx, projectID, name)
}

// SetFeatureStatus writes a new status for the feature.
func (tx *Tx) SetFeatureStatus(ctx context.Context, id string, status models.FeatureStatus) error {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE features SET status = ?, updated_at = ? WHERE id = ?`,
		status, tx.db.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update feature status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feature not found: %s", id)
	}
	return nil
}

// DetachFeature clears feature_id and module_id on every task linked to the
// feature and returns how many tasks were touched.
func (tx *Tx) DetachFeature(ctx context.Context, featureID string) (int64, error) {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE tasks SET feature_id = NULL, module_id = NULL, updated_at = ? WHERE feature_id = ?`,
		tx.db.Now(), featureID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to detach tasks from feature: %w", err)
	}
	return res.RowsAffected()
}

func (tx *Tx) DeleteFeature(ctx context.Context, id string) error {
	res, err := tx.tx.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feature: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("feature not found: %s", id)
	}
	return nil
}

func (db *DB) createFeature(ctx context.Context, exec executor, f *models.Feature) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.Status = models.FeatureStatusBacklog
	now := db.Now()
	f.CreatedAt = now
	f.UpdatedAt = now

	flows, err := json.Marshal(nonNil(f.UserFlows))
	if err != nil {
		return fmt.Errorf("failed to encode user flows: %w", err)
	}
	cases, err := json.Marshal(nonNil(f.TestCases))
	if err != nil {
		return fmt.Errorf("failed to encode test cases: %w", err)
	}

	query := `
		INSERT INTO features (id, project_id, module_id, name, description, status, user_flows, test_cases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = exec.ExecContext(ctx, query,
		f.ID, f.ProjectID, f.ModuleID, f.Name, f.Description, f.Status, string(flows), string(cases), f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create feature: %w", err)
	}
	return nil
}

func (db *DB) getFeature(ctx context.Context, exec executor, id string) (*models.Feature, error) {
	query := `SELECT ` + featureColumns + ` FROM features WHERE id = ?`
	f, err := scanFeature(exec.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}
	return f, nil
}

func (db *DB) getFeatureByName(ctx context.Context, exec executor, projectID, name string) (*models.Feature, error) {
	query := `SELECT ` + featureColumns + ` FROM features WHERE project_id = ? AND name = ?`
	f, err := scanFeature(exec.QueryRowContext(ctx, query, projectID, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature by name: %w", err)
	}
	return f, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
