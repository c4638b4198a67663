package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// NewFeature is the input to CreateFeature.
type NewFeature struct {
	Name        string `validate:"required,max=200"`
	Description string
	ModuleID    string
	UserFlows   []models.UserFlow
	TestCases   []models.TestCase
}

// CreateFeature creates a feature at backlog. Names are unique per project.
func (e *Engine) CreateFeature(ctx context.Context, actor models.Actor, projectID string, in NewFeature) (feature *models.Feature, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "create_feature", start, err) }()

	if err := requireActor(actor, projectID); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Validation(apperr.ReasonInvalidCommand, "create feature: %s", describe(err))
	}

	f := &models.Feature{
		ProjectID:   projectID,
		ModuleID:    in.ModuleID,
		Name:        in.Name,
		Description: in.Description,
		UserFlows:   in.UserFlows,
		TestCases:   in.TestCases,
	}
	err = e.db.RunInTx(ctx, func(tx *db.Tx) error {
		existing, err := tx.GetFeatureByName(ctx, projectID, f.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Validation(apperr.ReasonInvalidCommand, "feature %q already exists", f.Name)
		}
		return tx.CreateFeature(ctx, f)
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	e.log.InfoContext(ctx, "feature created", "feature_id", f.ID, "project_id", projectID)
	e.activity.Record(ctx, actor, models.ActivityFeatureCreated, projectID, nil,
		fmt.Sprintf("%s created feature %q", actor.Name(), f.Name))
	return f, nil
}

// featureAction is a manual feature status change that may also move the
// feature's tasks.
type featureAction struct {
	op string
	to models.FeatureStatus
	// requires, when set, is the only status the feature may be in.
	requires models.FeatureStatus
	// moveTask changes a task in place and reports whether it changed.
	moveTask func(t *models.Task) bool
}

type movedTask struct {
	from models.TaskStatus
	task *models.Task
}

// ApproveFeature approves the feature and every one of its tasks that is
// in testing.
func (e *Engine) ApproveFeature(ctx context.Context, actor models.Actor, projectID, featureID string) (*models.Feature, error) {
	return e.featureAction(ctx, actor, projectID, featureID, featureAction{
		op: "approve_feature",
		to: models.FeatureStatusApproved,
		moveTask: func(t *models.Task) bool {
			if t.Status != models.TaskStatusInTesting {
				return false
			}
			t.Status = models.TaskStatusApproved
			return true
		},
	})
}

// ReproveFeature sends the feature back to development. Every task in
// testing returns to todo flagged as reproved.
func (e *Engine) ReproveFeature(ctx context.Context, actor models.Actor, projectID, featureID string) (*models.Feature, error) {
	return e.featureAction(ctx, actor, projectID, featureID, featureAction{
		op: "reprove_feature",
		to: models.FeatureStatusInDevelopment,
		moveTask: func(t *models.Task) bool {
			if t.Status != models.TaskStatusInTesting {
				return false
			}
			t.Status = models.TaskStatusTodo
			t.HasBeenReproved = true
			return true
		},
	})
}

// ReleaseFeature marks an approved feature as released.
func (e *Engine) ReleaseFeature(ctx context.Context, actor models.Actor, projectID, featureID string) (*models.Feature, error) {
	return e.featureAction(ctx, actor, projectID, featureID, featureAction{
		op:       "release_feature",
		to:       models.FeatureStatusReleased,
		requires: models.FeatureStatusApproved,
	})
}

func (e *Engine) featureAction(ctx context.Context, actor models.Actor, projectID, featureID string, a featureAction) (feature *models.Feature, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, a.op, start, err) }()

	if err := requireActor(actor, projectID); err != nil {
		return nil, err
	}

	var (
		from  models.FeatureStatus
		moved []movedTask
	)
	err = e.db.RunInTx(ctx, func(tx *db.Tx) error {
		moved = nil
		f, err := loadFeature(ctx, tx, projectID, featureID)
		if err != nil {
			return err
		}
		if a.requires != "" && f.Status != a.requires {
			return apperr.Validation(apperr.ReasonInvalidState,
				"feature %q is %s, it must be %s", f.Name, f.Status, a.requires)
		}
		from = f.Status

		if a.moveTask != nil {
			tasks, err := tx.ListFeatureTasks(ctx, f.ID)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				prev := t.Status
				if !a.moveTask(t) {
					continue
				}
				if err := tx.UpdateTask(ctx, t); err != nil {
					return err
				}
				moved = append(moved, movedTask{from: prev, task: t})
			}
		}

		if f.Status != a.to {
			if err := tx.SetFeatureStatus(ctx, f.ID, a.to); err != nil {
				return err
			}
		}
		feature, err = tx.GetFeature(ctx, f.ID)
		return err
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	for _, m := range moved {
		e.metrics.TaskTransition(string(m.from), string(m.task.Status))
		typ := models.ActivityTaskStatusChanged
		if m.task.Status.PreQA() {
			typ = models.ActivityTaskReproved
		}
		e.activity.Record(ctx, actor, typ, projectID, &m.task.ID,
			fmt.Sprintf("%s moved %q from %s to %s with feature %q", actor.Name(), m.task.Title, m.from, m.task.Status, feature.Name))
	}
	if from != feature.Status {
		e.reportFeature(ctx, actor, feature, from, TriggerManual)
	}
	return feature, nil
}

// ApproveTask approves one task of a feature. When the task was the last of
// the feature's tasks still short of approved, the feature is approved too.
func (e *Engine) ApproveTask(ctx context.Context, actor models.Actor, projectID, taskID, featureID string) (*models.Task, error) {
	p := pipeline{
		op:        "approve_task",
		rules:     withRules(ApprovalRule),
		featureID: featureID,
	}
	return e.run(ctx, actor, projectID, taskID, p, []Command{ChangeStatus{Status: models.TaskStatusApproved}})
}

// ReproveTask fails one task of a feature in QA. The feedback is attached
// as a comment, the task returns to todo flagged as reproved and the feature
// goes back to development. The assignee is notified.
func (e *Engine) ReproveTask(ctx context.Context, actor models.Actor, projectID, taskID, featureID, feedback string) (*models.Task, error) {
	feedback = strings.TrimSpace(feedback)
	p := pipeline{
		op:        "reprove_task",
		rules:     withRules(failFeatureRule),
		featureID: featureID,
		inTx: func(ctx context.Context, tx *db.Tx, o *outcome) error {
			if feedback == "" {
				return nil
			}
			return tx.AddComment(ctx, &models.Comment{TaskID: o.after.ID, AuthorID: actor.ID, Content: feedback})
		},
		after: func(ctx context.Context, o *outcome) {
			assignee := models.Deref(o.after.Assignee)
			if assignee == "" || assignee == actor.ID {
				return
			}
			msg := fmt.Sprintf("%s sent %q back from QA", actor.Name(), o.after.Title)
			if feedback != "" {
				msg += ": " + feedback
			}
			e.activity.Notify(ctx, assignee, models.NotificationQAFeedback, msg, o.after.ID, featureID)
		},
	}
	return e.run(ctx, actor, projectID, taskID, p, []Command{ChangeStatus{Status: models.TaskStatusTodo}})
}

// DeleteFeature deletes the feature and unlinks every task that referenced
// it in the same transaction. Task statuses are left as they are.
func (e *Engine) DeleteFeature(ctx context.Context, actor models.Actor, projectID, featureID string) (err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "delete_feature", start, err) }()

	if err := requireActor(actor, projectID); err != nil {
		return err
	}

	var (
		name     string
		detached int64
	)
	err = e.db.RunInTx(ctx, func(tx *db.Tx) error {
		f, err := loadFeature(ctx, tx, projectID, featureID)
		if err != nil {
			return err
		}
		name = f.Name
		if detached, err = tx.DetachFeature(ctx, f.ID); err != nil {
			return err
		}
		return tx.DeleteFeature(ctx, f.ID)
	})
	if err != nil {
		return wrapStore(err)
	}

	e.log.InfoContext(ctx, "feature deleted", "feature_id", featureID, "detached_tasks", detached)
	e.activity.Record(ctx, actor, models.ActivityFeatureDeleted, projectID, nil,
		fmt.Sprintf("%s deleted feature %q (%d tasks unlinked)", actor.Name(), name, detached))
	return nil
}

func loadFeature(ctx context.Context, tx *db.Tx, projectID, featureID string) (*models.Feature, error) {
	f, err := tx.GetFeature(ctx, featureID)
	if err != nil {
		return nil, err
	}
	if f == nil || f.ProjectID != projectID {
		return nil, apperr.NotFound(apperr.CodeFeatureNotFound, "feature %s not found in project %s", featureID, projectID)
	}
	return f, nil
}
