// Package workflow is the task and feature lifecycle engine. Every operation
// validates its input, evaluates the cascade rules against the stored state
// and persists the primary change together with its side effects in a single
// transaction. Activity records and notifications are emitted after commit.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nick-dorsch/trellis/internal/activity"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/internal/timetrack"
	"github.com/nick-dorsch/trellis/pkg/models"
)

type Engine struct {
	db       *db.DB
	timer    *timetrack.Tracker
	log      *log.Logger
	metrics  *metrics.Metrics
	activity *activity.Recorder
}

// NewEngine wires an engine to database. A nil tracker, logger or recorder
// is replaced by one built on database; a nil metrics disables metrics.
func NewEngine(database *db.DB, tracker *timetrack.Tracker, logger *log.Logger, m *metrics.Metrics, recorder *activity.Recorder) *Engine {
	if logger == nil {
		logger = log.Discard()
	}
	if recorder == nil {
		recorder = activity.NewRecorder(database, logger, m)
	}
	if tracker == nil {
		tracker = timetrack.NewTracker(database, logger, m, recorder)
	}
	return &Engine{db: database, timer: tracker, log: logger, metrics: m, activity: recorder}
}

// Timer returns the tracker used for status-change timer stops.
func (e *Engine) Timer() *timetrack.Tracker {
	return e.timer
}

// pipeline configures one run of the task update pipeline.
type pipeline struct {
	op    string
	rules []Rule
	// featureID, when set, must match the task's feature.
	featureID string
	// inTx runs inside the transaction before the task row is written.
	inTx func(ctx context.Context, tx *db.Tx, o *outcome) error
	// after runs once the transaction has committed.
	after func(ctx context.Context, o *outcome)
}

type stoppedTimer struct {
	userID string
	*timetrack.Stopped
}

// outcome is everything a committed update changed.
type outcome struct {
	before      models.Task
	after       *models.Task
	feature     *models.Feature
	featureFrom models.FeatureStatus
	plan        Plan
	stopped     []stoppedTimer
}

// TransitionTask applies cmds to the task, enforcing the status rules and
// running the cascade rules. Either everything is written or nothing is.
func (e *Engine) TransitionTask(ctx context.Context, actor models.Actor, projectID, taskID string, cmds ...Command) (*models.Task, error) {
	return e.run(ctx, actor, projectID, taskID, pipeline{op: "transition_task", rules: cascadeRules}, cmds)
}

func (e *Engine) run(ctx context.Context, actor models.Actor, projectID, taskID string, p pipeline, cmds []Command) (task *models.Task, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, p.op, start, err) }()

	if err := requireActor(actor, projectID); err != nil {
		return nil, err
	}
	if err := ValidateCommands(cmds...); err != nil {
		return nil, err
	}

	var o *outcome
	err = e.db.RunInTx(ctx, func(tx *db.Tx) error {
		var err error
		o, err = e.evaluate(ctx, tx, projectID, taskID, p, cmds)
		if err != nil {
			return err
		}
		return e.persist(ctx, tx, o, p)
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	e.report(ctx, actor, o)
	if p.after != nil {
		p.after(ctx, o)
	}
	return o.after, nil
}

// evaluate loads the task, applies the commands to a copy, checks the status
// rules and runs the cascade rules. It writes nothing.
func (e *Engine) evaluate(ctx context.Context, tx *db.Tx, projectID, taskID string, p pipeline, cmds []Command) (*outcome, error) {
	before, err := loadTask(ctx, tx, projectID, taskID)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	for _, cmd := range cmds {
		cmd.apply(&after)
	}

	feature, err := resolveFeature(ctx, tx, &after)
	if err != nil {
		return nil, err
	}
	if p.featureID != "" && models.Deref(after.FeatureID) != p.featureID {
		return nil, apperr.Validation(apperr.ReasonInvalidCommand,
			"task %s does not belong to feature %s", taskID, p.featureID)
	}

	statuses, err := tx.TaskStatuses(ctx, after.BlockedBy())
	if err != nil {
		return nil, err
	}
	lookup := func(id string) (models.TaskStatus, bool) {
		s, ok := statuses[id]
		return s, ok
	}
	if err := CheckTransition(&after, before.Status, lookup); err != nil {
		return nil, err
	}

	change := &Change{Before: *before, After: &after, Feature: feature}
	if feature != nil {
		tasks, err := tx.ListFeatureTasks(ctx, feature.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.ID != after.ID {
				change.Siblings = append(change.Siblings, t)
			}
		}
	}

	o := &outcome{before: *before, after: &after, feature: feature}
	for _, rule := range p.rules {
		rule(change, &o.plan)
	}
	return o, nil
}

// persist writes the plan: timers first, then the task, then the feature.
func (e *Engine) persist(ctx context.Context, tx *db.Tx, o *outcome, p pipeline) error {
	for _, userID := range o.plan.StopTimers {
		s, err := e.timer.StopInTx(ctx, tx, userID, o.after.ID)
		if err != nil {
			return err
		}
		if s != nil {
			o.stopped = append(o.stopped, stoppedTimer{userID: userID, Stopped: s})
		}
	}

	if p.inTx != nil {
		if err := p.inTx(ctx, tx, o); err != nil {
			return err
		}
	}

	if err := tx.UpdateTask(ctx, o.after); err != nil {
		return err
	}

	if o.feature != nil && o.plan.FeatureStatus != "" && o.plan.FeatureStatus != o.feature.Status {
		if err := tx.SetFeatureStatus(ctx, o.feature.ID, o.plan.FeatureStatus); err != nil {
			return err
		}
		o.featureFrom = o.feature.Status
		o.feature.Status = o.plan.FeatureStatus
	}

	fresh, err := tx.GetTask(ctx, o.after.ID)
	if err != nil {
		return err
	}
	o.after = fresh
	return nil
}

// report emits metrics, logs and activity for a committed outcome.
func (e *Engine) report(ctx context.Context, actor models.Actor, o *outcome) {
	t := o.after
	for _, st := range o.stopped {
		e.timer.Stopped(ctx, models.Actor{ID: st.userID}, st.Stopped, timetrack.TriggerStatusChange)
	}

	if from, to := o.before.Status, t.Status; from != to {
		e.metrics.TaskTransition(string(from), string(to))
		e.log.InfoContext(ctx, "task transitioned",
			"task_id", t.ID, "from", string(from), "to", string(to), "actor", actor.ID)

		typ := models.ActivityTaskStatusChanged
		msg := fmt.Sprintf("%s moved %q from %s to %s", actor.Name(), t.Title, from, to)
		if o.plan.Reproved {
			typ = models.ActivityTaskReproved
			msg = fmt.Sprintf("%s sent %q back to %s", actor.Name(), t.Title, to)
		}
		e.activity.Record(ctx, actor, typ, t.ProjectID, &t.ID, msg)
	}

	if o.featureFrom != "" {
		e.reportFeature(ctx, actor, o.feature, o.featureFrom, o.plan.FeatureTrigger)
	}

	if assignee := models.Deref(t.Assignee); assignee != "" && assignee != models.Deref(o.before.Assignee) {
		e.activity.Record(ctx, actor, models.ActivityTaskAssigned, t.ProjectID, &t.ID,
			fmt.Sprintf("%s assigned %q to %s", actor.Name(), t.Title, assignee))
		if assignee != actor.ID {
			e.activity.Notify(ctx, assignee, models.NotificationAssigned,
				fmt.Sprintf("%s assigned you %q", actor.Name(), t.Title), t.ID)
		}
	}
}

func (e *Engine) reportFeature(ctx context.Context, actor models.Actor, f *models.Feature, from models.FeatureStatus, trigger string) {
	e.metrics.FeatureTransition(string(from), string(f.Status), trigger)
	e.log.InfoContext(ctx, "feature transitioned",
		"feature_id", f.ID, "from", string(from), "to", string(f.Status), "trigger", trigger)
	e.activity.Record(ctx, actor, models.ActivityFeatureStatus, f.ProjectID, nil,
		fmt.Sprintf("feature %q moved from %s to %s", f.Name, from, f.Status))
}

func (e *Engine) observe(ctx context.Context, op string, start time.Time, err error) {
	e.metrics.ObserveOperation(op, start, err)
	if err == nil {
		return
	}
	if reason := apperr.ReasonOf(err); reason != "" {
		e.metrics.Rejected(string(reason))
		e.log.DebugContext(ctx, "operation rejected", "operation", op, "reason", string(reason), "error", err.Error())
		return
	}
	e.log.WithError(err).WarnContext(ctx, "operation failed", "operation", op)
}

// NewTask is the input to CreateTask.
type NewTask struct {
	Title       string `validate:"required,max=200"`
	Description string
	FeatureID   string
	CategoryID  string
	Assignee    string
	DueDate     *time.Time
	Links       []models.Link
}

// CreateTask creates a task at todo. The module is derived from the feature.
func (e *Engine) CreateTask(ctx context.Context, actor models.Actor, projectID string, in NewTask) (task *models.Task, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "create_task", start, err) }()

	if err := requireActor(actor, projectID); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Validation(apperr.ReasonInvalidCommand, "create task: %s", describe(err))
	}

	t := &models.Task{
		ProjectID:   projectID,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Links:       in.Links,
	}
	if in.FeatureID != "" {
		t.FeatureID = models.StringPtr(in.FeatureID)
	}
	if in.CategoryID != "" {
		t.CategoryID = models.StringPtr(in.CategoryID)
	}
	if in.Assignee != "" {
		t.Assignee = models.StringPtr(in.Assignee)
	}

	err = e.db.RunInTx(ctx, func(tx *db.Tx) error {
		if _, err := resolveFeature(ctx, tx, t); err != nil {
			return err
		}
		return tx.CreateTask(ctx, t)
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	e.log.InfoContext(ctx, "task created", "task_id", t.ID, "project_id", projectID)
	e.activity.Record(ctx, actor, models.ActivityTaskCreated, projectID, &t.ID,
		fmt.Sprintf("%s created %q", actor.Name(), t.Title))
	if in.Assignee != "" && in.Assignee != actor.ID {
		e.activity.Notify(ctx, in.Assignee, models.NotificationAssigned,
			fmt.Sprintf("%s assigned you %q", actor.Name(), t.Title), t.ID)
	}
	return t, nil
}

// DeleteTask removes the task and its own edges. Edges on other tasks that
// point at it are left in place and no longer block.
func (e *Engine) DeleteTask(ctx context.Context, actor models.Actor, projectID, taskID string) (err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "delete_task", start, err) }()

	if err := requireActor(actor, projectID); err != nil {
		return err
	}

	var title string
	err = e.db.RunInTx(ctx, func(tx *db.Tx) error {
		t, err := loadTask(ctx, tx, projectID, taskID)
		if err != nil {
			return err
		}
		title = t.Title
		return tx.DeleteTask(ctx, taskID)
	})
	if err != nil {
		return wrapStore(err)
	}

	e.activity.Record(ctx, actor, models.ActivityTaskDeleted, projectID, &taskID,
		fmt.Sprintf("%s deleted %q", actor.Name(), title))
	return nil
}

func requireActor(actor models.Actor, projectID string) error {
	if actor.ID == "" {
		return apperr.Validation(apperr.ReasonInvalidCommand, "acting user is required")
	}
	if projectID == "" {
		return apperr.Validation(apperr.ReasonInvalidCommand, "project is required")
	}
	return nil
}

func loadTask(ctx context.Context, tx *db.Tx, projectID, taskID string) (*models.Task, error) {
	t, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.ProjectID != projectID {
		return nil, apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found in project %s", taskID, projectID)
	}
	return t, nil
}

// resolveFeature loads the feature t links to and derives t's module from
// it. It returns nil when t has no feature.
func resolveFeature(ctx context.Context, tx *db.Tx, t *models.Task) (*models.Feature, error) {
	if !t.HasFeature() {
		t.ModuleID = nil
		return nil, nil
	}
	f, err := tx.GetFeature(ctx, *t.FeatureID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound(apperr.CodeFeatureNotFound, "feature %s not found", *t.FeatureID)
	}
	if f.ProjectID != t.ProjectID {
		return nil, apperr.Validation(apperr.ReasonInvalidCommand,
			"feature %s belongs to another project", f.ID)
	}
	if t.ModuleID == nil && f.ModuleID != "" {
		t.ModuleID = models.StringPtr(f.ModuleID)
	}
	return f, nil
}

// wrapStore passes coded errors through and wraps anything else as a store
// failure.
func wrapStore(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Store(err)
}
