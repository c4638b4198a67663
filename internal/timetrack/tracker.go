// Package timetrack runs per-user task timers and turns them into time logs.
package timetrack

import (
	"context"
	"fmt"
	"time"

	"github.com/nick-dorsch/trellis/internal/activity"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// Stop triggers, used as a metrics label.
const (
	TriggerManual       = "manual"
	TriggerStatusChange = "status_change"
)

type Tracker struct {
	db       *db.DB
	log      *log.Logger
	metrics  *metrics.Metrics
	activity *activity.Recorder
}

func NewTracker(database *db.DB, logger *log.Logger, m *metrics.Metrics, recorder *activity.Recorder) *Tracker {
	if logger == nil {
		logger = log.Discard()
	}
	if recorder == nil {
		recorder = activity.NewRecorder(database, logger, m)
	}
	return &Tracker{db: database, log: logger, metrics: m, activity: recorder}
}

// Start begins a timer for user on taskID. It fails with a conflict error if
// the user already has a running timer. The check and the write are separate
// statements, so two concurrent starts by the same user can both succeed.
func (t *Tracker) Start(ctx context.Context, user models.Actor, taskID, projectID string) (*models.ActiveTimer, error) {
	if user.ID == "" || taskID == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidCommand, "user and task are required")
	}

	u, err := t.db.GetUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if u != nil && u.ActiveTimer != nil {
		return nil, apperr.Conflict(apperr.CodeTimerRunning,
			"a timer is already running on task %s", u.ActiveTimer.TaskID)
	}

	task, err := t.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if task == nil {
		return nil, apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found", taskID)
	}
	if projectID == "" {
		projectID = task.ProjectID
	}
	if task.ProjectID != projectID {
		return nil, apperr.Validation(apperr.ReasonInvalidCommand, "task %s is not in project %s", taskID, projectID)
	}

	if user.DisplayName != "" {
		if err := t.db.UpsertUser(ctx, &models.User{ID: user.ID, DisplayName: user.DisplayName}); err != nil {
			return nil, apperr.Store(err)
		}
	}

	timer := models.ActiveTimer{ProjectID: projectID, TaskID: taskID, StartTime: t.db.Now()}
	if err := t.db.SetActiveTimer(ctx, user.ID, timer); err != nil {
		return nil, apperr.Store(err)
	}

	t.log.DebugContext(ctx, "timer started", "user_id", user.ID, "task_id", taskID)
	return &timer, nil
}

// Stop ends the user's running timer and logs the elapsed whole seconds on
// its task. It returns nil when no timer was running or nothing was logged.
func (t *Tracker) Stop(ctx context.Context, user models.Actor) (*models.TimeLog, error) {
	var stopped *Stopped
	err := t.db.RunInTx(ctx, func(tx *db.Tx) error {
		var err error
		stopped, err = t.StopInTx(ctx, tx, user.ID, "")
		return err
	})
	if err != nil {
		return nil, apperr.Store(err)
	}
	if stopped == nil {
		return nil, nil
	}

	t.Stopped(ctx, user, stopped, TriggerManual)
	return stopped.Log, nil
}

// Stopped describes a timer that StopInTx closed. Log is nil when the
// elapsed time floored to zero seconds.
type Stopped struct {
	ProjectID string
	TaskID    string
	Log       *models.TimeLog
}

// StopInTx stops the user's timer inside tx, reading the timer as of the
// transaction. When onlyTaskID is set, a timer on another task is left
// running. It returns nil when nothing was stopped.
func (t *Tracker) StopInTx(ctx context.Context, tx *db.Tx, userID, onlyTaskID string) (*Stopped, error) {
	u, err := tx.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ActiveTimer == nil {
		return nil, nil
	}
	timer := u.ActiveTimer
	if onlyTaskID != "" && timer.TaskID != onlyTaskID {
		return nil, nil
	}

	now := tx.Now()
	stopped := &Stopped{ProjectID: timer.ProjectID, TaskID: timer.TaskID}

	seconds := Elapsed(timer.StartTime, now)
	if seconds > 0 {
		task, err := tx.GetTask(ctx, timer.TaskID)
		if err != nil {
			return nil, err
		}
		// A deleted task has nowhere to log to.
		if task != nil {
			l := models.TimeLog{UserID: userID, DurationInSeconds: seconds, LoggedAt: now}
			if err := tx.AppendTimeLog(ctx, timer.TaskID, l); err != nil {
				return nil, err
			}
			stopped.Log = &l
		}
	}

	if err := tx.ClearActiveTimer(ctx, userID); err != nil {
		return nil, err
	}
	return stopped, nil
}

// Stopped records metrics and activity for a timer closed by StopInTx. Call
// it after the transaction commits.
func (t *Tracker) Stopped(ctx context.Context, user models.Actor, s *Stopped, trigger string) {
	if s == nil {
		return
	}
	var seconds int64
	if s.Log != nil {
		seconds = s.Log.DurationInSeconds
	}
	t.metrics.TimerStopped(trigger, seconds)
	t.log.DebugContext(ctx, "timer stopped", "user_id", user.ID, "task_id", s.TaskID, "seconds", seconds, "trigger", trigger)

	if s.Log != nil {
		t.activity.Record(ctx, user, models.ActivityTimeLogged, s.ProjectID, &s.TaskID,
			fmt.Sprintf("%s logged %s", user.Name(), FormatDuration(seconds)))
	}
}

// Status returns the user's running timer, or nil.
func (t *Tracker) Status(ctx context.Context, userID string) (*models.ActiveTimer, error) {
	u, err := t.db.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if u == nil {
		return nil, nil
	}
	return u.ActiveTimer, nil
}

// Elapsed returns the whole seconds between start and now, floored.
// Clock skew can make it zero or negative.
func Elapsed(start, now time.Time) int64 {
	d := now.Sub(start)
	secs := int64(d / time.Second)
	if d < 0 && d%time.Second != 0 {
		secs--
	}
	return secs
}

// FormatDuration renders seconds as e.g. "1h 02m 03s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
