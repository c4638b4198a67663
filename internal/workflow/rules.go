package workflow

import (
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// CheckTransition validates next, a task with its proposed changes applied,
// that was previously in status from. It enforces the two status rules:
// statuses past the QA boundary need a feature, and a blocked task may only
// move to todo. statusOf resolves the blocked_by targets.
func CheckTransition(next *models.Task, from models.TaskStatus, statusOf graph.StatusLookup) error {
	if !next.Status.Valid() {
		return apperr.Validation(apperr.ReasonInvalidCommand, "unknown status %q", next.Status)
	}
	if next.Status.RequiresFeature() && !next.HasFeature() {
		return apperr.Validation(apperr.ReasonNoFeature,
			"task %s must belong to a feature to move to %s", next.ID, next.Status)
	}
	if next.Status != from && next.Status != models.TaskStatusTodo && graph.IsBlocked(next, statusOf) {
		return apperr.Validation(apperr.ReasonBlocked,
			"task %s is blocked by an unfinished dependency", next.ID)
	}
	return nil
}

// Change is a task update under evaluation by the cascade rules. Rules may
// modify After; the feature and its other tasks are read-only.
type Change struct {
	Before   models.Task
	After    *models.Task
	Feature  *models.Feature
	Siblings []*models.Task
}

// StatusChanged reports whether the update moves the task.
func (c *Change) StatusChanged() bool {
	return c.Before.Status != c.After.Status
}

// Plan accumulates the cascade effects decided by the rules.
type Plan struct {
	// StopTimers lists users whose timer on the task must be stopped.
	StopTimers []string
	// FeatureStatus is the feature's new status, or "" when unchanged.
	FeatureStatus  models.FeatureStatus
	FeatureTrigger string
	// Reproved is set when the task was sent back across the QA boundary.
	Reproved bool
}

func (p *Plan) stopTimer(userID string) {
	if userID == "" {
		return
	}
	for _, id := range p.StopTimers {
		if id == userID {
			return
		}
	}
	p.StopTimers = append(p.StopTimers, userID)
}

func (p *Plan) setFeature(status models.FeatureStatus, trigger string) {
	p.FeatureStatus = status
	p.FeatureTrigger = trigger
}

// featureStatus is the feature status as left by the rules evaluated so far.
func (c *Change) featureStatus(p *Plan) models.FeatureStatus {
	if p.FeatureStatus != "" {
		return p.FeatureStatus
	}
	if c.Feature == nil {
		return ""
	}
	return c.Feature.Status
}

// Rule inspects a change and records its effects on the plan.
type Rule func(c *Change, p *Plan)

// Feature transition triggers, used as a metrics label.
const (
	TriggerFirstTaskStarted = "first_task_started"
	TriggerAllReadyForQA    = "all_ready_for_qa"
	TriggerTaskReproved     = "task_reproved"
	TriggerAllApproved      = "all_tasks_approved"
	TriggerManual           = "manual"
)

// cascadeRules run in order on every TransitionTask.
var cascadeRules = []Rule{TimerStopRule, ReprovalRule, PromotionRule}

// TimerStopRule stops the assignee's timer on the task when it moves past
// the QA boundary. Both the previous and the new assignee are checked.
func TimerStopRule(c *Change, p *Plan) {
	if !c.StatusChanged() || !c.After.Status.RequiresFeature() {
		return
	}
	p.stopTimer(models.Deref(c.Before.Assignee))
	p.stopTimer(models.Deref(c.After.Assignee))
}

// ReprovalRule flags a task pulled back from past the QA boundary to a
// working status and demotes its feature when that feature is in testing or
// later.
func ReprovalRule(c *Change, p *Plan) {
	if !c.Before.Status.RequiresFeature() || !c.After.Status.PreQA() {
		return
	}
	c.After.HasBeenReproved = true
	p.Reproved = true
	if c.Feature != nil && c.featureStatus(p).AtLeast(models.FeatureStatusInTesting) {
		p.setFeature(models.FeatureStatusInDevelopment, TriggerTaskReproved)
	}
}

// PromotionRule starts a backlog feature when its first task starts, and
// moves an in-development feature to testing once every one of its tasks
// has reached ready_for_qa.
func PromotionRule(c *Change, p *Plan) {
	if c.Feature == nil || !c.StatusChanged() {
		return
	}
	switch {
	case c.Before.Status == models.TaskStatusTodo && c.After.Status == models.TaskStatusInProgress:
		if c.featureStatus(p) == models.FeatureStatusBacklog {
			p.setFeature(models.FeatureStatusInDevelopment, TriggerFirstTaskStarted)
		}
	case c.After.Status == models.TaskStatusReadyForQA:
		if c.featureStatus(p) == models.FeatureStatusInDevelopment &&
			allAtLeast(c.Siblings, models.TaskStatusReadyForQA) {
			p.setFeature(models.FeatureStatusInTesting, TriggerAllReadyForQA)
		}
	}
}

// ApprovalRule promotes the feature to approved once the task and every one
// of its siblings is approved or done. Only ApproveTask runs it.
func ApprovalRule(c *Change, p *Plan) {
	if c.Feature == nil || !c.After.Status.AtLeast(models.TaskStatusApproved) {
		return
	}
	if allAtLeast(c.Siblings, models.TaskStatusApproved) && !c.featureStatus(p).AtLeast(models.FeatureStatusApproved) {
		p.setFeature(models.FeatureStatusApproved, TriggerAllApproved)
	}
}

// failFeatureRule sends the feature back to development regardless of its
// current status. Only ReproveTask runs it.
func failFeatureRule(c *Change, p *Plan) {
	c.After.HasBeenReproved = true
	p.Reproved = true
	if c.Feature != nil {
		p.setFeature(models.FeatureStatusInDevelopment, TriggerTaskReproved)
	}
}

// withRules returns the cascade rules followed by extra.
func withRules(extra ...Rule) []Rule {
	rules := make([]Rule, 0, len(cascadeRules)+len(extra))
	rules = append(rules, cascadeRules...)
	return append(rules, extra...)
}

func allAtLeast(tasks []*models.Task, status models.TaskStatus) bool {
	for _, t := range tasks {
		if !t.Status.AtLeast(status) {
			return false
		}
	}
	return true
}
