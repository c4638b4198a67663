package workflow

import (
	"testing"

	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, status models.TaskStatus) *models.Task {
	return &models.Task{ID: id, ProjectID: "p1", Title: id, Status: status}
}

func withFeature(t *models.Task, featureID string) *models.Task {
	t.FeatureID = models.StringPtr(featureID)
	return t
}

func blockedBy(t *models.Task, ids ...string) *models.Task {
	for _, id := range ids {
		t.Dependencies = append(t.Dependencies, models.Dependency{TaskID: id, Type: models.DependencyBlockedBy})
	}
	return t
}

func TestCheckTransition(t *testing.T) {
	blocker := task("b", models.TaskStatusTodo)
	doneBlocker := task("d", models.TaskStatusDone)
	lookup := graph.Lookup([]*models.Task{blocker, doneBlocker})

	tests := []struct {
		name   string
		next   *models.Task
		from   models.TaskStatus
		reason apperr.Reason
	}{
		{"plain move", task("t", models.TaskStatusInProgress), models.TaskStatusTodo, ""},
		{"backwards move", task("t", models.TaskStatusTodo), models.TaskStatusReadyForQA, ""},
		{"qa without feature", task("t", models.TaskStatusInTesting), models.TaskStatusReadyForQA, apperr.ReasonNoFeature},
		{"done without feature", task("t", models.TaskStatusDone), models.TaskStatusTodo, apperr.ReasonNoFeature},
		{"qa with feature", withFeature(task("t", models.TaskStatusInTesting), "f"), models.TaskStatusReadyForQA, ""},
		{"blocked moving forward", blockedBy(task("t", models.TaskStatusInProgress), "b"), models.TaskStatusTodo, apperr.ReasonBlocked},
		{"blocked moving to todo", blockedBy(task("t", models.TaskStatusTodo), "b"), models.TaskStatusInProgress, ""},
		{"blocked without status change", blockedBy(task("t", models.TaskStatusInProgress), "b"), models.TaskStatusInProgress, ""},
		{"blocker done", blockedBy(task("t", models.TaskStatusInProgress), "d"), models.TaskStatusTodo, ""},
		{"dangling blocker", blockedBy(task("t", models.TaskStatusInProgress), "gone"), models.TaskStatusTodo, ""},
		{"unknown status", task("t", "archived"), models.TaskStatusTodo, apperr.ReasonInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.next, tt.from, lookup)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
		})
	}
}

func TestCheckTransitionPrefersFeatureReason(t *testing.T) {
	next := blockedBy(task("t", models.TaskStatusDone), "b")
	err := CheckTransition(next, models.TaskStatusTodo, graph.Lookup([]*models.Task{task("b", models.TaskStatusTodo)}))
	assert.Equal(t, apperr.ReasonNoFeature, apperr.ReasonOf(err))
}

func change(before, after *models.Task, feature *models.Feature, siblings ...*models.Task) *Change {
	return &Change{Before: *before, After: after, Feature: feature, Siblings: siblings}
}

func feature(status models.FeatureStatus) *models.Feature {
	return &models.Feature{ID: "f", ProjectID: "p1", Name: "F", Status: status}
}

func TestTimerStopRule(t *testing.T) {
	before := withFeature(task("t", models.TaskStatusReadyForQA), "f")
	before.Assignee = models.StringPtr("alice")
	after := withFeature(task("t", models.TaskStatusInTesting), "f")
	after.Assignee = models.StringPtr("bob")

	var p Plan
	TimerStopRule(change(before, after, nil), &p)
	assert.Equal(t, []string{"alice", "bob"}, p.StopTimers)

	p = Plan{}
	after.Status = models.TaskStatusInProgress
	TimerStopRule(change(before, after, nil), &p)
	assert.Empty(t, p.StopTimers, "working statuses keep timers running")

	p = Plan{}
	same := withFeature(task("t", models.TaskStatusDone), "f")
	same.Assignee = models.StringPtr("alice")
	TimerStopRule(change(same, same, nil), &p)
	assert.Empty(t, p.StopTimers, "no status change, no stop")
}

func TestReprovalRule(t *testing.T) {
	t.Run("demotes feature at or past testing", func(t *testing.T) {
		for _, fs := range []models.FeatureStatus{models.FeatureStatusInTesting, models.FeatureStatusApproved, models.FeatureStatusReleased} {
			after := withFeature(task("t", models.TaskStatusTodo), "f")
			var p Plan
			ReprovalRule(change(withFeature(task("t", models.TaskStatusDone), "f"), after, feature(fs)), &p)
			assert.True(t, after.HasBeenReproved)
			assert.True(t, p.Reproved)
			assert.Equal(t, models.FeatureStatusInDevelopment, p.FeatureStatus, "from %s", fs)
		}
	})

	t.Run("leaves earlier feature alone", func(t *testing.T) {
		after := withFeature(task("t", models.TaskStatusInProgress), "f")
		var p Plan
		ReprovalRule(change(withFeature(task("t", models.TaskStatusInTesting), "f"), after, feature(models.FeatureStatusInDevelopment)), &p)
		assert.True(t, after.HasBeenReproved)
		assert.Empty(t, p.FeatureStatus)
	})

	t.Run("ignores moves that stay before qa", func(t *testing.T) {
		after := task("t", models.TaskStatusTodo)
		var p Plan
		ReprovalRule(change(task("t", models.TaskStatusReadyForQA), after, nil), &p)
		assert.False(t, after.HasBeenReproved)
		assert.False(t, p.Reproved)
	})
}

func TestPromotionRule(t *testing.T) {
	t.Run("first task started", func(t *testing.T) {
		var p Plan
		PromotionRule(change(task("t", models.TaskStatusTodo), task("t", models.TaskStatusInProgress), feature(models.FeatureStatusBacklog)), &p)
		assert.Equal(t, models.FeatureStatusInDevelopment, p.FeatureStatus)
		assert.Equal(t, TriggerFirstTaskStarted, p.FeatureTrigger)
	})

	t.Run("later task started", func(t *testing.T) {
		var p Plan
		PromotionRule(change(task("t", models.TaskStatusTodo), task("t", models.TaskStatusInProgress), feature(models.FeatureStatusInTesting)), &p)
		assert.Empty(t, p.FeatureStatus)
	})

	t.Run("all ready for qa", func(t *testing.T) {
		var p Plan
		PromotionRule(change(task("t3", models.TaskStatusInProgress), task("t3", models.TaskStatusReadyForQA), feature(models.FeatureStatusInDevelopment),
			task("t1", models.TaskStatusReadyForQA), task("t2", models.TaskStatusDone)), &p)
		assert.Equal(t, models.FeatureStatusInTesting, p.FeatureStatus)
	})

	t.Run("sibling still working", func(t *testing.T) {
		var p Plan
		PromotionRule(change(task("t1", models.TaskStatusInProgress), task("t1", models.TaskStatusReadyForQA), feature(models.FeatureStatusInDevelopment),
			task("t2", models.TaskStatusReadyForQA), task("t3", models.TaskStatusInProgress)), &p)
		assert.Empty(t, p.FeatureStatus)
	})

	t.Run("feature not in development", func(t *testing.T) {
		var p Plan
		PromotionRule(change(task("t", models.TaskStatusInProgress), task("t", models.TaskStatusReadyForQA), feature(models.FeatureStatusBacklog)), &p)
		assert.Empty(t, p.FeatureStatus)
	})
}

func TestApprovalRule(t *testing.T) {
	var p Plan
	ApprovalRule(change(task("t1", models.TaskStatusInTesting), task("t1", models.TaskStatusApproved), feature(models.FeatureStatusInTesting),
		task("t2", models.TaskStatusInTesting)), &p)
	assert.Empty(t, p.FeatureStatus)

	ApprovalRule(change(task("t1", models.TaskStatusInTesting), task("t1", models.TaskStatusApproved), feature(models.FeatureStatusInTesting),
		task("t2", models.TaskStatusDone)), &p)
	assert.Equal(t, models.FeatureStatusApproved, p.FeatureStatus)

	p = Plan{}
	ApprovalRule(change(task("t1", models.TaskStatusInTesting), task("t1", models.TaskStatusApproved), feature(models.FeatureStatusReleased)), &p)
	assert.Empty(t, p.FeatureStatus, "released features stay released")
}

func TestRulesComposeInOrder(t *testing.T) {
	// Pulling a done task back to inprogress demotes the feature before
	// promotion is considered.
	before := withFeature(task("t", models.TaskStatusDone), "f")
	after := withFeature(task("t", models.TaskStatusInProgress), "f")
	c := change(before, after, feature(models.FeatureStatusApproved))

	var p Plan
	for _, rule := range cascadeRules {
		rule(c, &p)
	}
	assert.Equal(t, models.FeatureStatusInDevelopment, p.FeatureStatus)
	assert.True(t, after.HasBeenReproved)
}
