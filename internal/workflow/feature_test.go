package workflow

import (
	"context"
	"testing"

	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFeature(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f := h.feature(t, "payments")
	assert.Equal(t, models.FeatureStatusBacklog, f.Status)

	_, err := h.engine.CreateFeature(ctx, alice, "p1", NewFeature{Name: "payments"})
	assert.Equal(t, apperr.ReasonInvalidCommand, apperr.ReasonOf(err), "names are unique per project")

	_, err = h.engine.CreateFeature(ctx, alice, "p2", NewFeature{Name: "payments"})
	assert.NoError(t, err)

	_, err = h.engine.CreateFeature(ctx, alice, "p1", NewFeature{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// qaFeature returns a feature in testing with the given tasks in testing.
func qaFeature(t *testing.T, h *harness, titles ...string) (*models.Feature, []*models.Task) {
	t.Helper()
	f := h.feature(t, "qa")
	tasks := make([]*models.Task, len(titles))
	for i, title := range titles {
		tasks[i] = h.task(t, title, f.ID)
		h.move(t, tasks[i].ID, models.TaskStatusInTesting)
	}
	h.setFeatureStatus(t, f.ID, models.FeatureStatusInTesting)
	return f, tasks
}

func TestApproveFeature(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f, tasks := qaFeature(t, h, "A", "B")
	h.move(t, tasks[1].ID, models.TaskStatusDone)

	got, err := h.engine.ApproveFeature(ctx, alice, "p1", f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeatureStatusApproved, got.Status)
	assert.Equal(t, models.TaskStatusApproved, h.getTask(t, tasks[0].ID).Status)
	assert.Equal(t, models.TaskStatusDone, h.getTask(t, tasks[1].ID).Status, "only tasks in testing move")

	_, err = h.engine.ApproveFeature(ctx, alice, "p2", f.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReproveFeature(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f, tasks := qaFeature(t, h, "A", "B")
	h.move(t, tasks[1].ID, models.TaskStatusApproved)

	got, err := h.engine.ReproveFeature(ctx, alice, "p1", f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeatureStatusInDevelopment, got.Status)

	a := h.getTask(t, tasks[0].ID)
	assert.Equal(t, models.TaskStatusTodo, a.Status)
	assert.True(t, a.HasBeenReproved)

	b := h.getTask(t, tasks[1].ID)
	assert.Equal(t, models.TaskStatusApproved, b.Status)
	assert.False(t, b.HasBeenReproved)
}

func TestApproveTaskPromotesOnLast(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f, tasks := qaFeature(t, h, "A", "B")

	got, err := h.engine.ApproveTask(ctx, alice, "p1", tasks[0].ID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusApproved, got.Status)
	assert.Equal(t, models.FeatureStatusInTesting, h.getFeature(t, f.ID).Status)

	_, err = h.engine.ApproveTask(ctx, alice, "p1", tasks[1].ID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeatureStatusApproved, h.getFeature(t, f.ID).Status)
}

func TestApproveTaskChecksFeature(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	_, tasks := qaFeature(t, h, "A")
	other := h.feature(t, "other")

	_, err := h.engine.ApproveTask(ctx, alice, "p1", tasks[0].ID, other.ID)
	assert.Equal(t, apperr.ReasonInvalidCommand, apperr.ReasonOf(err))

	loose := h.task(t, "Loose", "")
	_, err = h.engine.ApproveTask(ctx, alice, "p1", loose.ID, "")
	assert.Equal(t, apperr.ReasonNoFeature, apperr.ReasonOf(err))
}

func TestReproveTask(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f, tasks := qaFeature(t, h, "A", "B")
	_, err := h.engine.TransitionTask(ctx, alice, "p1", tasks[0].ID, AssignUser{UserID: "bob"})
	require.NoError(t, err)
	_, err = h.engine.ApproveTask(ctx, alice, "p1", tasks[1].ID, f.ID)
	require.NoError(t, err)

	got, err := h.engine.ReproveTask(ctx, alice, "p1", tasks[0].ID, f.ID, "Button does nothing")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusTodo, got.Status)
	assert.True(t, got.HasBeenReproved)
	assert.Equal(t, 1, got.CommentsCount)
	assert.Equal(t, models.FeatureStatusInDevelopment, h.getFeature(t, f.ID).Status)

	comments, err := h.db.ListComments(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Button does nothing", comments[0].Content)
	assert.Equal(t, "alice", comments[0].AuthorID)

	notes, err := h.db.ListNotifications(ctx, "bob", true)
	require.NoError(t, err)
	var feedback []*models.Notification
	for _, n := range notes {
		if n.Type == models.NotificationQAFeedback {
			feedback = append(feedback, n)
		}
	}
	require.Len(t, feedback, 1)
	assert.Contains(t, feedback[0].Message, "Button does nothing")
	assert.Equal(t, []string{tasks[0].ID, f.ID}, feedback[0].RelatedIDs)
}

func TestReproveTaskDemotesUnconditionally(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f := h.feature(t, "early")
	task := h.task(t, "T", f.ID)
	h.move(t, task.ID, models.TaskStatusReadyForQA)
	h.setFeatureStatus(t, f.ID, models.FeatureStatusBacklog)

	_, err := h.engine.ReproveTask(ctx, alice, "p1", task.ID, f.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.FeatureStatusInDevelopment, h.getFeature(t, f.ID).Status)

	comments, _ := h.db.ListComments(ctx, task.ID)
	assert.Empty(t, comments, "blank feedback adds no comment")
}

func TestReleaseFeature(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f, _ := qaFeature(t, h, "A")
	_, err := h.engine.ReleaseFeature(ctx, alice, "p1", f.ID)
	assert.Equal(t, apperr.ReasonInvalidState, apperr.ReasonOf(err))

	_, err = h.engine.ApproveFeature(ctx, alice, "p1", f.ID)
	require.NoError(t, err)
	got, err := h.engine.ReleaseFeature(ctx, alice, "p1", f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeatureStatusReleased, got.Status)
}

func TestDeleteFeatureDetachesTasks(t *testing.T) {
	h := newHarness(t)
	defer h.db.Close()
	ctx := context.Background()

	f := h.feature(t, "doomed")
	a := h.task(t, "A", f.ID)
	b := h.task(t, "B", f.ID)
	h.move(t, b.ID, models.TaskStatusInProgress)

	require.NoError(t, h.engine.DeleteFeature(ctx, alice, "p1", f.ID))

	gone, err := h.db.GetFeature(ctx, f.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	for _, id := range []string{a.ID, b.ID} {
		got := h.getTask(t, id)
		assert.Nil(t, got.FeatureID)
		assert.Nil(t, got.ModuleID)
	}
	assert.Equal(t, models.TaskStatusInProgress, h.getTask(t, b.ID).Status)

	assert.ErrorIs(t, h.engine.DeleteFeature(ctx, alice, "p1", f.ID), apperr.ErrNotFound)
}
