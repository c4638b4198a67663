package app

import (
	"context"
	"testing"

	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSharesMetrics(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()
	ctx := context.Background()
	require.NoError(t, database.Init(ctx))

	a := New(database, models.Actor{ID: "alice"}, "p1", nil)
	require.NotNil(t, a.Engine.Timer())
	assert.Same(t, a.Timer, a.Engine.Timer())

	task, err := a.Engine.CreateTask(ctx, a.Actor, a.ProjectID, workflow.NewTask{Title: "T"})
	require.NoError(t, err)
	_, err = a.Engine.TransitionTask(ctx, a.Actor, a.ProjectID, task.ID, workflow.ChangeStatus{Status: models.TaskStatusDone})
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.Metrics.RejectedTransitions.WithLabelValues("no_feature")))
	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
