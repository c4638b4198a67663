package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	app     *app.App
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Init(context.Background()))

	a := app.New(database, models.Actor{ID: "alice"}, "p1", nil)
	return &fixture{app: a, handler: NewServer(a).Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestTaskEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/tasks", map[string]any{"title": "Checkout"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[models.Task](t, w)
	assert.Equal(t, models.TaskStatusTodo, task.Status)

	w = f.do(t, "GET", "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*models.Task](t, w), 1)

	w = f.do(t, "GET", "/api/tasks?status=done", nil)
	assert.Empty(t, decode[[]*models.Task](t, w))

	w = f.do(t, "GET", "/api/tasks?status=archived", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, "GET", "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Checkout", decode[models.Task](t, w).Title)

	w = f.do(t, "GET", "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/api/tasks", map[string]any{"title": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, "POST", "/api/tasks", map[string]any{"title": "x", "bogus": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "unknown fields are rejected")

	w = f.do(t, "DELETE", "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, "GET", "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransitionEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.app.Engine.CreateTask(ctx, f.app.Actor, "p1", workflow.NewTask{Title: "T"})
	require.NoError(t, err)
	feature, err := f.app.Engine.CreateFeature(ctx, f.app.Actor, "p1", workflow.NewFeature{Name: "F"})
	require.NoError(t, err)

	w := f.do(t, "POST", "/api/tasks/"+task.ID+"/transition", map[string]any{"status": "in_testing"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[errorResponse](t, w)
	assert.Equal(t, "no_feature", resp.Reason)
	assert.Contains(t, resp.Error, "not associated with a feature")

	w = f.do(t, "POST", "/api/tasks/"+task.ID+"/transition",
		map[string]any{"status": "in_testing", "feature_id": feature.ID, "assignee": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[models.Task](t, w)
	assert.Equal(t, models.TaskStatusInTesting, got.Status)
	assert.Equal(t, feature.ID, models.Deref(got.FeatureID))
	assert.Equal(t, "bob", models.Deref(got.Assignee))

	w = f.do(t, "POST", "/api/tasks/"+task.ID+"/transition", map[string]any{"assignee": ""})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[models.Task](t, w).Assignee)

	w = f.do(t, "POST", "/api/tasks/missing/transition", map[string]any{"status": "todo"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feature, err := f.app.Engine.CreateFeature(ctx, f.app.Actor, "p1", workflow.NewFeature{Name: "F"})
	require.NoError(t, err)
	a, err := f.app.Engine.CreateTask(ctx, f.app.Actor, "p1", workflow.NewTask{Title: "A", FeatureID: feature.ID, Assignee: "bob"})
	require.NoError(t, err)
	b, err := f.app.Engine.CreateTask(ctx, f.app.Actor, "p1", workflow.NewTask{Title: "B", FeatureID: feature.ID})
	require.NoError(t, err)
	for _, id := range []string{a.ID, b.ID} {
		_, err := f.app.Engine.TransitionTask(ctx, f.app.Actor, "p1", id, workflow.ChangeStatus{Status: models.TaskStatusInTesting})
		require.NoError(t, err)
	}

	w := f.do(t, "POST", "/api/tasks/"+b.ID+"/approve", map[string]any{"feature_id": feature.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.TaskStatusApproved, decode[models.Task](t, w).Status)

	w = f.do(t, "POST", "/api/tasks/"+a.ID+"/reprove", map[string]any{"feature_id": feature.ID, "feedback": "Totals are wrong"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[models.Task](t, w)
	assert.Equal(t, models.TaskStatusTodo, got.Status)
	assert.True(t, got.HasBeenReproved)

	w = f.do(t, "GET", "/api/features", nil)
	features := decode[[]*models.Feature](t, w)
	require.Len(t, features, 1)
	assert.Equal(t, models.FeatureStatusInDevelopment, features[0].Status)

	w = f.do(t, "GET", "/api/notifications?unread=true", nil, "X-Trellis-User", "bob")
	require.Equal(t, http.StatusOK, w.Code)
	notes := decode[[]*models.Notification](t, w)
	var feedback int
	for _, n := range notes {
		if n.Type == models.NotificationQAFeedback {
			feedback++
			assert.Contains(t, n.Message, "Totals are wrong")
		}
	}
	assert.Equal(t, 1, feedback)
}

func TestFeatureEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/features", map[string]any{"name": "Payments", "module_id": "billing"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	feature := decode[models.Feature](t, w)

	w = f.do(t, "POST", "/api/features", map[string]any{"name": "Payments"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, "POST", "/api/features/"+feature.ID+"/release", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_state", decode[errorResponse](t, w).Reason)

	w = f.do(t, "POST", "/api/features/"+feature.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "POST", "/api/features/"+feature.ID+"/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.FeatureStatusReleased, decode[models.Feature](t, w).Status)

	w = f.do(t, "DELETE", "/api/features/"+feature.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, "DELETE", "/api/features/"+feature.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoardEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.app.Engine.CreateTask(ctx, f.app.Actor, "p1", workflow.NewTask{Title: "A"})
	require.NoError(t, err)
	b, err := f.app.Engine.CreateTask(ctx, f.app.Actor, "p1", workflow.NewTask{Title: "B"})
	require.NoError(t, err)
	require.NoError(t, f.app.Graph.AddDependency(ctx, f.app.Actor, b.ID, a.ID))

	w := f.do(t, "GET", "/api/board", nil)
	require.Equal(t, http.StatusOK, w.Code)
	board := decode[boardResponse](t, w)
	assert.Len(t, board.Tasks, 2)
	assert.Equal(t, []string{a.ID}, board.Blocked)
	assert.Positive(t, board.Epoch)

	w = f.do(t, "POST", "/api/tasks/"+a.ID+"/transition", map[string]any{"status": "inprogress"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "blocked", decode[errorResponse](t, w).Reason)

	w = f.do(t, "GET", "/api/dependencies/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[graph.Report](t, w)
	assert.Empty(t, report.Cycles)
	assert.Equal(t, []string{a.ID}, report.Blocked)
}

func TestActivityAndMetrics(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Engine.CreateTask(context.Background(), f.app.Actor, "p1", workflow.NewTask{Title: "A"})
	require.NoError(t, err)

	w := f.do(t, "GET", "/api/activity?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]*models.Activity](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActivityTaskCreated, entries[0].Type)

	w = f.do(t, "GET", "/api/activity?limit=zero", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "trellis_"), "metrics are exposed")
}
