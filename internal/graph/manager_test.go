package graph

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var actor = models.Actor{ID: "alice"}

func openDB(t require.TestingT) *db.DB {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Init(context.Background()))
	return database
}

func createTasks(t require.TestingT, database *db.DB, titles ...string) []*models.Task {
	tasks := make([]*models.Task, len(titles))
	for i, title := range titles {
		tasks[i] = &models.Task{ProjectID: "p1", Title: title}
		require.NoError(t, database.CreateTask(context.Background(), tasks[i]))
	}
	return tasks
}

func TestAddDependencyWritesBothHalves(t *testing.T) {
	database := openDB(t)
	defer database.Close()
	ctx := context.Background()
	m := NewManager(database, nil, nil)

	ts := createTasks(t, database, "A", "B")
	require.NoError(t, m.AddDependency(ctx, actor, ts[0].ID, ts[1].ID))
	require.NoError(t, m.AddDependency(ctx, actor, ts[0].ID, ts[1].ID), "adding twice is a no-op")

	a, _ := database.GetTask(ctx, ts[0].ID)
	b, _ := database.GetTask(ctx, ts[1].ID)
	assert.Equal(t, []models.Dependency{{TaskID: b.ID, Type: models.DependencyBlocking}}, a.Dependencies)
	assert.Equal(t, []models.Dependency{{TaskID: a.ID, Type: models.DependencyBlockedBy}}, b.Dependencies)

	activity, err := database.ListActivity(ctx, "p1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, models.ActivityDependencyAdded, activity[0].Type)
}

func TestAddDependencyValidation(t *testing.T) {
	database := openDB(t)
	defer database.Close()
	ctx := context.Background()
	m := NewManager(database, nil, nil)

	ts := createTasks(t, database, "A")
	other := &models.Task{ProjectID: "p2", Title: "Elsewhere"}
	require.NoError(t, database.CreateTask(ctx, other))

	err := m.AddDependency(ctx, actor, ts[0].ID, ts[0].ID)
	assert.Equal(t, apperr.ReasonInvalidCommand, apperr.ReasonOf(err))

	err = m.AddDependency(ctx, actor, ts[0].ID, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = m.AddDependency(ctx, actor, ts[0].ID, other.ID)
	assert.Equal(t, apperr.ReasonInvalidCommand, apperr.ReasonOf(err))

	a, _ := database.GetTask(ctx, ts[0].ID)
	assert.Empty(t, a.Dependencies, "rejected adds write nothing")
}

func TestRemoveDependencyWithDeletedEndpoint(t *testing.T) {
	database := openDB(t)
	defer database.Close()
	ctx := context.Background()
	m := NewManager(database, nil, nil)

	ts := createTasks(t, database, "A", "B")
	require.NoError(t, m.AddDependency(ctx, actor, ts[0].ID, ts[1].ID))
	require.NoError(t, database.DeleteTask(ctx, ts[0].ID))

	b, _ := database.GetTask(ctx, ts[1].ID)
	require.Len(t, b.BlockedBy(), 1, "dangling half stays after delete")

	require.NoError(t, m.RemoveDependency(ctx, actor, ts[0].ID, ts[1].ID))
	b, _ = database.GetTask(ctx, ts[1].ID)
	assert.Empty(t, b.Dependencies)

	err := m.RemoveDependency(ctx, actor, "gone", "also-gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckReportsCycles(t *testing.T) {
	database := openDB(t)
	defer database.Close()
	ctx := context.Background()
	m := NewManager(database, nil, nil)

	ts := createTasks(t, database, "A", "B")
	require.NoError(t, m.AddDependency(ctx, actor, ts[0].ID, ts[1].ID))

	report, err := m.Check(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, []string{ts[1].ID}, report.Blocked)

	require.NoError(t, m.AddDependency(ctx, actor, ts[1].ID, ts[0].ID), "cycles are not prevented")
	report, err = m.Check(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, report.Cycles, 1)
	assert.False(t, report.Healthy())
}

type edgeOp struct {
	add    bool
	source int
	target int
}

// Any sequence of adds and removes leaves every edge stored on both
// endpoints, and the stored edges match a simple model.
func TestEdgeSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		database := openDB(rt)
		defer database.Close()
		ctx := context.Background()
		m := NewManager(database, nil, nil)

		ts := createTasks(rt, database, "A", "B", "C", "D")
		model := map[[2]int]bool{}

		ops := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) edgeOp {
			s := rapid.IntRange(0, 3).Draw(t, "source")
			d := rapid.IntRange(0, 3).Filter(func(v int) bool { return v != s }).Draw(t, "target")
			return edgeOp{add: rapid.Bool().Draw(t, "add"), source: s, target: d}
		}), 1, 12).Draw(rt, "ops")

		for _, op := range ops {
			if op.add {
				require.NoError(rt, m.AddDependency(ctx, actor, ts[op.source].ID, ts[op.target].ID))
				model[[2]int{op.source, op.target}] = true
			} else {
				require.NoError(rt, m.RemoveDependency(ctx, actor, ts[op.source].ID, ts[op.target].ID))
				delete(model, [2]int{op.source, op.target})
			}
		}

		stored, err := database.ListTasks(ctx, db.TaskFilter{ProjectID: "p1"})
		require.NoError(rt, err)
		if asym := Asymmetric(stored); len(asym) != 0 {
			rt.Fatalf("asymmetric edges: %v", asym)
		}

		index := map[string]int{}
		for i, tk := range ts {
			index[tk.ID] = i
		}
		var got, want []string
		for _, tk := range stored {
			for _, target := range tk.Blocking() {
				got = append(got, fmt.Sprintf("%d->%d", index[tk.ID], index[target]))
			}
		}
		for k := range model {
			want = append(want, fmt.Sprintf("%d->%d", k[0], k[1]))
		}
		sort.Strings(got)
		sort.Strings(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			rt.Fatalf("stored edges %v, want %v", got, want)
		}
	})
}

// Adding then removing an edge restores the previous edge set.
func TestAddRemoveRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		database := openDB(rt)
		defer database.Close()
		ctx := context.Background()
		m := NewManager(database, nil, nil)

		ts := createTasks(rt, database, "A", "B", "C")
		s := rapid.IntRange(0, 2).Draw(rt, "source")
		d := rapid.IntRange(0, 2).Filter(func(v int) bool { return v != s }).Draw(rt, "target")

		require.NoError(rt, m.AddDependency(ctx, actor, ts[s].ID, ts[d].ID))
		require.NoError(rt, m.RemoveDependency(ctx, actor, ts[s].ID, ts[d].ID))

		stored, err := database.ListTasks(ctx, db.TaskFilter{ProjectID: "p1"})
		require.NoError(rt, err)
		for _, tk := range stored {
			if len(tk.Dependencies) != 0 {
				rt.Fatalf("task %s kept edges %v", tk.Title, tk.Dependencies)
			}
		}
	})
}
