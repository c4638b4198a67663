package timetrack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db      *db.DB
	clock   *fakeClock
	tracker *Tracker
	metrics *metrics.Metrics
	t1, t2  *models.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Init(context.Background()))

	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	database.SetClock(clock.Now)

	_, m := metrics.NewRegistry()
	f := &fixture{
		db:      database,
		clock:   clock,
		metrics: m,
		tracker: NewTracker(database, nil, m, nil),
		t1:      &models.Task{ProjectID: "p1", Title: "One"},
		t2:      &models.Task{ProjectID: "p1", Title: "Two"},
	}
	require.NoError(t, database.CreateTask(context.Background(), f.t1))
	require.NoError(t, database.CreateTask(context.Background(), f.t2))
	return f
}

var alice = models.Actor{ID: "alice", DisplayName: "Alice"}

func TestStartConflictThenStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	timer, err := f.tracker.Start(ctx, alice, f.t1.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, f.t1.ID, timer.TaskID)

	_, err = f.tracker.Start(ctx, alice, f.t2.ID, "p1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	f.clock.Advance(95*time.Second + 400*time.Millisecond)

	l, err := f.tracker.Stop(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, int64(95), l.DurationInSeconds, "floored to whole seconds")

	got, err := f.db.GetTask(ctx, f.t1.ID)
	require.NoError(t, err)
	require.Len(t, got.TimeLogs, 1)
	assert.Equal(t, int64(95), got.TimeLogs[0].DurationInSeconds)
	assert.Equal(t, "alice", got.TimeLogs[0].UserID)

	other, _ := f.db.GetTask(ctx, f.t2.ID)
	assert.Empty(t, other.TimeLogs)

	status, err := f.tracker.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, status)

	assert.Equal(t, float64(95), testutil.ToFloat64(f.metrics.SecondsLogged))

	activity, err := f.db.ListActivity(ctx, "p1", 5)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, models.ActivityTimeLogged, activity[0].Type)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Start(ctx, alice, f.t1.ID, "p1")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	first, err := f.tracker.Stop(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.tracker.Stop(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, second)

	got, _ := f.db.GetTask(ctx, f.t1.ID)
	assert.Len(t, got.TimeLogs, 1)
}

func TestStopWithoutTimer(t *testing.T) {
	f := newFixture(t)
	l, err := f.tracker.Stop(context.Background(), models.Actor{ID: "nobody"})
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestSubSecondStopLogsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Start(ctx, alice, f.t1.ID, "p1")
	require.NoError(t, err)
	f.clock.Advance(700 * time.Millisecond)

	l, err := f.tracker.Stop(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, l)

	got, _ := f.db.GetTask(ctx, f.t1.ID)
	assert.Empty(t, got.TimeLogs)
	status, _ := f.tracker.Status(ctx, "alice")
	assert.Nil(t, status, "timer cleared even when nothing is logged")
}

func TestStopInTxOnlyTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Start(ctx, alice, f.t1.ID, "p1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	err = f.db.RunInTx(ctx, func(tx *db.Tx) error {
		s, err := f.tracker.StopInTx(ctx, tx, "alice", f.t2.ID)
		assert.Nil(t, s, "timer on another task is left alone")
		return err
	})
	require.NoError(t, err)

	status, _ := f.tracker.Status(ctx, "alice")
	require.NotNil(t, status)
	assert.Equal(t, f.t1.ID, status.TaskID)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Start(ctx, alice, "missing", "p1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.tracker.Start(ctx, alice, f.t1.ID, "other-project")
	assert.Equal(t, apperr.ReasonInvalidCommand, apperr.ReasonOf(err))

	_, err = f.tracker.Start(ctx, models.Actor{}, f.t1.ID, "p1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStopAfterTaskDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Start(ctx, alice, f.t1.ID, "p1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	require.NoError(t, f.db.DeleteTask(ctx, f.t1.ID))

	l, err := f.tracker.Stop(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, l)
	status, _ := f.tracker.Status(ctx, "alice")
	assert.Nil(t, status)
}

func TestElapsed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(0), Elapsed(base, base))
	assert.Equal(t, int64(1), Elapsed(base, base.Add(1999*time.Millisecond)))
	assert.Equal(t, int64(-1), Elapsed(base, base.Add(-10*time.Millisecond)))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "2m 05s", FormatDuration(125))
	assert.Equal(t, "1h 02m 03s", FormatDuration(3723))
}
