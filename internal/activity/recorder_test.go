package activity

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSink struct {
	activities    []*models.Activity
	notifications []*models.Notification
	err           error
}

func (f *fakeSink) InsertActivity(_ context.Context, a *models.Activity) error {
	if f.err != nil {
		return f.err
	}
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeSink) InsertNotification(_ context.Context, n *models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func TestRecordAndNotify(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, nil, nil)
	ctx := context.Background()

	r.Record(ctx, models.Actor{ID: "alice"}, models.ActivityTaskCreated, "p1", models.StringPtr("t1"), "created")
	r.Notify(ctx, "bob", models.NotificationAssigned, "assigned", "t1")
	r.Notify(ctx, "", models.NotificationAssigned, "nobody")

	if assert.Len(t, sink.activities, 1) {
		assert.Equal(t, "alice", sink.activities[0].User)
		assert.Equal(t, "t1", models.Deref(sink.activities[0].TaskID))
	}
	if assert.Len(t, sink.notifications, 1) {
		assert.Equal(t, []string{"t1"}, sink.notifications[0].RelatedIDs)
	}
}

func TestFailuresAreSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: log.LevelWarn, Format: log.FormatText, Output: &buf})
	_, m := metrics.NewRegistry()
	r := NewRecorder(&fakeSink{err: errors.New("offline")}, logger, m)

	r.Record(context.Background(), models.Actor{ID: "alice"}, models.ActivityTaskCreated, "p1", nil, "created")
	r.Notify(context.Background(), "bob", models.NotificationQAFeedback, "fix it")

	assert.Contains(t, buf.String(), "failed to record activity")
	assert.Contains(t, buf.String(), "failed to send notification")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("activity")))
}
