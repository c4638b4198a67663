// Package activity records activity log entries and notifications after a
// change has committed. Failures are logged and never reach the caller.
package activity

import (
	"context"

	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// Sink is where records go. *db.DB implements it.
type Sink interface {
	InsertActivity(ctx context.Context, a *models.Activity) error
	InsertNotification(ctx context.Context, n *models.Notification) error
}

var _ Sink = (*db.DB)(nil)

type Recorder struct {
	sink    Sink
	log     *log.Logger
	metrics *metrics.Metrics
}

func NewRecorder(sink Sink, logger *log.Logger, m *metrics.Metrics) *Recorder {
	if logger == nil {
		logger = log.Discard()
	}
	return &Recorder{sink: sink, log: logger, metrics: m}
}

// Record writes an activity entry stamped with actor.
func (r *Recorder) Record(ctx context.Context, actor models.Actor, typ models.ActivityType, projectID string, taskID *string, message string) {
	a := &models.Activity{
		Type:      typ,
		ProjectID: projectID,
		TaskID:    taskID,
		Message:   message,
		User:      actor.ID,
	}
	if err := r.sink.InsertActivity(ctx, a); err != nil {
		r.metrics.SideEffectFailed("activity")
		r.log.WithError(err).WarnContext(ctx, "failed to record activity",
			"type", string(typ), "project_id", projectID)
	}
}

// Notify sends a notification to recipient. Empty recipients are skipped.
func (r *Recorder) Notify(ctx context.Context, recipient string, typ models.NotificationType, message string, relatedIDs ...string) {
	if recipient == "" {
		return
	}
	n := &models.Notification{
		RecipientUserID: recipient,
		Type:            typ,
		Message:         message,
		RelatedIDs:      relatedIDs,
	}
	if err := r.sink.InsertNotification(ctx, n); err != nil {
		r.metrics.SideEffectFailed("notification")
		r.log.WithError(err).WarnContext(ctx, "failed to send notification",
			"type", string(typ), "recipient", recipient)
	}
}
