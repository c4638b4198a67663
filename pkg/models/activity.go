package models

import "time"

type ActivityType string

const (
	ActivityTaskCreated       ActivityType = "task_created"
	ActivityTaskStatusChanged ActivityType = "task_status_changed"
	ActivityTaskAssigned      ActivityType = "task_assigned"
	ActivityTaskReproved      ActivityType = "task_reproved"
	ActivityTaskDeleted       ActivityType = "task_deleted"
	ActivityFeatureCreated    ActivityType = "feature_created"
	ActivityFeatureStatus     ActivityType = "feature_status_changed"
	ActivityFeatureDeleted    ActivityType = "feature_deleted"
	ActivityDependencyAdded   ActivityType = "dependency_added"
	ActivityDependencyRemoved ActivityType = "dependency_removed"
	ActivityTimeLogged        ActivityType = "time_logged"
)

type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	ProjectID string       `json:"project_id"`
	TaskID    *string      `json:"task_id,omitempty"`
	Message   string       `json:"message"`
	User      string       `json:"user"`
	CreatedAt time.Time    `json:"created_at"`
}

type NotificationType string

const (
	NotificationAssigned   NotificationType = "task_assigned"
	NotificationQAFeedback NotificationType = "qa_feedback"
)

type Notification struct {
	ID              string           `json:"id"`
	RecipientUserID string           `json:"recipient_user_id"`
	Type            NotificationType `json:"type"`
	Message         string           `json:"message"`
	RelatedIDs      []string         `json:"related_ids"`
	Read            bool             `json:"read"`
	CreatedAt       time.Time        `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
