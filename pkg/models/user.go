package models

import "time"

// Actor identifies who performs an operation. It is stamped onto activity
// records and notifications.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}

type ActiveTimer struct {
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id"`
	StartTime time.Time `json:"start_time"`
}

type User struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	ActiveTimer *ActiveTimer `json:"active_timer"`
}
