package models

import "time"

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "inprogress"
	TaskStatusReadyForQA TaskStatus = "ready_for_qa"
	TaskStatusInTesting  TaskStatus = "in_testing"
	TaskStatusApproved   TaskStatus = "approved"
	TaskStatusDone       TaskStatus = "done"
)

// TaskStatuses lists the statuses in board column order.
var TaskStatuses = []TaskStatus{
	TaskStatusTodo,
	TaskStatusInProgress,
	TaskStatusReadyForQA,
	TaskStatusInTesting,
	TaskStatusApproved,
	TaskStatusDone,
}

// Rank returns the position of s in the pipeline, or -1 for unknown statuses.
func (s TaskStatus) Rank() int {
	for i, st := range TaskStatuses {
		if st == s {
			return i
		}
	}
	return -1
}

func (s TaskStatus) Valid() bool {
	return s.Rank() >= 0
}

// AtLeast reports whether s is at or beyond other in the pipeline.
func (s TaskStatus) AtLeast(other TaskStatus) bool {
	return s.Valid() && s.Rank() >= other.Rank()
}

// RequiresFeature reports whether a task in this status must be linked to a feature.
// These are also the statuses on the far side of the QA boundary.
func (s TaskStatus) RequiresFeature() bool {
	switch s {
	case TaskStatusInTesting, TaskStatusApproved, TaskStatusDone:
		return true
	}
	return false
}

// PreQA reports whether s is one of the working statuses a reproved task returns to.
func (s TaskStatus) PreQA() bool {
	return s == TaskStatusTodo || s == TaskStatusInProgress
}

type TimeLog struct {
	UserID            string    `json:"user_id"`
	DurationInSeconds int64     `json:"duration_in_seconds"`
	LoggedAt          time.Time `json:"logged_at"`
}

type Link struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Task struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"project_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Status          TaskStatus   `json:"status"`
	Assignee        *string      `json:"assignee"`
	FeatureID       *string      `json:"feature_id"`
	ModuleID        *string      `json:"module_id"`
	CategoryID      *string      `json:"category_id"`
	DueDate         *time.Time   `json:"due_date"`
	Dependencies    []Dependency `json:"dependencies"`
	TimeLogs        []TimeLog    `json:"time_logs"`
	Links           []Link       `json:"links"`
	CommentsCount   int          `json:"comments_count"`
	HasBeenReproved bool         `json:"has_been_reproved"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// BlockedBy returns the IDs of the tasks this task waits on.
func (t *Task) BlockedBy() []string {
	return t.edgeTargets(DependencyBlockedBy)
}

// Blocking returns the IDs of the tasks waiting on this task.
func (t *Task) Blocking() []string {
	return t.edgeTargets(DependencyBlocking)
}

func (t *Task) edgeTargets(typ DependencyType) []string {
	var ids []string
	for _, d := range t.Dependencies {
		if d.Type == typ {
			ids = append(ids, d.TaskID)
		}
	}
	return ids
}

func (t *Task) HasFeature() bool {
	return t.FeatureID != nil && *t.FeatureID != ""
}

// LoggedSeconds sums all time log durations.
func (t *Task) LoggedSeconds() int64 {
	var total int64
	for _, l := range t.TimeLogs {
		total += l.DurationInSeconds
	}
	return total
}

// Clone returns a deep copy so callers can mutate it without touching t.
func (t Task) Clone() Task {
	c := t
	c.Assignee = cloneString(t.Assignee)
	c.FeatureID = cloneString(t.FeatureID)
	c.ModuleID = cloneString(t.ModuleID)
	c.CategoryID = cloneString(t.CategoryID)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	c.Dependencies = append([]Dependency(nil), t.Dependencies...)
	c.TimeLogs = append([]TimeLog(nil), t.TimeLogs...)
	c.Links = append([]Link(nil), t.Links...)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
