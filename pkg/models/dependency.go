package models

type DependencyType string

const (
	// DependencyBlocking is stored on the task that must finish first.
	DependencyBlocking DependencyType = "blocking"
	// DependencyBlockedBy is stored on the task that waits.
	DependencyBlockedBy DependencyType = "blocked_by"
)

func (d DependencyType) Valid() bool {
	return d == DependencyBlocking || d == DependencyBlockedBy
}

// Inverse returns the edge type stored on the other endpoint.
func (d DependencyType) Inverse() DependencyType {
	if d == DependencyBlocking {
		return DependencyBlockedBy
	}
	return DependencyBlocking
}

// Dependency is one half of a bidirectional edge, as stored on a task.
type Dependency struct {
	TaskID string         `json:"task_id"`
	Type   DependencyType `json:"type"`
}
