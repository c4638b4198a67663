package db

import (
	"sync"

	"github.com/nick-dorsch/trellis/pkg/models"
)

// StagedTask is a task proposed as part of a plan. FeatureName, when set,
// names a feature staged in the same session or already in the store.
type StagedTask struct {
	Task        *models.Task
	FeatureName string
}

// StagedDependency proposes that the task titled Source blocks the task
// titled Target. IDs take precedence over titles when set.
type StagedDependency struct {
	SourceID    string
	SourceTitle string
	TargetID    string
	TargetTitle string
}

type StagedItems struct {
	Features     []*models.Feature
	Tasks        []*StagedTask
	Dependencies []*StagedDependency
}

func (s *StagedItems) Empty() bool {
	return len(s.Features) == 0 && len(s.Tasks) == 0 && len(s.Dependencies) == 0
}

// StagingManager provides thread-safe in-memory storage for staged changes.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedItems
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedItems),
	}
}

func newStagedItems() *StagedItems {
	return &StagedItems{
		Features:     []*models.Feature{},
		Tasks:        []*StagedTask{},
		Dependencies: []*StagedDependency{},
	}
}

// session returns the items for sessionID, creating them. Callers hold mu.
func (sm *StagingManager) session(sessionID string) *StagedItems {
	items := sm.staged[sessionID]
	if items == nil {
		items = newStagedItems()
		sm.staged[sessionID] = items
	}
	return items
}

func (sm *StagingManager) AddFeature(sessionID string, feature *models.Feature) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	items := sm.session(sessionID)
	items.Features = append(items.Features, feature)
}

func (sm *StagingManager) AddTask(sessionID string, task *StagedTask) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	items := sm.session(sessionID)
	items.Tasks = append(items.Tasks, task)
}

func (sm *StagingManager) AddDependency(sessionID string, dep *StagedDependency) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	items := sm.session(sessionID)
	items.Dependencies = append(items.Dependencies, dep)
}

// GetAndClear removes and returns the session's items. Unknown sessions
// yield an empty, non-nil set.
func (sm *StagingManager) GetAndClear(sessionID string) *StagedItems {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return newStagedItems()
	}

	delete(sm.staged, sessionID)
	return items
}

// Restore puts items back in front of anything staged for sessionID since
// they were taken.
func (sm *StagingManager) Restore(sessionID string, items *StagedItems) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.session(sessionID)
	cur.Features = append(append([]*models.Feature{}, items.Features...), cur.Features...)
	cur.Tasks = append(append([]*StagedTask{}, items.Tasks...), cur.Tasks...)
	cur.Dependencies = append(append([]*StagedDependency{}, items.Dependencies...), cur.Dependencies...)
}

func (sm *StagingManager) Peek(sessionID string) *StagedItems {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return newStagedItems()
	}

	return items
}
