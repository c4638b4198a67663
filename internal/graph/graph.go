// Package graph computes blocked tasks and cycle diagnostics over the
// dependency edges stored on tasks, and mutates those edges symmetrically.
package graph

import (
	"sort"

	"github.com/nick-dorsch/trellis/pkg/models"
)

// Set is a set of task IDs.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StatusLookup reports the status of a task and whether it is known.
type StatusLookup func(id string) (models.TaskStatus, bool)

// IsBlocked reports whether any blocked_by target of t that statusOf knows
// about is not done. Targets statusOf does not know about never block.
func IsBlocked(t *models.Task, statusOf StatusLookup) bool {
	for _, id := range t.BlockedBy() {
		if status, ok := statusOf(id); ok && status != models.TaskStatusDone {
			return true
		}
	}
	return false
}

// Lookup builds a StatusLookup over tasks.
func Lookup(tasks []*models.Task) StatusLookup {
	statuses := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		statuses[t.ID] = t.Status
	}
	return func(id string) (models.TaskStatus, bool) {
		s, ok := statuses[id]
		return s, ok
	}
}

// ComputeBlocked returns the IDs of the tasks in the collection that are
// blocked by another task in the same collection.
func ComputeBlocked(tasks []*models.Task) Set {
	statusOf := Lookup(tasks)
	blocked := make(Set)
	for _, t := range tasks {
		if IsBlocked(t, statusOf) {
			blocked[t.ID] = struct{}{}
		}
	}
	return blocked
}

// Edge is a directed dependency: Source blocks Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Asymmetric returns edge halves within the collection whose counterpart is
// missing on the other endpoint. Halves pointing outside the collection are
// ignored.
func Asymmetric(tasks []*models.Task) []Edge {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	has := func(t *models.Task, d models.Dependency) bool {
		for _, e := range t.Dependencies {
			if e == d {
				return true
			}
		}
		return false
	}

	var out []Edge
	for _, t := range tasks {
		for _, d := range t.Dependencies {
			other, ok := byID[d.TaskID]
			if !ok {
				continue
			}
			if has(other, models.Dependency{TaskID: t.ID, Type: d.Type.Inverse()}) {
				continue
			}
			if d.Type == models.DependencyBlocking {
				out = append(out, Edge{Source: t.ID, Target: d.TaskID})
			} else {
				out = append(out, Edge{Source: d.TaskID, Target: t.ID})
			}
		}
	}
	return out
}

// FindCycles returns dependency cycles among tasks, each as the list of task
// IDs along the cycle starting from its smallest ID. Every cycle reachable by
// a depth-first walk is reported once; overlapping cycles may be reported as
// a single one.
func FindCycles(tasks []*models.Task) [][]string {
	adj := adjacency(tasks)

	nodes := make([]string, 0, len(adj))
	for id := range adj {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	visited := make(map[string]bool)
	onStack := make(map[string]int)
	var stack []string
	seen := make(map[string]bool)
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = len(stack)
		stack = append(stack, id)

		for _, next := range adj[id] {
			if idx, ok := onStack[next]; ok {
				cycle := canonical(stack[idx:])
				key := joinIDs(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
	}

	for _, id := range nodes {
		if !visited[id] {
			visit(id)
		}
	}
	return cycles
}

// adjacency maps each task to the tasks it blocks, taken from both halves
// of every edge so a one-sided edge still counts.
func adjacency(tasks []*models.Task) map[string][]string {
	sets := make(map[string]map[string]bool)
	add := func(from, to string) {
		if sets[from] == nil {
			sets[from] = make(map[string]bool)
		}
		sets[from][to] = true
		if sets[to] == nil {
			sets[to] = make(map[string]bool)
		}
	}
	for _, t := range tasks {
		if sets[t.ID] == nil {
			sets[t.ID] = make(map[string]bool)
		}
		for _, d := range t.Dependencies {
			if d.Type == models.DependencyBlocking {
				add(t.ID, d.TaskID)
			} else {
				add(d.TaskID, t.ID)
			}
		}
	}

	adj := make(map[string][]string, len(sets))
	for id, targets := range sets {
		list := make([]string, 0, len(targets))
		for to := range targets {
			list = append(list, to)
		}
		sort.Strings(list)
		adj[id] = list
	}
	return adj
}

func canonical(path []string) []string {
	lo := 0
	for i, id := range path {
		if id < path[lo] {
			lo = i
		}
	}
	out := make([]string, 0, len(path))
	out = append(out, path[lo:]...)
	out = append(out, path[:lo]...)
	return out
}

func joinIDs(ids []string) string {
	key := ""
	for _, id := range ids {
		key += id + "\x00"
	}
	return key
}
