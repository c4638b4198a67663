package db

import (
	"context"
	"testing"
	"time"

	"github.com/nick-dorsch/trellis/pkg/models"
)

func TestTaskCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	task := &models.Task{
		ProjectID:   "p1",
		Title:       "Write docs",
		Description: "All of them",
		Status:      models.TaskStatusDone,
		Assignee:    models.StringPtr("alice"),
		CategoryID:  models.StringPtr("cat-1"),
		DueDate:     &due,
		Links:       []models.Link{{URL: "https://example.com", Title: "Example"}},
	}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID == "" {
		t.Fatal("Expected generated ID")
	}
	if task.Status != models.TaskStatusTodo {
		t.Errorf("Expected new task at todo, got %s", task.Status)
	}

	got, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected task, got nil")
	}
	if got.Title != "Write docs" || got.Status != models.TaskStatusTodo {
		t.Errorf("Unexpected task: %+v", got)
	}
	if models.Deref(got.Assignee) != "alice" {
		t.Errorf("Expected assignee alice, got %v", got.Assignee)
	}
	if got.FeatureID != nil {
		t.Errorf("Expected nil feature, got %v", *got.FeatureID)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("Expected due date %v, got %v", due, got.DueDate)
	}
	if len(got.Links) != 1 || got.Links[0].URL != "https://example.com" || got.Links[0].ID == "" {
		t.Errorf("Unexpected links: %+v", got.Links)
	}
	if got.Dependencies == nil || got.TimeLogs == nil {
		t.Error("Expected empty, non-nil slices")
	}

	got.Title = "Write better docs"
	got.Status = models.TaskStatusInProgress
	got.HasBeenReproved = true
	got.Links = nil
	if err := db.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, err = db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "Write better docs" || got.Status != models.TaskStatusInProgress || !got.HasBeenReproved {
		t.Errorf("Update not persisted: %+v", got)
	}
	if len(got.Links) != 0 {
		t.Errorf("Expected links cleared, got %+v", got.Links)
	}

	if err := db.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	got, err = db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil after delete, got %+v", got)
	}

	if err := db.DeleteTask(ctx, task.ID); err == nil {
		t.Error("Expected error deleting missing task")
	}
}

func TestUpdateMissingTask(t *testing.T) {
	db := newTestDB(t)
	err := db.UpdateTask(context.Background(), &models.Task{ID: "nope", Title: "x", Status: models.TaskStatusTodo})
	if err == nil {
		t.Fatal("Expected error updating missing task")
	}
}

func TestListTasksFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	f := &models.Feature{ProjectID: "p1", Name: "Login"}
	if err := db.CreateFeature(ctx, f); err != nil {
		t.Fatalf("CreateFeature failed: %v", err)
	}

	a := &models.Task{ProjectID: "p1", Title: "A", FeatureID: models.StringPtr(f.ID), Assignee: models.StringPtr("bob")}
	b := &models.Task{ProjectID: "p1", Title: "B"}
	c := &models.Task{ProjectID: "p2", Title: "C"}
	for _, task := range []*models.Task{a, b, c} {
		if err := db.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter TaskFilter
		want   int
	}{
		{"all", TaskFilter{}, 3},
		{"project", TaskFilter{ProjectID: "p1"}, 2},
		{"feature", TaskFilter{FeatureID: &f.ID}, 1},
		{"assignee", TaskFilter{Assignee: models.StringPtr("bob")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := db.ListTasks(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTasks failed: %v", err)
			}
			if len(tasks) != tt.want {
				t.Errorf("Expected %d tasks, got %d", tt.want, len(tasks))
			}
		})
	}

	status := models.TaskStatusTodo
	tasks, err := db.ListTasks(ctx, TaskFilter{ProjectID: "p1", Status: &status})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("Expected 2 todo tasks in p1, got %d", len(tasks))
	}
}

func TestTaskStatuses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := &models.Task{ProjectID: "p1", Title: "A"}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	err := db.RunInTx(ctx, func(tx *Tx) error {
		statuses, err := tx.TaskStatuses(ctx, []string{task.ID, "missing"})
		if err != nil {
			return err
		}
		if len(statuses) != 1 || statuses[task.ID] != models.TaskStatusTodo {
			t.Errorf("Unexpected statuses: %v", statuses)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}
