package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
)

const version = "0.1.0"

// NewServer creates a new MCP server. Every tool runs as a.Actor in
// a.ProjectID.
func NewServer(a *app.App) *server.MCPServer {
	s := server.NewMCPServer("Trellis", version)

	// Feature Management
	s.AddTool(mcp.NewTool("create_feature",
		mcp.WithDescription("Propose a new feature. Changes are staged and must be committed to take effect."),
		mcp.WithString("name", mcp.Description("Feature name (unique in the project)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Feature description")),
		mcp.WithString("module_id", mcp.Description("Module the feature belongs to")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), createFeatureHandler(a))

	s.AddTool(mcp.NewTool("list_features",
		mcp.WithDescription("List all features in the project."),
	), listFeaturesHandler(a))

	s.AddTool(mcp.NewTool("get_feature",
		mcp.WithDescription("Get a single feature by name."),
		mcp.WithString("name", mcp.Description("Feature name"), mcp.Required()),
	), getFeatureHandler(a))

	s.AddTool(mcp.NewTool("approve_feature",
		mcp.WithDescription("Approve a feature. Its tasks in testing move to approved."),
		mcp.WithString("feature_id", mcp.Description("Feature ID"), mcp.Required()),
	), featureActionHandler(a, a.Engine.ApproveFeature))

	s.AddTool(mcp.NewTool("reprove_feature",
		mcp.WithDescription("Reprove a feature. Its tasks in testing return to todo."),
		mcp.WithString("feature_id", mcp.Description("Feature ID"), mcp.Required()),
	), featureActionHandler(a, a.Engine.ReproveFeature))

	s.AddTool(mcp.NewTool("release_feature",
		mcp.WithDescription("Release an approved feature."),
		mcp.WithString("feature_id", mcp.Description("Feature ID"), mcp.Required()),
	), featureActionHandler(a, a.Engine.ReleaseFeature))

	s.AddTool(mcp.NewTool("delete_feature",
		mcp.WithDescription("Delete a feature. Its tasks are kept and detached."),
		mcp.WithString("feature_id", mcp.Description("Feature ID"), mcp.Required()),
	), deleteFeatureHandler(a))

	// Task Management
	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Propose a new task. Changes are staged and must be committed to take effect."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("feature_name", mcp.Description("Feature to link, staged or existing")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), createTaskHandler(a))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithString("feature_id", mcp.Description("Filter by feature ID")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee")),
	), listTasksHandler(a))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task with its dependencies, time logs and links."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), getTaskHandler(a))

	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Move a task to a new status (todo|inprogress|ready_for_qa|in_testing|approved|done)."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status"), mcp.Required()),
	), updateTaskStatusHandler(a))

	s.AddTool(mcp.NewTool("assign_task",
		mcp.WithDescription("Assign a task to a user, or unassign it when user_id is empty."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("user_id", mcp.Description("User ID")),
	), assignTaskHandler(a))

	s.AddTool(mcp.NewTool("set_task_feature",
		mcp.WithDescription("Link a task to a feature, or unlink it when feature_id is empty."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("feature_id", mcp.Description("Feature ID")),
	), setTaskFeatureHandler(a))

	s.AddTool(mcp.NewTool("approve_task",
		mcp.WithDescription("Approve a task in testing. The feature is approved with its last task."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("feature_id", mcp.Description("Feature ID the task must belong to"), mcp.Required()),
	), approveTaskHandler(a))

	s.AddTool(mcp.NewTool("reprove_task",
		mcp.WithDescription("Send a task back to todo with QA feedback."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("feature_id", mcp.Description("Feature ID the task must belong to"), mcp.Required()),
		mcp.WithString("feedback", mcp.Description("What failed; added as a comment")),
	), reproveTaskHandler(a))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), deleteTaskHandler(a))

	// Dependency Management
	s.AddTool(mcp.NewTool("create_dependency",
		mcp.WithDescription("Propose that one task blocks another. Changes are staged and must be committed to take effect."),
		mcp.WithString("task_title", mcp.Description("Title of the blocking task"), mcp.Required()),
		mcp.WithString("blocked_task_title", mcp.Description("Title of the task that waits"), mcp.Required()),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), createDependencyHandler(a))

	s.AddTool(mcp.NewTool("add_dependency",
		mcp.WithDescription("Make a task wait on another task immediately."),
		mcp.WithString("task_id", mcp.Description("Blocking task ID"), mcp.Required()),
		mcp.WithString("blocked_task_id", mcp.Description("Waiting task ID"), mcp.Required()),
	), addDependencyHandler(a))

	s.AddTool(mcp.NewTool("delete_dependency",
		mcp.WithDescription("Remove a dependency."),
		mcp.WithString("task_id", mcp.Description("Blocking task ID"), mcp.Required()),
		mcp.WithString("blocked_task_id", mcp.Description("Waiting task ID"), mcp.Required()),
	), deleteDependencyHandler(a))

	s.AddTool(mcp.NewTool("check_dependency_cycles",
		mcp.WithDescription("Report dependency cycles, one-sided edges and blocked tasks."),
	), checkDependencyCyclesHandler(a))

	// Time Tracking
	s.AddTool(mcp.NewTool("start_timer",
		mcp.WithDescription("Start a timer on a task. Fails if one is already running."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), startTimerHandler(a))

	s.AddTool(mcp.NewTool("stop_timer",
		mcp.WithDescription("Stop the running timer and log the elapsed time."),
	), stopTimerHandler(a))

	s.AddTool(mcp.NewTool("timer_status",
		mcp.WithDescription("Show the running timer, if any."),
	), timerStatusHandler(a))

	// Activity
	s.AddTool(mcp.NewTool("list_activity",
		mcp.WithDescription("Recent activity in the project, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 50)")),
	), listActivityHandler(a))

	// Staging Management
	s.AddTool(mcp.NewTool("commit_staged_changes",
		mcp.WithDescription("Commit all staged changes for a session. This applies all proposed features, tasks, and dependencies at once."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), commitStagedChangesHandler(a))

	s.AddTool(mcp.NewTool("list_staged_changes",
		mcp.WithDescription("List all staged changes for a session. Use this to review a proposed plan before committing."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), listStagedChangesHandler(a))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func toolError(err error) *mcp.CallToolResult {
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindStore {
		return mcp.NewToolResultError(apperr.UserMessage(err))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func createFeatureHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sessionID := mcp.ParseString(request, "session_id", "default")

		a.DB.Staging.AddFeature(sessionID, &models.Feature{
			Name:        name,
			Description: mcp.ParseString(request, "description", ""),
			ModuleID:    mcp.ParseString(request, "module_id", ""),
		})
		return mcp.NewToolResultText(fmt.Sprintf("Feature '%s' staged for session '%s'. Propose another or call 'commit_staged_changes' to apply.", name, sessionID)), nil
	}
}

func listFeaturesHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		features, err := a.DB.ListFeatures(ctx, a.ProjectID)
		if err != nil {
			return toolError(apperr.Store(err)), nil
		}
		return jsonResult(map[string]any{"features": features})
	}
}

func getFeatureHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f, err := a.DB.GetFeatureByName(ctx, a.ProjectID, name)
		if err != nil {
			return toolError(apperr.Store(err)), nil
		}
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature with name '%s' not found", name)), nil
		}
		return jsonResult(f)
	}
}

type featureActionFunc func(ctx context.Context, actor models.Actor, projectID, featureID string) (*models.Feature, error)

func featureActionHandler(a *app.App, action featureActionFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		featureID, err := request.RequireString("feature_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f, err := action(ctx, a.Actor, a.ProjectID, featureID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(f)
	}
}

func deleteFeatureHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		featureID, err := request.RequireString("feature_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.Engine.DeleteFeature(ctx, a.Actor, a.ProjectID, featureID); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Feature deleted successfully"), nil
	}
}

func createTaskHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := request.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sessionID := mcp.ParseString(request, "session_id", "default")

		a.DB.Staging.AddTask(sessionID, &db.StagedTask{
			Task: &models.Task{
				Title:       title,
				Description: mcp.ParseString(request, "description", ""),
			},
			FeatureName: mcp.ParseString(request, "feature_name", ""),
		})
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged for session '%s'. Propose another or call 'commit_staged_changes' to apply.", title, sessionID)), nil
	}
}

func listTasksHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := db.TaskFilter{ProjectID: a.ProjectID}
		if s := mcp.ParseString(request, "status", ""); s != "" {
			status := models.TaskStatus(s)
			if !status.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", s)), nil
			}
			filter.Status = &status
		}
		if f := mcp.ParseString(request, "feature_id", ""); f != "" {
			filter.FeatureID = &f
		}
		if u := mcp.ParseString(request, "assignee", ""); u != "" {
			filter.Assignee = &u
		}

		tasks, err := a.DB.ListTasks(ctx, filter)
		if err != nil {
			return toolError(apperr.Store(err)), nil
		}
		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func getTaskHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t, err := a.DB.GetTask(ctx, taskID)
		if err != nil {
			return toolError(apperr.Store(err)), nil
		}
		if t == nil || t.ProjectID != a.ProjectID {
			return mcp.NewToolResultError(fmt.Sprintf("Task '%s' not found", taskID)), nil
		}
		return jsonResult(t)
	}
}

// transitionHandler runs the commands built by cmds through the engine.
func transitionHandler(a *app.App, cmds func(request mcp.CallToolRequest) ([]workflow.Command, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		commands, err := cmds(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t, err := a.Engine.TransitionTask(ctx, a.Actor, a.ProjectID, taskID, commands...)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(t)
	}
}

func updateTaskStatusHandler(a *app.App) server.ToolHandlerFunc {
	return transitionHandler(a, func(request mcp.CallToolRequest) ([]workflow.Command, error) {
		status, err := request.RequireString("status")
		if err != nil {
			return nil, err
		}
		return []workflow.Command{workflow.ChangeStatus{Status: models.TaskStatus(status)}}, nil
	})
}

func assignTaskHandler(a *app.App) server.ToolHandlerFunc {
	return transitionHandler(a, func(request mcp.CallToolRequest) ([]workflow.Command, error) {
		if userID := mcp.ParseString(request, "user_id", ""); userID != "" {
			return []workflow.Command{workflow.AssignUser{UserID: userID}}, nil
		}
		return []workflow.Command{workflow.Unassign{}}, nil
	})
}

func setTaskFeatureHandler(a *app.App) server.ToolHandlerFunc {
	return transitionHandler(a, func(request mcp.CallToolRequest) ([]workflow.Command, error) {
		if featureID := mcp.ParseString(request, "feature_id", ""); featureID != "" {
			return []workflow.Command{workflow.SetFeature{FeatureID: featureID}}, nil
		}
		return []workflow.Command{workflow.ClearFeature{}}, nil
	})
}

func approveTaskHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		featureID := mcp.ParseString(request, "feature_id", "")
		t, err := a.Engine.ApproveTask(ctx, a.Actor, a.ProjectID, taskID, featureID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(t)
	}
}

func reproveTaskHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		featureID := mcp.ParseString(request, "feature_id", "")
		feedback := mcp.ParseString(request, "feedback", "")
		t, err := a.Engine.ReproveTask(ctx, a.Actor, a.ProjectID, taskID, featureID, feedback)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(t)
	}
}

func deleteTaskHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.Engine.DeleteTask(ctx, a.Actor, a.ProjectID, taskID); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Task deleted successfully"), nil
	}
}

func createDependencyHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source := mcp.ParseString(request, "task_title", "")
		target := mcp.ParseString(request, "blocked_task_title", "")
		sessionID := mcp.ParseString(request, "session_id", "default")
		if source == "" || target == "" {
			return mcp.NewToolResultError("task_title and blocked_task_title are required"), nil
		}

		a.DB.Staging.AddDependency(sessionID, &db.StagedDependency{SourceTitle: source, TargetTitle: target})
		return mcp.NewToolResultText(fmt.Sprintf("Dependency '%s' blocks '%s' staged for session '%s'. Call 'commit_staged_changes' to apply.", source, target, sessionID)), nil
	}
}

func addDependencyHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source := mcp.ParseString(request, "task_id", "")
		target := mcp.ParseString(request, "blocked_task_id", "")
		if err := a.Graph.AddDependency(ctx, a.Actor, source, target); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Dependency added successfully"), nil
	}
}

func deleteDependencyHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source := mcp.ParseString(request, "task_id", "")
		target := mcp.ParseString(request, "blocked_task_id", "")
		if err := a.Graph.RemoveDependency(ctx, a.Actor, source, target); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Dependency deleted successfully"), nil
	}
}

func checkDependencyCyclesHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := a.Graph.Check(ctx, a.ProjectID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(struct {
			*graph.Report
			Healthy bool `json:"healthy"`
		}{report, report.Healthy()})
	}
}

func startTimerHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timer, err := a.Timer.Start(ctx, a.Actor, taskID, a.ProjectID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(timer)
	}
}

func stopTimerHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entry, err := a.Timer.Stop(ctx, a.Actor)
		if err != nil {
			return toolError(err), nil
		}
		if entry == nil {
			return mcp.NewToolResultText("No time logged"), nil
		}
		return jsonResult(entry)
	}
}

func timerStatusHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		timer, err := a.Timer.Status(ctx, a.Actor.ID)
		if err != nil {
			return toolError(err), nil
		}
		if timer == nil {
			return mcp.NewToolResultText("No timer running"), nil
		}
		return jsonResult(timer)
	}
}

func listActivityHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := mcp.ParseInt(request, "limit", 50)
		entries, err := a.DB.ListActivity(ctx, a.ProjectID, limit)
		if err != nil {
			return toolError(apperr.Store(err)), nil
		}
		return jsonResult(map[string]any{"activity": entries})
	}
}

func commitStagedChangesHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		if err := a.DB.CommitBatch(ctx, a.ProjectID, sessionID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' committed successfully", sessionID)), nil
	}
}

func listStagedChangesHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		return jsonResult(a.DB.Staging.Peek(sessionID))
	}
}
