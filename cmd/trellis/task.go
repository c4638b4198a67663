package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/ui/components"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/spf13/cobra"
)

func taskCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, move and review tasks",
	}

	cmd.AddCommand(taskCreateCmd(c))
	cmd.AddCommand(taskListCmd(c))
	cmd.AddCommand(taskShowCmd(c))
	cmd.AddCommand(taskMoveCmd(c))
	cmd.AddCommand(taskAssignCmd(c))
	cmd.AddCommand(taskSetFeatureCmd(c))
	cmd.AddCommand(taskClearFeatureCmd(c))
	cmd.AddCommand(taskRenameCmd(c))
	cmd.AddCommand(taskDeleteCmd(c))
	cmd.AddCommand(taskApproveCmd(c))
	cmd.AddCommand(taskReproveCmd(c))

	return cmd
}

func taskCreateCmd(c *cli) *cobra.Command {
	var (
		description string
		feature     string
		assignee    string
		due         string
	)

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task in todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				in := workflow.NewTask{Title: args[0], Description: description, Assignee: assignee}
				if feature != "" {
					f, err := resolveFeature(ctx, a, feature)
					if err != nil {
						return err
					}
					in.FeatureID = f.ID
				}
				if due != "" {
					d, err := time.Parse("2006-01-02", due)
					if err != nil {
						return apperr.Validation(apperr.ReasonInvalidCommand, "due date %q is not YYYY-MM-DD", due)
					}
					in.DueDate = &d
				}

				t, err := a.Engine.CreateTask(ctx, a.Actor, a.ProjectID, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created task %s (%s)\n", t.Title, t.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature ID or name")
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "user to assign")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")

	return cmd
}

func taskListCmd(c *cli) *cobra.Command {
	var (
		status   string
		feature  string
		assignee string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				filter := db.TaskFilter{ProjectID: a.ProjectID}
				if status != "" {
					s := models.TaskStatus(status)
					if !s.Valid() {
						return apperr.Validation(apperr.ReasonInvalidCommand, "unknown status %q", status)
					}
					filter.Status = &s
				}
				if feature != "" {
					f, err := resolveFeature(ctx, a, feature)
					if err != nil {
						return err
					}
					filter.FeatureID = &f.ID
				}
				if assignee != "" {
					filter.Assignee = &assignee
				}

				tasks, err := a.DB.ListTasks(ctx, filter)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				return printTasks(ctx, cmd.OutOrStdout(), a, tasks)
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only tasks in this status")
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "only tasks of this feature (ID or name)")
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "only tasks assigned to this user")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func printTasks(ctx context.Context, w io.Writer, a *app.App, tasks []*models.Task) error {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found.")
		return nil
	}

	features, err := a.DB.ListFeatures(ctx, a.ProjectID)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(features))
	for _, f := range features {
		names[f.ID] = f.Name
	}

	// Blocking depends on tasks outside any filter.
	all, err := a.DB.ListTasks(ctx, db.TaskFilter{ProjectID: a.ProjectID})
	if err != nil {
		return err
	}
	blocked := graph.ComputeBlocked(all)

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		title := t.Title
		if blocked.Has(t.ID) {
			title = "⊘ " + title
		}
		rows = append(rows, []string{
			t.ID,
			title,
			string(t.Status),
			names[models.Deref(t.FeatureID)],
			models.Deref(t.Assignee),
		})
	}
	printTable(w, []string{"ID", "TITLE", "STATUS", "FEATURE", "ASSIGNEE"}, rows)
	return nil
}

func taskShowCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				t, err := a.DB.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if t == nil || t.ProjectID != a.ProjectID {
					return apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found", args[0])
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), t)
				}

				all, err := a.DB.ListTasks(ctx, db.TaskFilter{ProjectID: a.ProjectID})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), components.RenderTask(t, graph.IsBlocked(t, graph.Lookup(all))))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// transitionCmd builds a command that applies cmds to the task named by the
// first argument.
func transitionCmd(c *cli, use, short string, nargs int, cmds func(args []string) []workflow.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.TransitionTask(ctx, a.Actor, a.ProjectID, args[0], cmds(args)...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", t.Title, t.Status)
				return nil
			})
		},
	}
}

func taskMoveCmd(c *cli) *cobra.Command {
	cmd := transitionCmd(c, "move <task-id> <status>", "Change a task's status", 2, func(args []string) []workflow.Command {
		return []workflow.Command{workflow.ChangeStatus{Status: models.TaskStatus(args[1])}}
	})
	cmd.Args = cobra.ExactArgs(2)
	cmd.Long = "Statuses: todo, inprogress, ready_for_qa, in_testing, approved, done."
	return cmd
}

func taskAssignCmd(c *cli) *cobra.Command {
	return transitionCmd(c, "assign <task-id> [user]", "Assign a task, or unassign it when no user is given", 2, func(args []string) []workflow.Command {
		if len(args) < 2 {
			return []workflow.Command{workflow.Unassign{}}
		}
		return []workflow.Command{workflow.AssignUser{UserID: args[1]}}
	})
}

func taskRenameCmd(c *cli) *cobra.Command {
	cmd := transitionCmd(c, "rename <task-id> <title>", "Rename a task", 2, func(args []string) []workflow.Command {
		return []workflow.Command{workflow.Rename{Title: args[1]}}
	})
	cmd.Args = cobra.ExactArgs(2)
	return cmd
}

func taskClearFeatureCmd(c *cli) *cobra.Command {
	cmd := transitionCmd(c, "clear-feature <task-id>", "Unlink a task from its feature", 1, func(args []string) []workflow.Command {
		return []workflow.Command{workflow.ClearFeature{}}
	})
	cmd.Args = cobra.ExactArgs(1)
	return cmd
}

func taskSetFeatureCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set-feature <task-id> <feature>",
		Short: "Link a task to a feature (ID or name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				f, err := resolveFeature(ctx, a, args[1])
				if err != nil {
					return err
				}
				t, err := a.Engine.TransitionTask(ctx, a.Actor, a.ProjectID, args[0], workflow.SetFeature{FeatureID: f.ID})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is part of %s\n", t.Title, f.Name)
				return nil
			})
		},
	}
}

func taskDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteTask(ctx, a.Actor, a.ProjectID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func taskApproveCmd(c *cli) *cobra.Command {
	var feature string

	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task in QA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				featureID, err := reviewFeature(ctx, a, args[0], feature)
				if err != nil {
					return err
				}
				t, err := a.Engine.ApproveTask(ctx, a.Actor, a.ProjectID, args[0], featureID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Approved %s\n", t.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature under review (default: the task's feature)")
	return cmd
}

func taskReproveCmd(c *cli) *cobra.Command {
	var (
		feature  string
		feedback string
	)

	cmd := &cobra.Command{
		Use:   "reprove <task-id>",
		Short: "Send a task back to todo with QA feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				featureID, err := reviewFeature(ctx, a, args[0], feature)
				if err != nil {
					return err
				}
				t, err := a.Engine.ReproveTask(ctx, a.Actor, a.ProjectID, args[0], featureID, feedback)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Reproved %s\n", t.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature under review (default: the task's feature)")
	cmd.Flags().StringVarP(&feedback, "feedback", "m", "", "feedback left as a comment for the assignee")
	return cmd
}

// reviewFeature resolves the feature a review names, falling back to the
// task's own feature.
func reviewFeature(ctx context.Context, a *app.App, taskID, ref string) (string, error) {
	if ref != "" {
		f, err := resolveFeature(ctx, a, ref)
		if err != nil {
			return "", err
		}
		return f.ID, nil
	}
	t, err := a.DB.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found", taskID)
	}
	return models.Deref(t.FeatureID), nil
}
