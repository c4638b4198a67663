package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/timetrack"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/spf13/cobra"
)

func timerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Track time spent on tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <task-id>",
		Short: "Start a timer on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				timer, err := a.Timer.Start(ctx, a.Actor, args[0], a.ProjectID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Timer started on %s at %s\n", timer.TaskID, timer.StartTime.Format("15:04:05"))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running timer and log the time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				entry, err := a.Timer.Stop(ctx, a.Actor)
				if err != nil {
					return err
				}
				if entry == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No time logged.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Logged %s\n", timetrack.FormatDuration(entry.DurationInSeconds))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the running timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return printTimer(ctx, cmd.OutOrStdout(), a)
			})
		},
	})

	return cmd
}

func printTimer(ctx context.Context, w io.Writer, a *app.App) error {
	timer, err := a.Timer.Status(ctx, a.Actor.ID)
	if err != nil {
		return err
	}
	if timer == nil {
		fmt.Fprintln(w, "No timer running.")
		return nil
	}

	title := timer.TaskID
	if t, err := a.DB.GetTask(ctx, timer.TaskID); err == nil && t != nil {
		title = t.Title
	}
	elapsed := timetrack.Elapsed(timer.StartTime, a.DB.Now())
	fmt.Fprintf(w, "Timer running on %s for %s\n", title, timetrack.FormatDuration(max(elapsed, 0)))
	return nil
}

func activityCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.DB.ListActivity(ctx, a.ProjectID, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No activity yet.")
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%s  %-22s %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Type, e.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	return cmd
}

var statusLabels = []struct {
	status models.TaskStatus
	label  string
}{
	{models.TaskStatusTodo, "To Do"},
	{models.TaskStatusInProgress, "In Progress"},
	{models.TaskStatusReadyForQA, "Ready for QA"},
	{models.TaskStatusInTesting, "In Testing"},
	{models.TaskStatusApproved, "Approved"},
	{models.TaskStatusDone, "Done"},
}

func statusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task and feature counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runStatus(ctx, cmd.OutOrStdout(), a)
			})
		},
	}
}

func runStatus(ctx context.Context, w io.Writer, a *app.App) error {
	features, err := a.DB.ListFeatures(ctx, a.ProjectID)
	if err != nil {
		return err
	}
	tasks, err := a.DB.ListTasks(ctx, db.TaskFilter{ProjectID: a.ProjectID})
	if err != nil {
		return err
	}
	blocked := graph.ComputeBlocked(tasks)

	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}

	fmt.Fprintln(w, "Trellis Project Status")
	fmt.Fprintln(w, "======================")
	fmt.Fprintf(w, "Project:         %s\n", a.ProjectID)
	fmt.Fprintf(w, "Features:        %d\n", len(features))
	fmt.Fprintf(w, "Total Tasks:     %d\n", len(tasks))
	fmt.Fprintf(w, "Blocked Tasks:   %d\n", len(blocked))

	fmt.Fprintln(w, "\nTask Breakdown:")
	for _, s := range statusLabels {
		fmt.Fprintf(w, "  %-13s %d\n", s.label+":", counts[s.status])
	}

	if len(features) > 0 {
		fmt.Fprintln(w, "\nFeatures:")
		for _, f := range features {
			fmt.Fprintf(w, "  - %s (%s)\n", f.Name, f.Status)
		}
	}

	fmt.Fprintln(w)
	return printTimer(ctx, w, a)
}
