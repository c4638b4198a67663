package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/spf13/cobra"
)

func depCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage blocking dependencies between tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <blocker-id> <blocked-id>",
		Short: "Record that the first task blocks the second",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Graph.AddDependency(ctx, a.Actor, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s now blocks %s\n", args[0], args[1])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <blocker-id> <blocked-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a blocking dependency",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Graph.RemoveDependency(ctx, a.Actor, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s no longer blocks %s\n", args[0], args[1])
				return nil
			})
		},
	})

	cmd.AddCommand(depCheckCmd(c))
	return cmd
}

func depCheckCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report dependency cycles, one-sided edges and blocked tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Graph.Check(ctx, a.ProjectID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, report)
				}

				tasks, err := a.DB.ListTasks(ctx, db.TaskFilter{ProjectID: a.ProjectID})
				if err != nil {
					return err
				}
				titles := make(map[string]string, len(tasks))
				for _, t := range tasks {
					titles[t.ID] = t.Title
				}
				title := func(id string) string {
					if s, ok := titles[id]; ok {
						return s
					}
					return id
				}

				if len(report.Cycles) == 0 {
					fmt.Fprintln(out, "✓ No dependency cycles")
				}
				for _, cycle := range report.Cycles {
					names := make([]string, 0, len(cycle)+1)
					for _, id := range cycle {
						names = append(names, title(id))
					}
					names = append(names, title(cycle[0]))
					fmt.Fprintf(out, "✗ Cycle: %s\n", strings.Join(names, " → "))
				}
				for _, e := range report.Asymmetric {
					fmt.Fprintf(out, "✗ One-sided edge: %s → %s\n", title(e.Source), title(e.Target))
				}
				if len(report.Blocked) > 0 {
					fmt.Fprintf(out, "\nBlocked tasks (%d):\n", len(report.Blocked))
					for _, id := range report.Blocked {
						fmt.Fprintf(out, "  - %s\n", title(id))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
