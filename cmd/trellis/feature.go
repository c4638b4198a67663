package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/spf13/cobra"
)

func featureCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Create features and drive them through QA",
	}

	cmd.AddCommand(featureCreateCmd(c))
	cmd.AddCommand(featureListCmd(c))
	cmd.AddCommand(featureActionCmd(c, "approve", "Approve a feature and every task in testing", (*workflow.Engine).ApproveFeature))
	cmd.AddCommand(featureActionCmd(c, "reprove", "Send a feature and its tasks in testing back to development", (*workflow.Engine).ReproveFeature))
	cmd.AddCommand(featureActionCmd(c, "release", "Release an approved feature", (*workflow.Engine).ReleaseFeature))
	cmd.AddCommand(featureDeleteCmd(c))

	return cmd
}

func featureCreateCmd(c *cli) *cobra.Command {
	var (
		description string
		module      string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a feature in backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				f, err := a.Engine.CreateFeature(ctx, a.Actor, a.ProjectID, workflow.NewFeature{
					Name:        args[0],
					Description: description,
					ModuleID:    module,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created feature %s (%s)\n", f.Name, f.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "feature description")
	cmd.Flags().StringVarP(&module, "module", "m", "", "module the feature belongs to")
	return cmd
}

func featureListCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List features and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				features, err := a.DB.ListFeatures(ctx, a.ProjectID)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), features)
				}
				if len(features) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No features found.")
					return nil
				}

				tasks, err := a.DB.ListTasks(ctx, db.TaskFilter{ProjectID: a.ProjectID})
				if err != nil {
					return err
				}
				counts := make(map[string]int)
				for _, t := range tasks {
					counts[models.Deref(t.FeatureID)]++
				}

				rows := make([][]string, 0, len(features))
				for _, f := range features {
					rows = append(rows, []string{f.ID, f.Name, string(f.Status), strconv.Itoa(counts[f.ID]), f.Description})
				}
				printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "STATUS", "TASKS", "DESCRIPTION"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

type featureAction func(e *workflow.Engine, ctx context.Context, actor models.Actor, projectID, featureID string) (*models.Feature, error)

func featureActionCmd(c *cli, use, short string, action featureAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <feature>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				f, err := resolveFeature(ctx, a, args[0])
				if err != nil {
					return err
				}
				f, err = action(a.Engine, ctx, a.Actor, a.ProjectID, f.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", f.Name, f.Status)
				return nil
			})
		},
	}
}

func featureDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <feature>",
		Short: "Delete a feature; its tasks are kept and unlinked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				f, err := resolveFeature(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := a.Engine.DeleteFeature(ctx, a.Actor, a.ProjectID, f.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted feature %s\n", f.Name)
				return nil
			})
		},
	}
}
