package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/config"
	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/spf13/cobra"
)

func initCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .trellis/ and its database",
		Long: `Create the .trellis/ directory and initialize the database. When a
snapshot is present it is imported, so a fresh clone picks up the
committed state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(cmd)
		},
	}
}

func (c *cli) runInit(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	dir := filepath.Join(c.root, config.DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", config.DirName, err)
	}
	fmt.Fprintf(out, "✓ Created %s/ directory\n", config.DirName)

	gitignorePath := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("trellis.db*\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Fprintf(out, "✓ Created %s/.gitignore\n", config.DirName)

	if err := os.MkdirAll(filepath.Dir(c.cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	database, err := db.Open(c.cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Fprintf(out, "✓ Initialized database at %s\n", c.cfg.DBPath)

	if _, err := os.Stat(c.cfg.SnapshotPath); err == nil {
		if err := database.ImportSnapshot(ctx, c.cfg.SnapshotPath); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Fprintf(out, "✓ Imported snapshot from %s\n", c.cfg.SnapshotPath)
	}

	fmt.Fprintln(out, "✓ Trellis initialized successfully")
	return nil
}

func snapshotCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the JSONL snapshot",
	}

	pathOr := func(args []string) string {
		if len(args) > 0 {
			return args[0]
		}
		return c.cfg.SnapshotPath
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export [path]",
		Short: "Write every feature and task to a snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				path := pathOr(args)
				if err := a.DB.ExportSnapshot(ctx, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", path)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [path]",
		Short: "Upsert features and tasks from a snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				path := pathOr(args)
				if err := a.DB.ImportSnapshot(ctx, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported snapshot from %s\n", path)
				return nil
			})
		},
	})

	return cmd
}
