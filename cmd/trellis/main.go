package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/config"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/ui"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apperr.UserMessage(err))
		os.Exit(1)
	}
}

// cli carries what every subcommand needs once flags are parsed.
type cli struct {
	v      *viper.Viper
	root   string
	cfg    *config.Config
	logger *log.Logger
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"db-path":    "db_path",
	"project":    "project",
	"user":       "user",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "trellis",
		Short: "Trellis - tasks, features and QA for a repository",
		Long: `Trellis tracks the tasks and features of a project in a local SQLite
database under .trellis/. Run without arguments to pick a command from a menu.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
		RunE: c.runMenu,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.root, "root", ".", "directory holding .trellis/")
	flags.String("db-path", "", "database file (default .trellis/trellis.db)")
	flags.String("project", "", "project to operate on")
	flags.String("user", "", "user recorded as the actor")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	for name, key := range flagKeys {
		_ = c.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(initCmd(c))
	rootCmd.AddCommand(taskCmd(c))
	rootCmd.AddCommand(featureCmd(c))
	rootCmd.AddCommand(depCmd(c))
	rootCmd.AddCommand(timerCmd(c))
	rootCmd.AddCommand(activityCmd(c))
	rootCmd.AddCommand(statusCmd(c))
	rootCmd.AddCommand(boardCmd(c))
	rootCmd.AddCommand(mcpCmd(c))
	rootCmd.AddCommand(webCmd(c))
	rootCmd.AddCommand(snapshotCmd(c))

	return rootCmd
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.v, c.root)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = log.New(log.Config{
		Level:  log.ParseLevel(cfg.Log.Level),
		Format: log.ParseFormat(cfg.Log.Format),
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// open opens the configured database and wires the services on top of it.
// The returned func closes the database.
func (c *cli) open(ctx context.Context) (*app.App, func(), error) {
	if _, err := os.Stat(c.cfg.DBPath); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("no database at %s; run 'trellis init' first", c.cfg.DBPath)
	}

	database, err := db.Open(c.cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := app.New(database, models.Actor{ID: c.cfg.User}, c.cfg.Project, c.logger)
	if c.cfg.AutoSnapshot {
		database.EnableAutoSnapshot(c.cfg.SnapshotPath, a.Log, a.Metrics)
	}
	return a, func() { database.Close() }, nil
}

// withApp runs fn against an open app and closes it afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, a)
}

// menuCommands maps launcher entries onto command lines.
var menuCommands = map[string][]string{
	"board":         {"board"},
	"status":        {"status"},
	"list-tasks":    {"task", "list"},
	"list-features": {"feature", "list"},
	"cycles":        {"dep", "check"},
	"web":           {"web"},
	"mcp":           {"mcp"},
	"init":          {"init"},
}

func (c *cli) runMenu(cmd *cobra.Command, args []string) error {
	choice, err := ui.RunMenu()
	if err != nil {
		return err
	}
	line, ok := menuCommands[choice]
	if !ok {
		return nil
	}
	sub, rest, err := cmd.Root().Find(line)
	if err != nil {
		return err
	}
	return sub.RunE(sub, rest)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func printTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

// resolveFeature accepts a feature ID or name.
func resolveFeature(ctx context.Context, a *app.App, ref string) (*models.Feature, error) {
	f, err := a.DB.GetFeature(ctx, ref)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if f != nil && f.ProjectID == a.ProjectID {
		return f, nil
	}
	f, err = a.DB.GetFeatureByName(ctx, a.ProjectID, ref)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if f == nil {
		return nil, apperr.NotFound(apperr.CodeFeatureNotFound, "feature %q not found", ref)
	}
	return f, nil
}
