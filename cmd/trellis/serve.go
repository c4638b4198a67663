package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/board"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/mcp"
	"github.com/nick-dorsch/trellis/internal/server"
	"github.com/spf13/cobra"
)

func boardCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Open the interactive task board",
		Long: `Open the task board. Tasks are moved between columns with [ and ];
moves show immediately and are undone if they cannot be saved. Changes
made by other processes appear as they are committed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The board owns the terminal, so logs go to a file beside the database.
			logPath := filepath.Join(filepath.Dir(c.cfg.DBPath), "board.log")
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open board log: %w", err)
			}
			defer logFile.Close()
			c.logger = log.New(log.Config{Level: c.logger.Config().Level, Format: c.logger.Config().Format, Output: logFile})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				go func() {
					if err := a.DB.Watch(ctx); err != nil {
						a.Log.WithError(err).Warn("database watch stopped")
					}
				}()

				b := board.New(a.Engine, a.Actor, a.ProjectID, a.Log, a.Metrics)
				return board.Run(ctx, b, a.DB)
			})
		},
	}
}

func mcpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve trellis tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.Log.Info("mcp server starting", "project", a.ProjectID)
				return mcp.Serve(mcp.NewServer(a))
			})
		},
	}
}

func webCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API and the Prometheus /metrics endpoint.

Examples:
  trellis web
  trellis web --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				srv := server.NewServer(a)
				errCh := make(chan error, 1)
				go func() {
					errCh <- srv.Start(c.cfg.Web.Addr())
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				a.Log.Info("web server shutting down")
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().String("host", "", "interface to listen on")
	cmd.Flags().Int("port", 0, "port to listen on (default 8000)")
	_ = c.v.BindPFlag("web.host", cmd.Flags().Lookup("host"))
	_ = c.v.BindPFlag("web.port", cmd.Flags().Lookup("port"))

	return cmd
}
