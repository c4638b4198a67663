// Package app wires the store, engines and observability into one value
// shared by the CLI, the MCP server and the web server.
package app

import (
	"github.com/nick-dorsch/trellis/internal/activity"
	"github.com/nick-dorsch/trellis/internal/db"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/log"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/internal/timetrack"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

type App struct {
	DB        *db.DB
	Engine    *workflow.Engine
	Graph     *graph.Manager
	Timer     *timetrack.Tracker
	Activity  *activity.Recorder
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Log       *log.Logger
	Actor     models.Actor
	ProjectID string
}

// New builds every service on top of database. Operations run as actor in
// projectID unless a caller says otherwise.
func New(database *db.DB, actor models.Actor, projectID string, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Discard()
	}
	registry, m := metrics.NewRegistry()
	recorder := activity.NewRecorder(database, logger, m)
	tracker := timetrack.NewTracker(database, logger, m, recorder)

	return &App{
		DB:        database,
		Engine:    workflow.NewEngine(database, tracker, logger, m, recorder),
		Graph:     graph.NewManager(database, logger, recorder),
		Timer:     tracker,
		Activity:  recorder,
		Metrics:   m,
		Registry:  registry,
		Log:       logger,
		Actor:     actor,
		ProjectID: projectID,
	}
}
