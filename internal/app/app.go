// Package app initializes and orchestrates the main components of the
// Stack Warden application. It wires together the configuration, server, and
// other services.
package app

import (
	"context"
	"log/slog"

	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/db"
	"github.com/sevigo/stack-warden/internal/server"
	"github.com/sevigo/stack-warden/internal/storage"
)

// App holds the main application components. Exported fields are used by the
// CLI, which drives jobs in-process instead of through the HTTP server.
type App struct {
	Cfg    *config.Config
	Logger *slog.Logger
	DB     *db.DB
	Store  storage.Store
	Job    core.Job

	ctx        context.Context
	server     *server.Server
	dispatcher core.JobDispatcher
}

// NewApp assembles the application from its already-constructed components.
func NewApp(ctx context.Context, cfg *config.Config, dbConn *db.DB, store storage.Store, job core.Job, dispatcher core.JobDispatcher, srv *server.Server, logger *slog.Logger) *App {
	return &App{
		Cfg:        cfg,
		Logger:     logger,
		DB:         dbConn,
		Store:      store,
		Job:        job,
		ctx:        ctx,
		server:     srv,
		dispatcher: dispatcher,
	}
}

// Start runs the HTTP server.
func (a *App) Start() error {
	a.Logger.Info("starting Stack Warden",
		"server_port", a.Cfg.ServerPort,
		"max_workers", a.Cfg.MaxWorkers)

	err := a.server.Start()
	if err != nil {
		a.Logger.Error("failed to start HTTP server", "error", err)
		return err
	}

	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.Logger.Info("shutting down Stack Warden services")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.server.Stop()
	if serverErr != nil {
		a.Logger.Error("error during HTTP server shutdown", "error", serverErr)
		// Continue to stop other components even if the server failed.
	}

	// Stop the job dispatcher, allowing in-flight jobs to finish.
	a.dispatcher.Stop()

	a.Logger.Info("closing database connection")
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("error closing database", "error", err)
	}

	if serverErr != nil {
		a.Logger.Error("Stack Warden stopped with errors", "error", serverErr)
		return serverErr
	}

	a.Logger.Info("Stack Warden stopped successfully")
	return nil
}
