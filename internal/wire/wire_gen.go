// Code generated manually. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"context"
	"fmt"

	"github.com/sevigo/stack-warden/internal/app"
	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/db"
	"github.com/sevigo/stack-warden/internal/jobs"
	"github.com/sevigo/stack-warden/internal/repomanager"
	"github.com/sevigo/stack-warden/internal/server"
	"github.com/sevigo/stack-warden/internal/storage"
)

// InitializeApp creates and wires all application dependencies.
func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	loggerConfig := provideLoggerConfig(cfg)
	logWriter := provideLogWriter(cfg)
	slogLogger := provideSlogLogger(loggerConfig, logWriter)

	// Database
	dbConn, dbCleanup, err := db.NewDatabase(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Storage
	store := storage.NewStore(provideSQLXDB(dbConn))

	// Repo Manager
	repoManager := repomanager.New(cfg, slogLogger)
	if err := repoManager.ValidatePaths(); err != nil {
		dbCleanup()
		return nil, nil, fmt.Errorf("failed to validate working copies: %w", err)
	}

	// Review service client and backends
	reviewClient := provideReviewClient(ctx, cfg, slogLogger)
	primary := providePrimary(cfg, slogLogger)
	secondary := provideSecondaryBackend(cfg, slogLogger)
	mapper := provideMapper(cfg, slogLogger)

	// Resolver
	res := provideResolver(reviewClient, primary, slogLogger)

	// Reconcile Job
	reconcileJob := jobs.NewReconcileJob(cfg, store, repoManager, res,
		providePrimaryBackend(primary), secondary, mapper,
		provideIdentityResolver(reviewClient), slogLogger)

	// Dispatcher
	dispatcher := jobs.NewDispatcher(reconcileJob, cfg.MaxWorkers, slogLogger)

	// Server
	srv := server.NewServer(ctx, cfg, dispatcher, store, slogLogger)

	// App
	application := app.NewApp(ctx, cfg, dbConn, store, reconcileJob, dispatcher, srv, slogLogger)

	cleanup := func() {
		dbCleanup()
	}

	return application, cleanup, nil
}
