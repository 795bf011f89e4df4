package wire

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/wire"
	"github.com/jmoiron/sqlx"

	"github.com/sevigo/stack-warden/internal/app"
	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/db"
	"github.com/sevigo/stack-warden/internal/gitutil"
	"github.com/sevigo/stack-warden/internal/hg"
	"github.com/sevigo/stack-warden/internal/jobs"
	"github.com/sevigo/stack-warden/internal/logger"
	"github.com/sevigo/stack-warden/internal/repomanager"
	"github.com/sevigo/stack-warden/internal/replay"
	"github.com/sevigo/stack-warden/internal/resolver"
	"github.com/sevigo/stack-warden/internal/review"
	"github.com/sevigo/stack-warden/internal/server"
	"github.com/sevigo/stack-warden/internal/storage"
	"github.com/sevigo/stack-warden/internal/vcsmap"
)

var AppSet = wire.NewSet(
	app.NewApp,
	server.NewServer,
	config.LoadConfig,
	db.NewDatabase,
	storage.NewStore,
	repomanager.New,
	jobs.NewDispatcher,
	jobs.NewReconcileJob,
	provideSQLXDB,
	provideReviewClient,
	providePrimary,
	providePrimaryBackend,
	provideSecondaryBackend,
	provideMapper,
	provideIdentityResolver,
	provideResolver,
	provideLoggerConfig,
	provideLogWriter,
	provideSlogLogger,
)

func provideSQLXDB(dbConn *db.DB) *sqlx.DB {
	return dbConn.DB
}

func provideReviewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) review.Client {
	return review.NewClient(ctx, cfg.ReviewURL, cfg.ReviewToken, logger)
}

func providePrimary(cfg *config.Config, logger *slog.Logger) *hg.Client {
	return hg.NewClient(cfg.PrimaryPath, logger)
}

func providePrimaryBackend(primary *hg.Client) replay.PrimaryBackend {
	return primary
}

// provideSecondaryBackend returns nil when no secondary working copy is
// configured; the replay engine treats a nil secondary as mirroring off.
func provideSecondaryBackend(cfg *config.Config, logger *slog.Logger) replay.SecondaryBackend {
	if !cfg.Mirroring() {
		return nil
	}
	return gitutil.NewClient(cfg.SecondaryPath, logger)
}

func provideMapper(cfg *config.Config, logger *slog.Logger) vcsmap.Mapper {
	if !cfg.Mirroring() {
		return nil
	}
	return vcsmap.NewHTTPMapper(cfg.MapperURL, logger)
}

func provideIdentityResolver(client review.Client) replay.IdentityResolver {
	return client
}

func provideResolver(client review.Client, primary *hg.Client, logger *slog.Logger) *resolver.Resolver {
	return resolver.New(client, primary, logger)
}

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:  cfg.LogLevel.String(),
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	}
}

func provideLogWriter(cfg *config.Config) io.Writer {
	switch cfg.LogOutput {
	case "stderr":
		return os.Stderr
	case "file":
		f, _ := os.OpenFile("stack-warden.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		return f
	default:
		return os.Stdout
	}
}

func provideSlogLogger(loggerConfig logger.Config, writer io.Writer) *slog.Logger {
	return logger.NewLogger(loggerConfig, writer)
}
