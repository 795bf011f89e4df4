package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/repomanager"
	"github.com/sevigo/stack-warden/internal/replay"
	"github.com/sevigo/stack-warden/internal/resolver"
	"github.com/sevigo/stack-warden/internal/storage"
	"github.com/sevigo/stack-warden/internal/vcsmap"
)

// runTimeout bounds one full reconciliation, including all backend calls.
const runTimeout = 15 * time.Minute

// ReconcileJob is a background job that reconciles one review stack against
// the local working copies and records the outcome in the run history.
type ReconcileJob struct {
	cfg         *config.Config
	store       storage.Store
	repoManager repomanager.RepoManager
	resolver    *resolver.Resolver

	primary    replay.PrimaryBackend
	secondary  replay.SecondaryBackend
	mapper     vcsmap.Mapper
	identities replay.IdentityResolver

	logger *slog.Logger
}

// NewReconcileJob creates a new ReconcileJob.
func NewReconcileJob(
	cfg *config.Config,
	store storage.Store,
	repoManager repomanager.RepoManager,
	res *resolver.Resolver,
	primary replay.PrimaryBackend,
	secondary replay.SecondaryBackend,
	mapper vcsmap.Mapper,
	identities replay.IdentityResolver,
	logger *slog.Logger,
) core.Job {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &ReconcileJob{
		cfg:         cfg,
		store:       store,
		repoManager: repoManager,
		resolver:    res,
		primary:     primary,
		secondary:   secondary,
		mapper:      mapper,
		identities:  identities,
		logger:      logger,
	}
}

// Run executes one reconciliation for the given event. The run is recorded in
// the run history regardless of outcome; failures after primary commits were
// created leave those commits in place.
func (j *ReconcileJob) Run(ctx context.Context, event *core.ReconcileEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	j.logger.Info("starting reconciliation", "stack", event.StackID, "run_id", event.RunID)

	report := &core.ReconcileReport{
		RunID:     event.RunID,
		StackID:   event.StackID,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := j.store.CreateRun(ctx, event, report.StartedAt); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}

	runErr := j.reconcile(ctx, event, report)
	switch {
	case runErr != nil:
		report.Status = core.RunStatusFailed
	case report.Applied == 0:
		report.Status = core.RunStatusNoop
	default:
		report.Status = core.RunStatusSucceeded
	}
	report.FinishedAt = time.Now().UTC()

	if err := j.store.FinishRun(ctx, report, runErr); err != nil {
		j.logger.Error("failed to record run outcome", "run_id", event.RunID, "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("reconcile stack %s: %w", event.StackID, runErr)
	}
	j.logger.Info("reconciliation finished",
		"stack", event.StackID,
		"run_id", event.RunID,
		"status", report.Status,
		"applied", report.Applied,
		"mirrored", report.Mirrored,
	)
	return nil
}

func (j *ReconcileJob) reconcile(ctx context.Context, event *core.ReconcileEvent, report *core.ReconcileReport) error {
	release, err := j.repoManager.Acquire(event.RunID)
	if err != nil {
		return err
	}
	defer release()

	repoCfg, err := config.LoadRepoConfig(j.cfg.PrimaryPath)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return fmt.Errorf("load repository config: %w", err)
	}

	resolution, err := j.resolver.Resolve(ctx, event.StackID)
	if err != nil {
		return err
	}
	report.Warnings = append(report.Warnings, resolution.Warnings...)
	if resolution.Noop() {
		return nil
	}
	report.StartRev = resolution.StartRev

	engine := j.newEngine(event, repoCfg)
	result, err := engine.Replay(ctx, resolution.StartRev, resolution.Needed, resolution.Metadata)
	if err != nil {
		return err
	}

	report.FinalRev = result.FinalRev
	report.Applied = result.Applied
	report.Mirrored = result.Mirrored
	report.MirrorDisabled = result.MirrorDisabled
	report.Warnings = append(report.Warnings, result.Warnings...)
	return nil
}

// newEngine builds the replay engine for one run. Mirroring is dropped when
// the repository config disables it; the scratch branch is named after the
// run so concurrent history stays inspectable.
func (j *ReconcileJob) newEngine(event *core.ReconcileEvent, repoCfg *core.RepoConfig) *replay.Engine {
	secondary := j.secondary
	if repoCfg != nil && !repoCfg.Mirror {
		j.logger.Info("mirroring disabled by repository config", "run_id", event.RunID)
		secondary = nil
	}

	engine := replay.NewEngine(j.primary, secondary, j.mapper, j.identities, j.logger)
	if j.cfg.MirrorBranch != "" {
		engine.MirrorBranch = j.cfg.MirrorBranch
	}
	if repoCfg != nil {
		engine.MirrorBranch = repoCfg.MirrorBranchPrefix + event.RunID
	}
	return engine
}
