package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/replay"
	"github.com/sevigo/stack-warden/internal/repomanager"
	"github.com/sevigo/stack-warden/internal/resolver"
	"github.com/sevigo/stack-warden/internal/storage"
)

type fakeStore struct {
	created  []*core.ReconcileEvent
	finished []*core.ReconcileReport
	runErrs  []error
}

func (f *fakeStore) CreateRun(_ context.Context, event *core.ReconcileEvent, _ time.Time) error {
	f.created = append(f.created, event)
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, report *core.ReconcileReport, runErr error) error {
	f.finished = append(f.finished, report)
	f.runErrs = append(f.runErrs, runErr)
	return nil
}

func (f *fakeStore) GetRecentRuns(_ context.Context, _ string, _ int) ([]storage.RunRecord, error) {
	return nil, nil
}

type fakeRepoManager struct {
	busy     bool
	acquired int
	released int
}

func (f *fakeRepoManager) Acquire(_ string) (func(), error) {
	if f.busy {
		return nil, repomanager.ErrRunInProgress
	}
	f.acquired++
	return func() { f.released++ }, nil
}

func (f *fakeRepoManager) ValidatePaths() error { return nil }

type stackService struct {
	stack []core.Patch
	meta  map[string]*core.ReviewMetadata
}

func (s *stackService) LoadPatchStack(_ context.Context, _ string) ([]core.Patch, error) {
	return s.stack, nil
}

func (s *stackService) SearchRevisions(_ context.Context, phids []string) (map[string]*core.ReviewMetadata, error) {
	out := make(map[string]*core.ReviewMetadata)
	for _, phid := range phids {
		out[phid] = s.meta[phid]
	}
	return out, nil
}

func (s *stackService) LoadIdentity(_ context.Context, ref string) (*core.Identity, error) {
	return &core.Identity{DisplayName: ref, Handle: "dev"}, nil
}

type primaryBackend struct {
	revisions map[string]struct{}
	imports   int
	failAll   bool
}

func (p *primaryBackend) HasRevision(_ context.Context, rev string) bool {
	_, ok := p.revisions[rev]
	return ok
}

func (p *primaryBackend) Tip(_ context.Context) (string, error) { return "tip", nil }

func (p *primaryBackend) Update(_ context.Context, _ string, _ bool) error { return nil }

func (p *primaryBackend) Import(_ context.Context, _, _, _ string) (string, error) {
	if p.failAll {
		return "", errors.New("import rejected")
	}
	p.imports++
	return fmt.Sprintf("node-%d", p.imports), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{PrimaryPath: t.TempDir()}
}

func twoPatchStack() *stackService {
	return &stackService{
		stack: []core.Patch{
			{ID: 1, RevisionPHID: "PHID-DREV-1", BaseRevision: "base", Diff: "d1",
				Commits: []core.AuthorCommit{{Name: "Alice", Email: "alice@example.com"}}},
			{ID: 2, RevisionPHID: "PHID-DREV-2", BaseRevision: "node-1", Diff: "d2",
				Commits: []core.AuthorCommit{{Name: "Alice", Email: "alice@example.com"}}},
		},
		meta: map[string]*core.ReviewMetadata{
			"PHID-DREV-1": {Title: "First", AuthorRef: "PHID-USER-a"},
			"PHID-DREV-2": {Title: "Second", AuthorRef: "PHID-USER-a"},
		},
	}
}

func newTestJob(t *testing.T, store *fakeStore, manager *fakeRepoManager, primary *primaryBackend, service *stackService) core.Job {
	t.Helper()
	logger := testLogger()
	res := resolver.New(service, primary, logger)
	return NewReconcileJob(testConfig(t), store, manager, res,
		primary, nil, nil, service, logger)
}

func TestReconcileJobRecordsSuccess(t *testing.T) {
	store := &fakeStore{}
	manager := &fakeRepoManager{}
	primary := &primaryBackend{revisions: map[string]struct{}{"base": {}}}
	job := newTestJob(t, store, manager, primary, twoPatchStack())

	err := job.Run(context.Background(), &core.ReconcileEvent{RunID: "run-1", StackID: "2"})
	require.NoError(t, err)

	require.Len(t, store.finished, 1)
	report := store.finished[0]
	assert.Equal(t, core.RunStatusSucceeded, report.Status)
	assert.Equal(t, "base", report.StartRev)
	assert.Equal(t, "node-2", report.FinalRev)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, manager.released)
}

func TestReconcileJobAppliesOnlyUnappliedSuffix(t *testing.T) {
	store := &fakeStore{}
	manager := &fakeRepoManager{}
	service := twoPatchStack()
	// The bottom patch's commit is already present, so only the top patch
	// needs applying.
	primary := &primaryBackend{revisions: map[string]struct{}{"base": {}, "node-1": {}}}
	service.stack = service.stack[1:]
	service.stack[0].BaseRevision = "node-1"
	job := newTestJob(t, store, manager, primary, service)

	err := job.Run(context.Background(), &core.ReconcileEvent{RunID: "run-2", StackID: "2"})
	require.NoError(t, err)

	require.Len(t, store.finished, 1)
	assert.Equal(t, core.RunStatusSucceeded, store.finished[0].Status)
	assert.Equal(t, 1, store.finished[0].Applied)
}

func TestReconcileJobRecordsFailure(t *testing.T) {
	store := &fakeStore{}
	manager := &fakeRepoManager{}
	primary := &primaryBackend{revisions: map[string]struct{}{"base": {}}, failAll: true}
	job := newTestJob(t, store, manager, primary, twoPatchStack())

	err := job.Run(context.Background(), &core.ReconcileEvent{RunID: "run-3", StackID: "2"})
	require.Error(t, err)

	require.Len(t, store.finished, 1)
	assert.Equal(t, core.RunStatusFailed, store.finished[0].Status)
	require.Len(t, store.runErrs, 1)
	assert.Error(t, store.runErrs[0])
	assert.Equal(t, 1, manager.released)
}

func TestReconcileJobBusyWorkingCopy(t *testing.T) {
	store := &fakeStore{}
	manager := &fakeRepoManager{busy: true}
	primary := &primaryBackend{revisions: map[string]struct{}{"base": {}}}
	job := newTestJob(t, store, manager, primary, twoPatchStack())

	err := job.Run(context.Background(), &core.ReconcileEvent{RunID: "run-4", StackID: "2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, repomanager.ErrRunInProgress)
}

func TestReconcileJobRejectsInvalidEvent(t *testing.T) {
	store := &fakeStore{}
	job := newTestJob(t, store, &fakeRepoManager{}, &primaryBackend{}, twoPatchStack())

	err := job.Run(context.Background(), &core.ReconcileEvent{StackID: "2"})
	require.Error(t, err)
	assert.Empty(t, store.created)
}

var _ replay.PrimaryBackend = (*primaryBackend)(nil)
