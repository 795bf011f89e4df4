package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/stack-warden/internal/core"
)

type importCall struct {
	diff    string
	message string
	user    string
}

type fakePrimary struct {
	updates      []string
	imports      []importCall
	failImportAt int // 1-based import that fails, 0 for never
}

func (f *fakePrimary) Update(_ context.Context, revision string, _ bool) error {
	f.updates = append(f.updates, revision)
	return nil
}

func (f *fakePrimary) Import(_ context.Context, diff, message, user string) (string, error) {
	if f.failImportAt > 0 && len(f.imports)+1 == f.failImportAt {
		return "", errors.New("import rejected")
	}
	f.imports = append(f.imports, importCall{diff: diff, message: message, user: user})
	return fmt.Sprintf("node-%d", len(f.imports)), nil
}

type fakeSecondary struct {
	checkouts   []string
	fetches     int
	applied     int
	committed   []string
	failApplyAt int // 1-based apply that fails, 0 for never
}

func (f *fakeSecondary) Fetch(_ context.Context, _ ...string) error {
	f.fetches++
	return nil
}

func (f *fakeSecondary) CheckoutBranch(_ context.Context, branch, revision string) error {
	f.checkouts = append(f.checkouts, branch+"@"+revision)
	return nil
}

func (f *fakeSecondary) ApplyThreeWay(_ context.Context, _ string) error {
	if f.failApplyAt > 0 && f.applied+1 == f.failApplyAt {
		return errors.New("conflict")
	}
	f.applied++
	return nil
}

func (f *fakeSecondary) Commit(_ context.Context, message, _, _ string) error {
	f.committed = append(f.committed, message)
	return nil
}

type fakeMapper struct {
	mapping map[string]string
}

func (f *fakeMapper) Translate(_ context.Context, primaryRev string) (string, error) {
	if rev, ok := f.mapping[primaryRev]; ok {
		return rev, nil
	}
	return "", errors.New("revision not mapped")
}

type fakeIdentities struct {
	identities map[string]*core.Identity
}

func (f *fakeIdentities) LoadIdentity(_ context.Context, ref string) (*core.Identity, error) {
	if id, ok := f.identities[ref]; ok {
		return id, nil
	}
	return nil, fmt.Errorf("unknown identity %s", ref)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStack(n int) ([]core.Patch, map[string]*core.ReviewMetadata) {
	var patches []core.Patch
	meta := make(map[string]*core.ReviewMetadata)
	for i := 1; i <= n; i++ {
		phid := fmt.Sprintf("PHID-DREV-%d", i)
		patches = append(patches, core.Patch{
			ID:           int64(i),
			RevisionPHID: phid,
			Diff:         fmt.Sprintf("diff %d", i),
			Commits:      []core.AuthorCommit{{Name: "Alice Dev", Email: "alice@example.com"}},
		})
		meta[phid] = &core.ReviewMetadata{
			Title:        fmt.Sprintf("Patch %d r=old", i),
			Summary:      "Details.",
			AuthorRef:    "PHID-USER-alice",
			ReviewerRefs: []string{"PHID-USER-rev"},
		}
	}
	return patches, meta
}

func defaultIdentities() *fakeIdentities {
	return &fakeIdentities{identities: map[string]*core.Identity{
		"PHID-USER-alice": {DisplayName: "Alice Dev", Handle: "alice"},
		"PHID-USER-rev":   {DisplayName: "Rex Reviewer", Handle: "rex"},
	}}
}

func TestReplayEmptySuffixIsNoop(t *testing.T) {
	primary := &fakePrimary{}
	engine := NewEngine(primary, nil, nil, defaultIdentities(), testLogger())

	res, err := engine.Replay(context.Background(), "start", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "start", res.FinalRev)
	assert.Zero(t, res.Applied)
	assert.Empty(t, primary.updates)
}

func TestReplayMirrorsEveryPatch(t *testing.T) {
	patches, meta := testStack(2)
	primary := &fakePrimary{}
	secondary := &fakeSecondary{}
	mapper := &fakeMapper{mapping: map[string]string{"start": "sha-start"}}
	engine := NewEngine(primary, secondary, mapper, defaultIdentities(), testLogger())

	res, err := engine.Replay(context.Background(), "start", patches, meta)
	require.NoError(t, err)

	assert.Equal(t, []string{"start"}, primary.updates)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, "node-2", res.FinalRev)
	assert.Equal(t, 2, res.Mirrored)
	assert.False(t, res.MirrorDisabled)
	assert.Equal(t, []string{"reconcile@sha-start"}, secondary.checkouts)
	assert.Equal(t, 1, secondary.fetches)
	require.Len(t, primary.imports, 2)
	assert.Equal(t, "Alice Dev <alice@example.com>", primary.imports[0].user)
	assert.Equal(t, "Patch 1 r=rex\n\nDetails.", primary.imports[0].message)
}

func TestReplayMirrorFailureDoesNotAbortRun(t *testing.T) {
	patches, meta := testStack(3)
	primary := &fakePrimary{}
	secondary := &fakeSecondary{failApplyAt: 2}
	mapper := &fakeMapper{mapping: map[string]string{"start": "sha-start"}}
	engine := NewEngine(primary, secondary, mapper, defaultIdentities(), testLogger())

	res, err := engine.Replay(context.Background(), "start", patches, meta)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, "node-3", res.FinalRev)
	assert.Equal(t, 1, res.Mirrored)
	assert.True(t, res.MirrorDisabled)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "mirroring disabled")
}

func TestReplayTranslationMissDisablesMirroring(t *testing.T) {
	patches, meta := testStack(2)
	primary := &fakePrimary{}
	secondary := &fakeSecondary{}
	mapper := &fakeMapper{mapping: map[string]string{}}
	engine := NewEngine(primary, secondary, mapper, defaultIdentities(), testLogger())

	res, err := engine.Replay(context.Background(), "start", patches, meta)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	assert.Zero(t, res.Mirrored)
	assert.True(t, res.MirrorDisabled)
	assert.Empty(t, secondary.checkouts)
}

func TestReplayPrimaryFailureIsFatal(t *testing.T) {
	patches, meta := testStack(3)
	primary := &fakePrimary{failImportAt: 2}
	engine := NewEngine(primary, nil, nil, defaultIdentities(), testLogger())

	_, err := engine.Replay(context.Background(), "start", patches, meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import patch 2")

	// The first commit is kept; nothing is rolled back.
	assert.Len(t, primary.imports, 1)
}

func TestSynthesizeFallsBackToIdentityService(t *testing.T) {
	patches, meta := testStack(1)
	patches[0].Commits = nil
	engine := NewEngine(&fakePrimary{}, nil, nil, defaultIdentities(), testLogger())

	author, _, warnings, err := engine.synthesize(context.Background(), patches[0], meta["PHID-DREV-1"])
	require.NoError(t, err)

	assert.Equal(t, "Alice Dev", author.name)
	assert.Equal(t, "alice", author.email)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "account handle used as email")
}

func TestSynthesizeGroupAuthorIsFatal(t *testing.T) {
	patches, meta := testStack(1)
	patches[0].Commits = nil
	identities := defaultIdentities()
	identities.identities["PHID-USER-alice"] = &core.Identity{DisplayName: "Team", Handle: "team", Group: true}
	engine := NewEngine(&fakePrimary{}, nil, nil, identities, testLogger())

	_, _, _, err := engine.synthesize(context.Background(), patches[0], meta["PHID-DREV-1"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group identity")
}

func TestSynthesizeSkipsGroupReviewers(t *testing.T) {
	patches, meta := testStack(1)
	meta["PHID-DREV-1"].ReviewerRefs = []string{"PHID-PROJ-team", "PHID-USER-rev", "PHID-USER-rev"}
	identities := defaultIdentities()
	identities.identities["PHID-PROJ-team"] = &core.Identity{DisplayName: "Team", Handle: "team", Group: true}
	engine := NewEngine(&fakePrimary{}, nil, nil, identities, testLogger())

	_, message, _, err := engine.synthesize(context.Background(), patches[0], meta["PHID-DREV-1"])
	require.NoError(t, err)
	assert.Equal(t, "Patch 1 r=rex\n\nDetails.", message)
}

func TestSynthesizeSortsReviewers(t *testing.T) {
	patches, meta := testStack(1)
	meta["PHID-DREV-1"].ReviewerRefs = []string{"PHID-USER-zed", "PHID-USER-rev"}
	identities := defaultIdentities()
	identities.identities["PHID-USER-zed"] = &core.Identity{DisplayName: "Zed", Handle: "zed"}
	engine := NewEngine(&fakePrimary{}, nil, nil, identities, testLogger())

	_, message, _, err := engine.synthesize(context.Background(), patches[0], meta["PHID-DREV-1"])
	require.NoError(t, err)
	assert.Equal(t, "Patch 1 r=rex,zed\n\nDetails.", message)
}

func TestSynthesizeNoReviewersKeepsMessage(t *testing.T) {
	patches, meta := testStack(1)
	meta["PHID-DREV-1"].ReviewerRefs = nil
	engine := NewEngine(&fakePrimary{}, nil, nil, defaultIdentities(), testLogger())

	_, message, _, err := engine.synthesize(context.Background(), patches[0], meta["PHID-DREV-1"])
	require.NoError(t, err)
	assert.Equal(t, "Patch 1 r=old\n\nDetails.", message)
}
