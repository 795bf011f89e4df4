package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/stack-warden/internal/core"
)

type fakeService struct {
	stack    []core.Patch
	stackErr error
	meta     map[string]*core.ReviewMetadata

	mu             sync.Mutex
	searchedPHIDs  []string
	identityLoads  []string
	searchRequests int
}

func (f *fakeService) LoadPatchStack(_ context.Context, _ string) ([]core.Patch, error) {
	return f.stack, f.stackErr
}

func (f *fakeService) SearchRevisions(_ context.Context, phids []string) (map[string]*core.ReviewMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchRequests++
	f.searchedPHIDs = append(f.searchedPHIDs, phids...)

	out := make(map[string]*core.ReviewMetadata)
	for _, phid := range phids {
		if m, ok := f.meta[phid]; ok {
			out[phid] = m
		}
	}
	return out, nil
}

func (f *fakeService) LoadIdentity(_ context.Context, ref string) (*core.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityLoads = append(f.identityLoads, ref)
	return &core.Identity{DisplayName: ref, Handle: ref}, nil
}

type fakeBackend struct {
	revisions map[string]struct{}
	tip       string
}

func (f *fakeBackend) HasRevision(_ context.Context, rev string) bool {
	_, ok := f.revisions[rev]
	return ok
}

func (f *fakeBackend) Tip(_ context.Context) (string, error) {
	return f.tip, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fiveStack builds a five-patch stack where patch i commits node-i and
// declares node-(i-1) as its base; the bottom patch builds on node-public.
func fiveStack() ([]core.Patch, map[string]*core.ReviewMetadata) {
	var stack []core.Patch
	meta := make(map[string]*core.ReviewMetadata)
	for i := range 5 {
		base := fmt.Sprintf("node-%d", i-1)
		if i == 0 {
			base = "node-public"
		}
		phid := fmt.Sprintf("PHID-DREV-%d", i)
		stack = append(stack, core.Patch{
			ID:           int64(i),
			PHID:         fmt.Sprintf("PHID-DIFF-%d", i),
			RevisionPHID: phid,
			BaseRevision: base,
			Diff:         fmt.Sprintf("diff %d", i),
		})
		meta[phid] = &core.ReviewMetadata{
			ReviewID:  int64(100 + i),
			Title:     fmt.Sprintf("Patch %d", i),
			AuthorRef: "PHID-USER-author",
		}
	}
	return stack, meta
}

func TestResolvePartiallyAppliedStack(t *testing.T) {
	stack, meta := fiveStack()
	svc := &fakeService{stack: stack, meta: meta}
	// Patches 0..2 are already in the repository, so patch 3's declared base
	// (patch 2's commit) resolves.
	backend := &fakeBackend{revisions: map[string]struct{}{
		"node-public": {}, "node-0": {}, "node-1": {}, "node-2": {},
	}}

	res, err := New(svc, backend, testLogger()).Resolve(context.Background(), "4")
	require.NoError(t, err)

	require.Len(t, res.Needed, 2)
	assert.Equal(t, int64(3), res.Needed[0].ID)
	assert.Equal(t, int64(4), res.Needed[1].ID)
	assert.Equal(t, "node-2", res.StartRev)
	assert.Empty(t, res.Warnings)

	// Metadata is fetched in one batch, only for the needed suffix.
	assert.Equal(t, 1, svc.searchRequests)
	assert.ElementsMatch(t, []string{"PHID-DREV-3", "PHID-DREV-4"}, svc.searchedPHIDs)
}

func TestResolveNoKnownBaseFallsBackToTip(t *testing.T) {
	stack, meta := fiveStack()
	svc := &fakeService{stack: stack, meta: meta}
	backend := &fakeBackend{revisions: map[string]struct{}{}, tip: "tip-node"}

	res, err := New(svc, backend, testLogger()).Resolve(context.Background(), "4")
	require.NoError(t, err)

	assert.Len(t, res.Needed, 5)
	assert.Equal(t, "tip-node", res.StartRev)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "falling back to tip")
}

func TestResolveEmptyStackIsFatal(t *testing.T) {
	svc := &fakeService{}
	backend := &fakeBackend{}

	_, err := New(svc, backend, testLogger()).Resolve(context.Background(), "9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStackEmpty)
}

func TestResolveMissingMetadataIsFatal(t *testing.T) {
	stack, meta := fiveStack()
	delete(meta, "PHID-DREV-4")
	svc := &fakeService{stack: stack, meta: meta}
	backend := &fakeBackend{revisions: map[string]struct{}{"node-2": {}}}

	_, err := New(svc, backend, testLogger()).Resolve(context.Background(), "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no review metadata")
}

func TestResolvePrefetchesIdentities(t *testing.T) {
	stack, meta := fiveStack()
	meta["PHID-DREV-4"].ReviewerRefs = []string{"PHID-USER-alice", "PHID-USER-bob"}
	svc := &fakeService{stack: stack, meta: meta}
	backend := &fakeBackend{revisions: map[string]struct{}{"node-2": {}}}

	_, err := New(svc, backend, testLogger()).Resolve(context.Background(), "4")
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"PHID-USER-author", "PHID-USER-alice", "PHID-USER-bob"},
		svc.identityLoads,
	)
}
