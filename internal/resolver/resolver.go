// Package resolver determines the minimal suffix of a review stack that is
// not yet present in the primary backend's history.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/stack-warden/internal/core"
)

// ErrStackEmpty is returned when the review service has no patches for a
// stack id. This is fatal and reported before any backend mutation.
var ErrStackEmpty = errors.New("no patches available for stack")

// StackService is the slice of the review-service client the resolver needs.
type StackService interface {
	LoadPatchStack(ctx context.Context, stackID string) ([]core.Patch, error)
	SearchRevisions(ctx context.Context, revisionPHIDs []string) (map[string]*core.ReviewMetadata, error)
	LoadIdentity(ctx context.Context, ref string) (*core.Identity, error)
}

// Revisioner is the read-only slice of the primary backend the resolver needs.
type Revisioner interface {
	HasRevision(ctx context.Context, revision string) bool
	Tip(ctx context.Context) (string, error)
}

// Resolution is the outcome of resolving a stack: the ordered suffix of
// patches that must be replayed, their review metadata keyed by revision
// handle, and the revision to replay from.
type Resolution struct {
	Needed   []core.Patch
	Metadata map[string]*core.ReviewMetadata
	StartRev string
	Warnings []string
}

// Noop reports whether nothing needs to be applied.
func (r *Resolution) Noop() bool {
	return len(r.Needed) == 0
}

// Resolver finds the unapplied suffix of a patch stack.
type Resolver struct {
	service StackService
	primary Revisioner
	logger  *slog.Logger
}

// New creates a Resolver.
func New(service StackService, primary Revisioner, logger *slog.Logger) *Resolver {
	return &Resolver{service: service, primary: primary, logger: logger}
}

// identityPrefetchLimit bounds concurrent identity lookups during resolution.
const identityPrefetchLimit = 4

// Resolve fetches the stack for stackID, walks it from the top downward to
// find the first patch whose declared base the primary backend already knows,
// and returns the suffix above that point together with its review metadata.
// Metadata is fetched only for needed patches, batched into a single request,
// and identity references are prefetched concurrently so that replay performs
// no further network calls.
func (r *Resolver) Resolve(ctx context.Context, stackID string) (*Resolution, error) {
	stack, err := r.service.LoadPatchStack(ctx, stackID)
	if err != nil {
		return nil, fmt.Errorf("fetch stack %s: %w", stackID, err)
	}
	if len(stack) == 0 {
		return nil, fmt.Errorf("stack %s: %w", stackID, ErrStackEmpty)
	}

	var needed []core.Patch
	for i := len(stack) - 1; i >= 0; i-- {
		patch := stack[i]
		needed = append([]core.Patch{patch}, needed...)

		// Stop as soon as a base revision is available.
		if r.primary.HasRevision(ctx, patch.BaseRevision) {
			r.logger.InfoContext(ctx, "stopping stack walk at known base",
				"patch_id", patch.ID,
				"base", patch.BaseRevision,
			)
			break
		}
	}

	res := &Resolution{Needed: needed}
	if res.Noop() {
		r.logger.InfoContext(ctx, "all patches are already applied", "stack", stackID)
		return res, nil
	}

	if err := r.pickStartRev(ctx, res); err != nil {
		return nil, err
	}

	phids := make([]string, 0, len(needed))
	for _, patch := range needed {
		phids = append(phids, patch.RevisionPHID)
	}
	res.Metadata, err = r.service.SearchRevisions(ctx, phids)
	if err != nil {
		return nil, fmt.Errorf("fetch review metadata: %w", err)
	}
	for _, patch := range needed {
		if res.Metadata[patch.RevisionPHID] == nil {
			return nil, fmt.Errorf("no review metadata for patch %d (revision %s)", patch.ID, patch.RevisionPHID)
		}
	}

	r.prefetchIdentities(ctx, res)
	return res, nil
}

// pickStartRev chooses the revision replay starts from: the lowest needed
// patch's declared base when the primary backend knows it, or the current tip
// as a non-fatal fallback when histories have diverged.
func (r *Resolver) pickStartRev(ctx context.Context, res *Resolution) error {
	base := res.Needed[0].BaseRevision
	if r.primary.HasRevision(ctx, base) {
		res.StartRev = base
		return nil
	}

	r.logger.WarnContext(ctx, "base revision missing from primary backend, falling back to tip", "base", base)
	res.Warnings = append(res.Warnings,
		fmt.Sprintf("base revision %q not found in primary backend, falling back to tip", base))

	tip, err := r.primary.Tip(ctx)
	if err != nil {
		return fmt.Errorf("resolve primary tip: %w", err)
	}
	res.StartRev = tip
	return nil
}

// prefetchIdentities warms the identity cache for every author and reviewer
// reference in the needed suffix. Failures are deliberately ignored here:
// resolution has no side effects, and metadata synthesis reports them with
// full patch context during replay.
func (r *Resolver) prefetchIdentities(ctx context.Context, res *Resolution) {
	refs := make(map[string]struct{})
	for _, patch := range res.Needed {
		meta := res.Metadata[patch.RevisionPHID]
		if meta.AuthorRef != "" {
			refs[meta.AuthorRef] = struct{}{}
		}
		for _, ref := range meta.ReviewerRefs {
			refs[ref] = struct{}{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(identityPrefetchLimit)
	for ref := range refs {
		g.Go(func() error {
			if _, err := r.service.LoadIdentity(gctx, ref); err != nil {
				r.logger.DebugContext(gctx, "identity prefetch failed", "ref", ref, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
