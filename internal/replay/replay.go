// Package replay applies a resolved patch suffix to the primary backend and
// mirrors each step onto an optional secondary backend.
package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/gitutil"
	"github.com/sevigo/stack-warden/internal/vcsmap"
)

// PrimaryBackend is the mutating slice of the primary backend the engine
// needs. Failures here are fatal for the whole reconciliation.
type PrimaryBackend interface {
	Update(ctx context.Context, revision string, clean bool) error
	Import(ctx context.Context, diff, message, user string) (string, error)
}

// SecondaryBackend mirrors commits best-effort. Failures disable mirroring
// for the remainder of the run but never abort it.
type SecondaryBackend interface {
	Fetch(ctx context.Context, refSpecs ...string) error
	CheckoutBranch(ctx context.Context, branch, revision string) error
	ApplyThreeWay(ctx context.Context, diff string) error
	Commit(ctx context.Context, message, authorName, authorEmail string) error
}

// IdentityResolver resolves opaque identity references. The resolver phase
// prefetches these, so lookups here normally hit a warm cache.
type IdentityResolver interface {
	LoadIdentity(ctx context.Context, ref string) (*core.Identity, error)
}

// Result summarizes one replay: the authoritative primary-backend tip, how
// many commits were created, and how mirroring fared.
type Result struct {
	FinalRev       string
	Applied        int
	Mirrored       int
	MirrorDisabled bool
	Warnings       []string
}

func (r *Result) warn(logger *slog.Logger, msg string, args ...any) {
	logger.Warn(msg, args...)
	for i := 0; i+1 < len(args); i += 2 {
		msg = fmt.Sprintf("%s (%v=%v)", msg, args[i], args[i+1])
	}
	r.Warnings = append(r.Warnings, msg)
}

// Engine replays patches onto the configured backends.
type Engine struct {
	primary    PrimaryBackend
	secondary  SecondaryBackend
	mapper     vcsmap.Mapper
	identities IdentityResolver
	logger     *slog.Logger

	// MirrorBranch names the scratch branch created on the secondary backend.
	MirrorBranch string
}

// NewEngine creates an Engine. secondary and mapper may be nil to run
// without mirroring.
func NewEngine(primary PrimaryBackend, secondary SecondaryBackend, mapper vcsmap.Mapper, identities IdentityResolver, logger *slog.Logger) *Engine {
	return &Engine{
		primary:      primary,
		secondary:    secondary,
		mapper:       mapper,
		identities:   identities,
		logger:       logger,
		MirrorBranch: "reconcile",
	}
}

// Replay applies the needed suffix, in stack order, starting from startRev.
// Patches are applied strictly sequentially: each depends on the working-tree
// state left by the previous one. Already-applied commits are never rolled
// back on a later failure; they are individually valid and the caller decides
// whether to discard them.
func (e *Engine) Replay(ctx context.Context, startRev string, needed []core.Patch, metadata map[string]*core.ReviewMetadata) (*Result, error) {
	res := &Result{FinalRev: startRev}
	if len(needed) == 0 {
		return res, nil
	}

	if err := e.primary.Update(ctx, startRev, true); err != nil {
		return nil, fmt.Errorf("update primary backend to %s: %w", startRev, err)
	}
	e.logger.InfoContext(ctx, "updated primary backend", "revision", startRev)

	mirroring := e.startMirror(ctx, startRev, res)

	for _, patch := range needed {
		author, message, warnings, err := e.synthesize(ctx, patch, metadata[patch.RevisionPHID])
		if err != nil {
			return nil, fmt.Errorf("synthesize metadata for patch %d: %w", patch.ID, err)
		}
		res.Warnings = append(res.Warnings, warnings...)

		e.logger.InfoContext(ctx, "applying patch",
			"patch_id", patch.ID,
			"revision", patch.RevisionPHID,
			"author", author.name,
		)

		node, err := e.primary.Import(ctx, patch.Diff, message, gitutil.FormatAuthor(author.name, author.email))
		if err != nil {
			return nil, fmt.Errorf("import patch %d into primary backend: %w", patch.ID, err)
		}
		res.FinalRev = node
		res.Applied++

		if mirroring {
			mirroring = e.mirrorPatch(ctx, patch, author, message, res)
		}
	}

	return res, nil
}

// startMirror prepares the secondary backend: translates the start revision
// and checks out the scratch branch there. Any failure disables mirroring for
// the run; the primary-backend result remains authoritative.
func (e *Engine) startMirror(ctx context.Context, startRev string, res *Result) bool {
	if e.secondary == nil {
		return false
	}

	// Freshen the mirror so the translated revision is reachable locally.
	if err := e.secondary.Fetch(ctx); err != nil {
		res.MirrorDisabled = true
		res.warn(e.logger, "secondary backend fetch failed, mirroring disabled", "error", err)
		return false
	}

	translated, err := e.mapper.Translate(ctx, startRev)
	if err != nil {
		res.MirrorDisabled = true
		res.warn(e.logger, "revision translation failed, mirroring disabled",
			"revision", startRev, "error", err)
		return false
	}

	if err := e.secondary.CheckoutBranch(ctx, e.MirrorBranch, translated); err != nil {
		res.MirrorDisabled = true
		res.warn(e.logger, "secondary backend checkout failed, mirroring disabled",
			"revision", translated, "error", err)
		return false
	}

	e.logger.InfoContext(ctx, "updated secondary backend", "branch", e.MirrorBranch, "revision", translated)
	return true
}

// mirrorPatch replicates one applied patch onto the secondary backend.
// Returns false, with mirroring disabled on the result, when the apply or
// commit fails.
func (e *Engine) mirrorPatch(ctx context.Context, patch core.Patch, author authorIdentity, message string, res *Result) bool {
	if err := e.secondary.ApplyThreeWay(ctx, patch.Diff); err != nil {
		res.MirrorDisabled = true
		res.warn(e.logger, "secondary backend apply failed, mirroring disabled",
			"patch_id", patch.ID, "error", err)
		return false
	}
	if err := e.secondary.Commit(ctx, message, author.name, author.email); err != nil {
		res.MirrorDisabled = true
		res.warn(e.logger, "secondary backend commit failed, mirroring disabled",
			"patch_id", patch.ID, "error", err)
		return false
	}
	res.Mirrored++
	return true
}
