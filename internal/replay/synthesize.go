package replay

import (
	"context"
	"fmt"
	"sort"

	"github.com/sevigo/stack-warden/internal/commitmsg"
	"github.com/sevigo/stack-warden/internal/core"
)

type authorIdentity struct {
	name  string
	email string
}

// synthesize derives the author identity and final commit message for one
// patch. The message is the review title and summary with reviewer
// annotations rewritten to the resolved reviewer set. A missing author is not
// silently tolerable for audit purposes, so identity resolution failures are
// fatal for the run.
func (e *Engine) synthesize(ctx context.Context, patch core.Patch, meta *core.ReviewMetadata) (authorIdentity, string, []string, error) {
	var warnings []string

	message := fmt.Sprintf("%s\n\n%s", meta.Title, meta.Summary)

	reviewers, err := e.resolveReviewers(ctx, meta.ReviewerRefs)
	if err != nil {
		return authorIdentity{}, "", nil, err
	}
	if len(reviewers) > 0 {
		message = commitmsg.Rewrite(message, reviewers)
	}

	if len(patch.Commits) > 0 {
		commit := patch.Commits[0]
		return authorIdentity{name: commit.Name, email: commit.Email}, message, warnings, nil
	}

	identity, err := e.identities.LoadIdentity(ctx, meta.AuthorRef)
	if err != nil {
		return authorIdentity{}, "", nil, fmt.Errorf("resolve author %s: %w", meta.AuthorRef, err)
	}
	if identity.Group {
		return authorIdentity{}, "", nil, fmt.Errorf("author %s resolves to a group identity", meta.AuthorRef)
	}

	// No verified email is available through the identity service; the
	// account handle stands in and the limitation is surfaced as a warning.
	warnings = append(warnings,
		fmt.Sprintf("author %s attributed via identity service, account handle used as email", meta.AuthorRef))
	return authorIdentity{name: identity.DisplayName, email: identity.Handle}, message, warnings, nil
}

// resolveReviewers resolves reviewer references to account handles. Group
// identities are skipped with a logged notice; only individually-resolved
// reviewers appear in the rewritten message. The set is deduplicated and
// sorted so the rendered annotation is deterministic.
func (e *Engine) resolveReviewers(ctx context.Context, refs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(refs))
	var reviewers []string
	for _, ref := range refs {
		identity, err := e.identities.LoadIdentity(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve reviewer %s: %w", ref, err)
		}
		if identity.Group {
			e.logger.InfoContext(ctx, "skipping group reviewer", "ref", ref)
			continue
		}
		if _, ok := seen[identity.Handle]; ok {
			continue
		}
		seen[identity.Handle] = struct{}{}
		reviewers = append(reviewers, identity.Handle)
	}
	sort.Strings(reviewers)
	return reviewers, nil
}
