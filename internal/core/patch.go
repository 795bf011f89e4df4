// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

// Patch is a single node of a review stack as served by the review service.
// It is fetched read-only for the duration of one reconciliation run and is
// never persisted.
type Patch struct {
	// ID is the numeric diff identifier in the review service.
	ID int64
	// PHID is the opaque revision handle the review service uses to link a
	// diff to its parent revision object.
	PHID string
	// RevisionPHID identifies the review (revision object) this diff belongs to.
	RevisionPHID string
	// BaseRevision is the node in the primary backend's revision space this
	// patch was authored against. May be empty when the service does not know it.
	BaseRevision string
	// Diff is the unified diff text.
	Diff string
	// Commits holds the author commits associated with the diff, if any.
	Commits []AuthorCommit
}

// AuthorCommit is an author identity attached to a patch by the review service.
type AuthorCommit struct {
	Name  string
	Email string
}

// ReviewMetadata is the per-review information needed to synthesize a commit.
// ReviewerRefs and AuthorRef are opaque identity references that must be
// resolved through the identity service before use.
type ReviewMetadata struct {
	ReviewID     int64
	Title        string
	Summary      string
	AuthorRef    string
	ReviewerRefs []string
}

// Identity is a resolved identity reference. Group identities carry no
// usable account handle and are skipped during reviewer rendering.
type Identity struct {
	DisplayName string
	Handle      string
	Group       bool
}
