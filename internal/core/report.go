package core

import "time"

// Run statuses recorded in the run history.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusNoop      = "noop"
)

// ReconcileReport is the outcome of one reconciliation run. The final
// primary-backend revision is authoritative; mirror state is best effort.
type ReconcileReport struct {
	RunID   string
	StackID string
	Status  string

	// StartRev is the revision the replay started from; FinalRev is the
	// primary-backend tip after the full needed suffix was applied.
	StartRev string
	FinalRev string

	// Applied counts primary-backend commits created by this run. Mirrored
	// counts how many of them were also replicated to the secondary backend.
	Applied  int
	Mirrored int

	// MirrorDisabled is set when secondary mirroring was turned off mid-run.
	// Primary commits made after that point are not replicated.
	MirrorDisabled bool

	Warnings []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Warn appends a warning to the report.
func (r *ReconcileReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// RepoConfig holds per-repository settings read from .stack-warden.yml in the
// primary working copy.
type RepoConfig struct {
	// Mirror toggles secondary-backend replication for this repository.
	Mirror bool `yaml:"mirror"`
	// MirrorBranchPrefix is prepended to the run id to name the scratch
	// branch created on the secondary backend.
	MirrorBranchPrefix string `yaml:"mirror_branch_prefix"`
}

// DefaultRepoConfig returns the settings used when a repository carries no
// .stack-warden.yml.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{
		Mirror:             true,
		MirrorBranchPrefix: "reconcile/",
	}
}
