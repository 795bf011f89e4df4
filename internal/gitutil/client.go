// Package gitutil provides a client for the secondary Git working copy that
// mirrors the primary backend's history.
package gitutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client handles interacting with a Git repository at a fixed path.
type Client struct {
	Path   string
	Logger *slog.Logger
}

// NewClient returns a new Client for the repository at path.
func NewClient(path string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Path: path, Logger: logger}
}

// Open opens the Git repository to verify it exists on disk.
func (c *Client) Open() (*git.Repository, error) {
	repo, err := git.PlainOpen(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", c.Path, err)
	}
	return repo, nil
}

// HasRevision reports whether the given revision resolves in the repository.
func (c *Client) HasRevision(revision string) bool {
	if revision == "" {
		return false
	}
	repo, err := git.PlainOpen(c.Path)
	if err != nil {
		return false
	}
	_, err = repo.ResolveRevision(plumbing.Revision(revision))
	return err == nil
}

// Fetch fetches updates from the 'origin' remote using the git CLI, retrying
// transient failures with exponential backoff.
func (c *Client) Fetch(ctx context.Context, refSpecs ...string) error {
	c.Logger.InfoContext(ctx, "fetching latest changes from origin")

	args := []string{"fetch", "origin", "--force"}
	args = append(args, refSpecs...)

	const maxRetries = 3
	const baseDelay = 2 * time.Second

	var err error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<(i-1))
			c.Logger.WarnContext(ctx, "git fetch failed, retrying",
				"attempt", i,
				"max_retries", maxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = c.Path
		if out, cmdErr := cmd.CombinedOutput(); cmdErr != nil {
			err = fmt.Errorf("git fetch failed: %s: %w", string(out), cmdErr)
			continue
		}

		c.Logger.InfoContext(ctx, "fetch complete")
		return nil
	}

	return err
}

// CheckoutBranch creates a branch at the given revision and switches the
// worktree to it, discarding lingering locks with force.
func (c *Client) CheckoutBranch(ctx context.Context, branch, revision string) error {
	c.Logger.InfoContext(ctx, "checking out branch", "branch", branch, "revision", revision)

	cmd := exec.CommandContext(ctx, "git", "checkout", "--force", "-B", branch, revision)
	cmd.Dir = c.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout failed: %s: %w", string(out), err)
	}
	return nil
}

// ApplyThreeWay applies a unified diff to the worktree with a best-effort
// three-way merge. The diff is written to a temporary file first since
// git apply reads patches from disk.
func (c *Client) ApplyThreeWay(ctx context.Context, diff string) error {
	tmpDir, err := os.MkdirTemp("", "stack-warden-apply-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if removeErr := os.RemoveAll(tmpDir); removeErr != nil {
			c.Logger.Error("failed to remove temp patch dir", "path", tmpDir, "error", removeErr)
		}
	}()

	patchFile := filepath.Join(tmpDir, "temp.patch")
	if err := os.WriteFile(patchFile, []byte(diff), 0o600); err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "apply", "--3way", patchFile)
	cmd.Dir = c.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git apply --3way failed: %s: %w", string(out), err)
	}
	return nil
}

// Commit records all worktree changes as a commit with the given author.
func (c *Client) Commit(ctx context.Context, message, authorName, authorEmail string) error {
	cmd := exec.CommandContext(ctx, "git",
		"-c", "user.name="+authorName,
		"-c", "user.email="+authorEmail,
		"commit", "-am", message,
	)
	cmd.Dir = c.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s: %w", string(out), err)
	}
	return nil
}

// HeadSHA returns the current HEAD SHA of the repository.
func (c *Client) HeadSHA(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = c.Path
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
