// Package hg drives the primary Mercurial working copy through the hg CLI.
// All calls are blocking with no implicit timeout; callers wanting
// cancellation pass a context with a deadline and treat expiry as a fatal
// I/O error for that step. State mutations are never retried here, since
// repeating a partially-applied commit risks duplication.
package hg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client handles interacting with a Mercurial repository at a fixed path.
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

// HasRevision reports whether the repository can identify the given revision.
// An empty revision is treated as absent.
func (c *Client) HasRevision(ctx context.Context, revision string) bool {
	if revision == "" {
		return false
	}
	cmd := exec.CommandContext(ctx, "hg", "identify", "--rev", revision)
	cmd.Dir = c.Path
	return cmd.Run() == nil
}

// Update sets the working directory to the given revision. With clean set,
// uncommitted changes are discarded; the working copy is scratch space owned
// by the reconciliation run, so this is a determinism precondition rather
// than a data-loss risk.
func (c *Client) Update(ctx context.Context, revision string, clean bool) error {
	args := []string{"update", "--rev", revision}
	if clean {
		args = append(args, "--clean")
	}
	cmd := exec.CommandContext(ctx, "hg", args...)
	cmd.Dir = c.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("hg update to %s failed: %s: %w", revision, string(out), err)
	}
	c.Logger.InfoContext(ctx, "updated working directory", "revision", revision, "clean", clean)
	return nil
}

// Import applies a unified diff as a new commit with the given message and
// user, and returns the node of the created commit.
func (c *Client) Import(ctx context.Context, diff, message, user string) (string, error) {
	tmp, err := os.CreateTemp("", "stack-warden-*.patch")
	if err != nil {
		return "", fmt.Errorf("create patch file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(diff); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write patch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close patch file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "hg", "import",
		"--message", message,
		"--user", user,
		filepath.Clean(tmp.Name()),
	)
	cmd.Dir = c.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("hg import failed: %s: %w", string(out), err)
	}

	node, err := c.Identify(ctx)
	if err != nil {
		return "", fmt.Errorf("identify imported commit: %w", err)
	}
	return node, nil
}

// Identify returns the node of the current working directory parent.
func (c *Client) Identify(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "hg", "identify", "--id", "--debug")
	cmd.Dir = c.Path
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("hg identify failed: %w", err)
	}
	node := strings.TrimSpace(string(out))
	// A dirty working directory is flagged with a trailing plus.
	return strings.TrimSuffix(node, "+"), nil
}

// Tip returns the node of the repository tip.
func (c *Client) Tip(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "hg", "log", "--rev", "tip", "--template", "{node}")
	cmd.Dir = c.Path
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("hg log tip failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Log returns the nodes matching a revset, newest first.
func (c *Client) Log(ctx context.Context, revset string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "hg", "log", "--rev", revset, "--template", "{node}\n")
	cmd.Dir = c.Path
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("hg log %q failed: %w", revset, err)
	}
	var nodes []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			nodes = append(nodes, line)
		}
	}
	return nodes, nil
}
