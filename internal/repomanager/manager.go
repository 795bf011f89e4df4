// Package repomanager validates and serializes access to the local working
// copies the reconciliation mutates.
package repomanager

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"

	"github.com/sevigo/stack-warden/internal/config"
)

// RepoManager guards the primary and secondary working copies. Runs mutate
// the working tree in place, so at most one run may hold a working copy at a
// time.
type RepoManager interface {
	// Acquire takes the exclusive lock for the primary working copy. It fails
	// with ErrRunInProgress instead of queueing; the caller reports the
	// conflict to the requester.
	Acquire(runID string) (release func(), err error)
	// ValidatePaths checks that the configured working copies exist and look
	// like repositories of the expected kind.
	ValidatePaths() error
}

const lockFileName = ".stack-warden.lock"

// manager implements the RepoManager interface.
type manager struct {
	cfg    *config.Config
	logger *slog.Logger

	repoMux sync.Map
}

// New creates a new RepoManager.
func New(cfg *config.Config, logger *slog.Logger) RepoManager {
	return &manager{
		cfg:    cfg,
		logger: logger,
	}
}

func (m *manager) Acquire(runID string) (func(), error) {
	val, _ := m.repoMux.LoadOrStore(m.cfg.PrimaryPath, &sync.Mutex{})
	mux, ok := val.(*sync.Mutex)
	if !ok {
		return nil, fmt.Errorf("internal error: failed to assert mutex type")
	}
	if !mux.TryLock() {
		return nil, ErrRunInProgress
	}

	// The lock file guards against a second process targeting the same
	// working copy; the mutex only covers this process.
	lockPath := filepath.Join(m.cfg.PrimaryPath, lockFileName)
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		mux.Unlock()
		if os.IsExist(err) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, _ = lock.WriteString(runID + "\n")
	_ = lock.Close()

	m.logger.Debug("acquired working copy", "path", m.cfg.PrimaryPath, "run_id", runID)
	return func() {
		if err := os.Remove(lockPath); err != nil {
			m.logger.Warn("failed to remove lock file", "path", lockPath, "error", err)
		}
		mux.Unlock()
		m.logger.Debug("released working copy", "path", m.cfg.PrimaryPath, "run_id", runID)
	}, nil
}

// ValidatePaths verifies the primary working copy is a Mercurial checkout and
// the secondary, when configured, is a git repository openable by go-git.
func (m *manager) ValidatePaths() error {
	hgDir := filepath.Join(m.cfg.PrimaryPath, ".hg")
	info, err := os.Stat(hgDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("primary working copy %s: %w", m.cfg.PrimaryPath, ErrRepoNotFound)
		}
		return fmt.Errorf("stat primary working copy: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("primary working copy %s: .hg is not a directory", m.cfg.PrimaryPath)
	}

	if m.cfg.SecondaryPath == "" {
		return nil
	}
	if _, err := git.PlainOpen(m.cfg.SecondaryPath); err != nil {
		return fmt.Errorf("secondary working copy %s: %w", m.cfg.SecondaryPath, err)
	}
	return nil
}
