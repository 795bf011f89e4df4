package repomanager

import "errors"

var (
	ErrRepoNotFound  = errors.New("working copy not found on disk")
	ErrRunInProgress = errors.New("a reconciliation is already running for this working copy")
)
