package repository

import (
	"errors"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	// ErrNotFound is the domain not-found error so callers can match it
	// without importing this package.
	ErrNotFound = model.ErrNotFound
	// ErrPersistence wraps failures of the backing store.
	ErrPersistence = errors.New("persistence error")
)
