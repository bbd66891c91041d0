package leaderboard

import (
	"errors"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

var (
	// ErrNotFound is returned by Rank for users absent from the view.
	ErrNotFound = model.ErrNotFound
	// ErrInvalidLimit is returned by TopN for a non-positive limit or a
	// negative offset.
	ErrInvalidLimit = errors.New("invalid limit")
)
