// Package repository persists users, metrics snapshots, endorsements,
// ratings and the match log, and materializes the aggregate ranking rows.
package repository

import (
	"context"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

// Store provides read/write access to every persisted entity.
type Store interface {
	// UpsertUser creates or replaces a user. Identity is owned upstream;
	// operators and seeding use this.
	UpsertUser(ctx context.Context, u model.User) error
	// GetUser returns ErrNotFound for unknown ids.
	GetUser(ctx context.Context, id string) (model.User, error)
	// GetUserByUsername returns ErrNotFound for unknown usernames.
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	// SyncableUsers returns verified users with a handle, ordered by id.
	SyncableUsers(ctx context.Context) ([]model.User, error)

	// SaveMetrics replaces the metric fields of the user's snapshot. The
	// endorsement count is kept.
	SaveMetrics(ctx context.Context, m model.MetricsSnapshot) error

	// MatchupCandidates returns verified users with a handle joined with
	// their current metrics and rating.
	MatchupCandidates(ctx context.Context) ([]model.Profile, error)
	// RecordMatch atomically applies transfer to both ratings and appends
	// the match. Concurrent calls on overlapping users serialize.
	RecordMatch(ctx context.Context, m model.MatchRecord, baseline model.Rating, transfer model.Transfer) (model.MatchRecord, error)
	// MatchesForUser returns the user's matches, newest first.
	MatchesForUser(ctx context.Context, userID string) ([]model.MatchRecord, error)

	// ToggleEndorsement inserts or deletes the edge and recounts the
	// target's endorsements.
	ToggleEndorsement(ctx context.Context, voterID, targetID string) (bool, int64, error)
	// EndorsedUsernames lists the usernames voterID endorses, sorted.
	EndorsedUsernames(ctx context.Context, voterID string) ([]string, error)

	// RefreshAggregate recomputes the materialized ranking rows.
	RefreshAggregate(ctx context.Context) error
	// AggregateRows returns the rows as of the last refresh.
	AggregateRows(ctx context.Context) ([]model.Profile, error)

	Ping(ctx context.Context) error
	Close() error
}
