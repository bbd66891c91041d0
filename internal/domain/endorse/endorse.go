// Package endorse toggles peer endorsements between users.
package endorse

import (
	"context"
	"errors"
	"fmt"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/keylock"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

// Store is the persistence endorsements need.
type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	// ToggleEndorsement inserts the (voter, target) edge when absent and
	// deletes it otherwise, then recounts the target's endorsements. It
	// reports whether the edge exists afterwards and the new count.
	ToggleEndorsement(ctx context.Context, voterID, targetID string) (bool, int64, error)
	// EndorsedUsernames lists the usernames voterID endorses.
	EndorsedUsernames(ctx context.Context, voterID string) ([]string, error)
}

// Result is the state after a toggle.
type Result struct {
	Target   string `json:"target"`
	Endorsed bool   `json:"endorsed"`
	Count    int64  `json:"count"`
}

// Service toggles endorsements.
type Service struct {
	store    Store
	locks    *keylock.Locker
	onChange func(context.Context) error
	logger   logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithChangeHook sets a callback run after every toggle.
func WithChangeHook(fn func(context.Context) error) Option {
	return func(s *Service) { s.onChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l.Named("endorse") }
}

// NewService creates an endorsement service on store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  keylock.New(),
		logger: logger.Get().Named("endorse"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Toggle endorses targetUsername on behalf of voterID, or withdraws the
// endorsement if it already exists. Toggling twice restores the original
// state and count.
func (s *Service) Toggle(ctx context.Context, voterID, targetUsername string) (Result, error) {
	voter, err := s.store.GetUser(ctx, voterID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return Result{}, model.Validation(model.KindUnauthorized, "unknown voter")
	case err != nil:
		return Result{}, fmt.Errorf("load voter: %w", err)
	case !voter.Verified:
		return Result{}, model.Validation(model.KindUnauthorized, "voter is not verified")
	}
	target, err := s.store.GetUserByUsername(ctx, targetUsername)
	if err != nil {
		return Result{}, fmt.Errorf("load target %q: %w", targetUsername, err)
	}
	if target.ID == voter.ID {
		return Result{}, model.ErrSelfEndorsement
	}

	key := voter.ID + "\x00" + target.ID
	s.locks.Lock(key)
	endorsed, count, err := s.store.ToggleEndorsement(ctx, voter.ID, target.ID)
	s.locks.Unlock(key)
	if err != nil {
		return Result{}, fmt.Errorf("toggle endorsement: %w", err)
	}

	action := "removed"
	if endorsed {
		action = "added"
	}
	metrics.RecordEndorsementToggle(action)
	s.logger.Debug(ctx, "endorsement toggled",
		logger.String("voter", voter.ID),
		logger.String("target", target.ID),
		logger.String("action", action),
		logger.Int64("count", count),
	)
	if s.onChange != nil {
		if err := s.onChange(ctx); err != nil {
			s.logger.Warn(ctx, "aggregate refresh after endorsement failed", logger.Error(err))
		}
	}
	return Result{Target: target.Username, Endorsed: endorsed, Count: count}, nil
}

// Endorsed lists the usernames voterID currently endorses.
func (s *Service) Endorsed(ctx context.Context, voterID string) ([]string, error) {
	names, err := s.store.EndorsedUsernames(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("list endorsements: %w", err)
	}
	return names, nil
}
