package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/keylock"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-node deployments without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]model.User
	byUsername map[string]string
	metrics    map[string]model.MetricsSnapshot
	ratings    map[string]model.Rating
	matches    []model.MatchRecord
	// endorsements maps target id to the set of voter ids.
	endorsements map[string]map[string]struct{}
	aggregate    []model.Profile

	// rows serializes read-modify-write sequences per user.
	rows *keylock.Locker
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]model.User),
		byUsername:   make(map[string]string),
		metrics:      make(map[string]model.MetricsSnapshot),
		ratings:      make(map[string]model.Rating),
		endorsements: make(map[string]map[string]struct{}),
		rows:         keylock.New(),
		now:          time.Now,
	}
}

func (s *MemoryStore) UpsertUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byUsername[u.Username]; ok && owner != u.ID {
		return fmt.Errorf("%w: username %q is taken", ErrPersistence, u.Username)
	}
	if prev, ok := s.users[u.ID]; ok && prev.Username != u.Username {
		delete(s.byUsername, prev.Username)
	}
	s.users[u.ID] = u
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return model.User{}, fmt.Errorf("username %q: %w", username, ErrNotFound)
	}
	return s.users[id], nil
}

func (s *MemoryStore) SyncableUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		if u.Syncable() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveMetrics(_ context.Context, m model.MetricsSnapshot) error {
	s.rows.Lock(m.UserID)
	defer s.rows.Unlock(m.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[m.UserID]; !ok {
		return fmt.Errorf("metrics for %q: %w", m.UserID, ErrNotFound)
	}
	m.EndorsementCount = int64(len(s.endorsements[m.UserID]))
	s.metrics[m.UserID] = m
	return nil
}

// GetMetrics returns the stored snapshot of userID.
func (s *MemoryStore) GetMetrics(_ context.Context, userID string) (model.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[userID]
	if !ok {
		return model.MetricsSnapshot{}, fmt.Errorf("metrics for %q: %w", userID, ErrNotFound)
	}
	return m, nil
}

func (s *MemoryStore) MatchupCandidates(_ context.Context) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Profile, 0, len(s.users))
	for _, u := range s.users {
		if !u.Syncable() {
			continue
		}
		out = append(out, s.profileLocked(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out, nil
}

func (s *MemoryStore) profileLocked(u model.User) model.Profile {
	p := model.Profile{User: u}
	if m, ok := s.metrics[u.ID]; ok {
		p.Metrics = m
	} else {
		p.Metrics.UserID = u.ID
	}
	p.Metrics.EndorsementCount = int64(len(s.endorsements[u.ID]))
	p.Rating, p.Rated = s.ratings[u.ID]
	return p
}

func (s *MemoryStore) RecordMatch(_ context.Context, m model.MatchRecord, baseline model.Rating, transfer model.Transfer) (model.MatchRecord, error) {
	unlock := s.rows.LockAll(m.WinnerID, m.LoserID)
	defer unlock()

	s.mu.RLock()
	winner, okW := s.users[m.WinnerID]
	loser, okL := s.users[m.LoserID]
	_, okV := s.users[m.VoterID]
	wb, ok := s.ratings[m.WinnerID]
	if !ok {
		wb = baseline
	}
	lb, ok := s.ratings[m.LoserID]
	if !ok {
		lb = baseline
	}
	s.mu.RUnlock()

	switch {
	case !okW:
		return model.MatchRecord{}, fmt.Errorf("winner %q: %w", m.WinnerID, ErrNotFound)
	case !okL:
		return model.MatchRecord{}, fmt.Errorf("loser %q: %w", m.LoserID, ErrNotFound)
	case !okV:
		return model.MatchRecord{}, fmt.Errorf("voter %q: %w", m.VoterID, ErrNotFound)
	}

	wa, la := transfer(wb, lb)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	m.WinnerUsername, m.LoserUsername = winner.Username, loser.Username
	m.WinnerBefore, m.WinnerAfter = wb, wa
	m.LoserBefore, m.LoserAfter = lb, la

	s.mu.Lock()
	s.ratings[m.WinnerID] = wa
	s.ratings[m.LoserID] = la
	s.matches = append(s.matches, m)
	s.mu.Unlock()
	return m, nil
}

func (s *MemoryStore) MatchesForUser(_ context.Context, userID string) ([]model.MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MatchRecord
	for i := len(s.matches) - 1; i >= 0; i-- {
		m := s.matches[i]
		if m.WinnerID == userID || m.LoserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) ToggleEndorsement(_ context.Context, voterID, targetID string) (bool, int64, error) {
	if voterID == targetID {
		return false, 0, model.ErrSelfEndorsement
	}
	s.rows.Lock(targetID)
	defer s.rows.Unlock(targetID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[voterID]; !ok {
		return false, 0, fmt.Errorf("voter %q: %w", voterID, ErrNotFound)
	}
	if _, ok := s.users[targetID]; !ok {
		return false, 0, fmt.Errorf("target %q: %w", targetID, ErrNotFound)
	}

	voters := s.endorsements[targetID]
	if voters == nil {
		voters = make(map[string]struct{})
		s.endorsements[targetID] = voters
	}
	_, had := voters[voterID]
	if had {
		delete(voters, voterID)
	} else {
		voters[voterID] = struct{}{}
	}
	count := int64(len(voters))
	if m, ok := s.metrics[targetID]; ok {
		m.EndorsementCount = count
		s.metrics[targetID] = m
	}
	return !had, count, nil
}

func (s *MemoryStore) EndorsedUsernames(_ context.Context, voterID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for target, voters := range s.endorsements {
		if _, ok := voters[voterID]; ok {
			if u, ok := s.users[target]; ok {
				out = append(out, u.Username)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// RefreshAggregate snapshots every verified user with synced metrics.
func (s *MemoryStore) RefreshAggregate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]model.Profile, 0, len(s.metrics))
	for id := range s.metrics {
		u := s.users[id]
		if !u.Verified {
			continue
		}
		rows = append(rows, s.profileLocked(u))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].User.ID < rows[j].User.ID })
	s.aggregate = rows
	return nil
}

func (s *MemoryStore) AggregateRows(_ context.Context) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.aggregate), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
