package rating_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeStore struct {
	mu         sync.Mutex
	users      map[string]model.User
	metrics    map[string]model.MetricsSnapshot
	ratings    map[string]model.Rating
	matches    []model.MatchRecord
	failRecord error
}

func newFakeStore(users ...model.User) *fakeStore {
	s := &fakeStore{
		users:   map[string]model.User{},
		metrics: map[string]model.MetricsSnapshot{},
		ratings: map[string]model.Rating{},
	}
	for _, u := range users {
		s.users[u.ID] = u
		s.metrics[u.ID] = model.MetricsSnapshot{UserID: u.ID, RawMetrics: model.RawMetrics{AllTime: model.Counts{Contributions: 5}}}
	}
	return s
}

func (s *fakeStore) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, model.ErrNotFound
}

func (s *fakeStore) MatchupCandidates(_ context.Context) ([]model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Profile
	for id, u := range s.users {
		r, rated := s.ratings[id]
		out = append(out, model.Profile{User: u, Metrics: s.metrics[id], Rating: r, Rated: rated})
	}
	return out, nil
}

func (s *fakeStore) RecordMatch(_ context.Context, m model.MatchRecord, baseline model.Rating, transfer model.Transfer) (model.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecord != nil {
		return model.MatchRecord{}, s.failRecord
	}
	get := func(id string) model.Rating {
		if r, ok := s.ratings[id]; ok {
			return r
		}
		return baseline
	}
	m.WinnerBefore, m.LoserBefore = get(m.WinnerID), get(m.LoserID)
	m.WinnerAfter, m.LoserAfter = transfer(m.WinnerBefore, m.LoserBefore)
	s.ratings[m.WinnerID], s.ratings[m.LoserID] = m.WinnerAfter, m.LoserAfter
	s.matches = append(s.matches, m)
	return m, nil
}

func (s *fakeStore) MatchesForUser(_ context.Context, userID string) ([]model.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MatchRecord
	for i := len(s.matches) - 1; i >= 0; i-- {
		if m := s.matches[i]; m.WinnerID == userID || m.LoserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func verified(id string) model.User {
	return model.User{ID: id, Username: "user-" + id, GitHubHandle: "gh-" + id, Verified: true}
}

func TestService_Matchup(t *testing.T) {
	ctx := context.Background()

	Convey("Given a rating service", t, func() {
		Convey("With fewer than two eligible users", func() {
			store := newFakeStore(verified("a"), model.User{ID: "b", GitHubHandle: "b"}, model.User{ID: "c", Verified: true})
			store.users["d"] = verified("d")
			store.metrics["d"] = model.MetricsSnapshot{UserID: "d"}
			svc := rating.NewService(store)

			_, err := svc.Matchup(ctx)
			So(errors.Is(err, model.ErrNotEnoughParticipants), ShouldBeTrue)
		})

		Convey("With two eligible users", func() {
			store := newFakeStore(verified("a"), verified("b"), model.User{ID: "x", Username: "x"})
			svc := rating.NewService(store, rating.WithRand(rand.New(rand.NewPCG(1, 2))))

			Convey("It never pairs a user with themself", func() {
				seen := map[string]bool{}
				for i := 0; i < 200; i++ {
					m, err := svc.Matchup(ctx)
					So(err, ShouldBeNil)
					So(m.A.User.ID, ShouldNotEqual, m.B.User.ID)
					So(m.Token, ShouldNotBeEmpty)
					seen[m.A.User.ID] = true
					seen[m.B.User.ID] = true
				}
				So(seen, ShouldResemble, map[string]bool{"a": true, "b": true})
			})
		})
	})
}

func TestService_Vote(t *testing.T) {
	ctx := context.Background()

	Convey("Given two users at the baseline and a verified voter", t, func() {
		store := newFakeStore(verified("a"), verified("b"), verified("v"))
		store.users["u"] = model.User{ID: "u", Username: "u"}
		var refreshes atomic.Int32
		svc := rating.NewService(store,
			rating.WithTokenSecret([]byte("k"), time.Minute),
			rating.WithChangeHook(func(context.Context) error {
				refreshes.Add(1)
				return errors.New("view unavailable")
			}),
		)

		Convey("A vote moves exactly 16 points", func() {
			rec, err := svc.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: "a", LoserID: "b"})
			So(err, ShouldBeNil)
			So(rec.ID, ShouldNotBeEmpty)
			So(rec.VoterID, ShouldEqual, "v")
			So(rec.WinnerBefore, ShouldEqual, model.RatingFromFloat(1200))
			So(rec.WinnerAfter, ShouldEqual, model.RatingFromFloat(1216))
			So(rec.LoserAfter, ShouldEqual, model.RatingFromFloat(1184))
			So(store.matches, ShouldHaveLength, 1)

			Convey("And a failing refresh hook does not fail the vote", func() {
				So(refreshes.Load(), ShouldEqual, 1)
			})
		})

		Convey("Validation runs in order", func() {
			_, err := svc.Vote(ctx, rating.Vote{VoterID: "u", WinnerID: "a", LoserID: "a"})
			So(errors.Is(err, model.ErrUnauthorized), ShouldBeTrue)

			_, err = svc.Vote(ctx, rating.Vote{VoterID: "nobody", WinnerID: "a", LoserID: "b"})
			So(errors.Is(err, model.ErrUnauthorized), ShouldBeTrue)

			_, err = svc.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: "a", LoserID: "a", Token: "garbage"})
			So(errors.Is(err, model.ErrInvalidPair), ShouldBeTrue)

			_, err = svc.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: "a", LoserID: "b", Token: "garbage"})
			So(errors.Is(err, model.ErrInvalidToken), ShouldBeTrue)

			_, err = svc.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: "a", LoserID: "ghost"})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)

			So(store.matches, ShouldBeEmpty)
			So(refreshes.Load(), ShouldEqual, 0)
		})

		Convey("A voter may be one of the participants", func() {
			_, err := svc.Vote(ctx, rating.Vote{VoterID: "a", WinnerID: "a", LoserID: "b"})
			So(err, ShouldBeNil)
		})

		Convey("Matchup tokens are single-use", func() {
			m, err := svc.Matchup(ctx)
			So(err, ShouldBeNil)
			vote := rating.Vote{VoterID: "v", WinnerID: m.B.User.ID, LoserID: m.A.User.ID, Token: m.Token}

			_, err = svc.Vote(ctx, vote)
			So(err, ShouldBeNil)
			_, err = svc.Vote(ctx, vote)
			So(errors.Is(err, model.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("A token is released when persistence fails", func() {
			m, err := svc.Matchup(ctx)
			So(err, ShouldBeNil)
			vote := rating.Vote{VoterID: "v", WinnerID: m.A.User.ID, LoserID: m.B.User.ID, Token: m.Token}

			store.failRecord = errors.New("db down")
			_, err = svc.Vote(ctx, vote)
			So(err, ShouldNotBeNil)
			_, isValidation := model.AsValidation(err)
			So(isValidation, ShouldBeFalse)

			store.failRecord = nil
			_, err = svc.Vote(ctx, vote)
			So(err, ShouldBeNil)
		})

		Convey("Required tokens reject bare votes", func() {
			strict := rating.NewService(store, rating.WithRequireToken(true))
			_, err := strict.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: "a", LoserID: "b"})
			So(errors.Is(err, model.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("Concurrent votes conserve total rating", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					w, l := "a", "b"
					if i%3 == 0 {
						w, l = l, w
					}
					_, _ = svc.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: w, LoserID: l})
				}(i)
			}
			wg.Wait()
			So(store.ratings["a"]+store.ratings["b"], ShouldEqual, model.RatingFromFloat(2400))
			So(store.matches, ShouldHaveLength, 50)
		})
	})
}

func TestService_BattleStats(t *testing.T) {
	ctx := context.Background()

	Convey("Given a user with a match history", t, func() {
		store := newFakeStore(verified("a"), verified("b"), verified("c"), verified("v"))
		svc := rating.NewService(store)
		for _, p := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "a"}, {"a", "b"}} {
			_, err := svc.Vote(ctx, rating.Vote{VoterID: "v", WinnerID: p[0], LoserID: p[1]})
			So(err, ShouldBeNil)
		}

		Convey("Totals cover every match while the log is paginated", func() {
			st, err := svc.BattleStats(ctx, "user-a", 2, 0)
			So(err, ShouldBeNil)
			So(st.TotalBattles, ShouldEqual, 4)
			So(st.Wins, ShouldEqual, 3)
			So(st.Losses, ShouldEqual, 1)
			So(st.TotalMatchCount, ShouldEqual, 4)
			So(st.Matches, ShouldHaveLength, 2)
			So(st.HasMore, ShouldBeTrue)
			So(st.Matches[0].WinnerID, ShouldEqual, "a")
			So(st.Matches[0].LoserID, ShouldEqual, "b")
			So(st.MaxGain, ShouldBeGreaterThan, 0)
			So(st.MaxLoss, ShouldBeGreaterThan, 0)
			So(st.TotalGained, ShouldBeGreaterThanOrEqualTo, st.MaxGain)

			last, err := svc.BattleStats(ctx, "user-a", 2, 2)
			So(err, ShouldBeNil)
			So(last.Matches, ShouldHaveLength, 2)
			So(last.HasMore, ShouldBeFalse)
		})

		Convey("Offsets past the end return an empty page", func() {
			st, err := svc.BattleStats(ctx, "user-a", 10, 50)
			So(err, ShouldBeNil)
			So(st.Matches, ShouldBeEmpty)
			So(st.HasMore, ShouldBeFalse)
		})

		Convey("The timeline lists every match", func() {
			ms, err := svc.Timeline(ctx, "user-c")
			So(err, ShouldBeNil)
			So(ms, ShouldHaveLength, 1)
		})

		Convey("Unknown users are not found", func() {
			_, err := svc.BattleStats(ctx, "nobody", 10, 0)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestSummarize(t *testing.T) {
	Convey("Given matches with known deltas", t, func() {
		r := model.RatingFromFloat
		matches := []model.MatchRecord{
			{WinnerID: "a", LoserID: "b", WinnerBefore: r(1200), WinnerAfter: r(1210)},
			{WinnerID: "b", LoserID: "a", LoserBefore: r(1220), LoserAfter: r(1200)},
			{WinnerID: "a", LoserID: "c", WinnerBefore: r(1200), WinnerAfter: r(1220)},
		}
		st := rating.Summarize("a", matches, 100, 0)
		So(st.Wins, ShouldEqual, 2)
		So(st.Losses, ShouldEqual, 1)
		So(st.TotalGained, ShouldEqual, r(30))
		So(st.TotalLost, ShouldEqual, r(20))
		So(st.MaxGain, ShouldEqual, r(20))
		So(st.MaxLoss, ShouldEqual, r(20))
		So(st.HasMore, ShouldBeFalse)
	})
}
