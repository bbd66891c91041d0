package endorse_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/dundeezhang/UWGitRank/internal/domain/endorse"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type edge struct{ voter, target string }

type fakeStore struct {
	mu    sync.Mutex
	users map[string]model.User
	edges map[edge]bool
	fail  error
}

func (s *fakeStore) GetUser(_ context.Context, id string) (model.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return model.User{}, model.ErrNotFound
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, model.ErrNotFound
}

func (s *fakeStore) ToggleEndorsement(_ context.Context, voterID, targetID string) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, 0, s.fail
	}
	e := edge{voterID, targetID}
	if s.edges[e] {
		delete(s.edges, e)
	} else {
		s.edges[e] = true
	}
	var n int64
	for k := range s.edges {
		if k.target == targetID {
			n++
		}
	}
	return s.edges[e], n, nil
}

func (s *fakeStore) EndorsedUsernames(_ context.Context, voterID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.edges {
		if k.voter == voterID {
			out = append(out, s.users[k.target].Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

func TestService_Toggle(t *testing.T) {
	ctx := context.Background()

	Convey("Given verified users", t, func() {
		store := &fakeStore{
			users: map[string]model.User{
				"v": {ID: "v", Username: "voter", Verified: true},
				"w": {ID: "w", Username: "other", Verified: true},
				"t": {ID: "t", Username: "target", Verified: true},
				"u": {ID: "u", Username: "pending"},
			},
			edges: map[edge]bool{{"w", "t"}: true},
		}
		hooks := 0
		svc := endorse.NewService(store, endorse.WithChangeHook(func(context.Context) error {
			hooks++
			return nil
		}))

		Convey("Toggling twice restores state and count", func() {
			r1, err := svc.Toggle(ctx, "v", "target")
			So(err, ShouldBeNil)
			So(r1, ShouldResemble, endorse.Result{Target: "target", Endorsed: true, Count: 2})

			names, err := svc.Endorsed(ctx, "v")
			So(err, ShouldBeNil)
			So(names, ShouldResemble, []string{"target"})

			r2, err := svc.Toggle(ctx, "v", "target")
			So(err, ShouldBeNil)
			So(r2, ShouldResemble, endorse.Result{Target: "target", Endorsed: false, Count: 1})
			So(hooks, ShouldEqual, 2)
		})

		Convey("Self endorsement is rejected", func() {
			_, err := svc.Toggle(ctx, "t", "target")
			So(errors.Is(err, model.ErrSelfEndorsement), ShouldBeTrue)
		})

		Convey("Unverified or unknown voters are rejected", func() {
			_, err := svc.Toggle(ctx, "u", "target")
			So(errors.Is(err, model.ErrUnauthorized), ShouldBeTrue)
			_, err = svc.Toggle(ctx, "ghost", "target")
			So(errors.Is(err, model.ErrUnauthorized), ShouldBeTrue)
			So(hooks, ShouldEqual, 0)
		})

		Convey("Unknown targets are not found", func() {
			_, err := svc.Toggle(ctx, "v", "nobody")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Store failures propagate", func() {
			store.fail = errors.New("db down")
			_, err := svc.Toggle(ctx, "v", "target")
			So(err, ShouldNotBeNil)
			So(hooks, ShouldEqual, 0)
		})
	})
}
