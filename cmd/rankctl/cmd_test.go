package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dundeezhang/UWGitRank/internal/adapters/github"
	"github.com/dundeezhang/UWGitRank/internal/adapters/leaderboard"
	repository "github.com/dundeezhang/UWGitRank/internal/adapters/repository"
	app "github.com/dundeezhang/UWGitRank/internal/app"
	"github.com/dundeezhang/UWGitRank/internal/config"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

type stubGitHub struct{}

func (stubGitHub) Fetch(_ context.Context, handle string) (model.RawMetrics, error) {
	n := int64(len(handle))
	return model.RawMetrics{Stars: n, AllTime: model.Counts{Contributions: 10 * n, Merges: n}}, nil
}

func (stubGitHub) Quota(context.Context) (github.Quota, error) { return github.Quota{}, nil }

func (stubGitHub) TopRepos(context.Context, string) ([]github.Repo, error) { return nil, nil }

func run(store repository.Store, args ...string) (string, error) {
	open := func(ctx context.Context) (*app.Service, error) {
		cfg := config.New()
		cfg.SyncWorkers = 1
		svc := app.New(cfg, app.WithStore(store), app.WithGitHub(stubGitHub{}))
		return svc, svc.Start(ctx)
	}
	var out bytes.Buffer
	cmd := newApp(open)
	cmd.Writer = &out
	err := cmd.Run(context.Background(), append([]string{"rankctl"}, args...))
	return out.String(), err
}

func TestRankctl(t *testing.T) {
	Convey("Given an empty store", t, func() {
		store := repository.NewMemoryStore()

		Convey("User upsert writes the record", func() {
			_, err := run(store, "user", "upsert", "--id", "u1", "--username", "alice", "--handle", "alice-gh", "--verified")
			So(err, ShouldBeNil)

			u, err := store.GetUserByUsername(context.Background(), "alice")
			So(err, ShouldBeNil)
			So(u.ID, ShouldEqual, "u1")
			So(u.GitHubHandle, ShouldEqual, "alice-gh")
			So(u.Verified, ShouldBeTrue)
		})

		Convey("Seed creates one verified user per handle", func() {
			_, err := run(store, "user", "seed", "--handle", "octo", "--handle", "cat")
			So(err, ShouldBeNil)

			users, err := store.SyncableUsers(context.Background())
			So(err, ShouldBeNil)
			So(users, ShouldHaveLength, 2)
		})

		Convey("Sync all then leaderboard prints the ranking", func() {
			_, err := run(store, "user", "seed", "--handle", "octo", "--handle", "longer-handle")
			So(err, ShouldBeNil)

			out, err := run(store, "sync", "all")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, `"synced": 2`)

			out, err = run(store, "leaderboard", "--limit", "1")
			So(err, ShouldBeNil)
			var page leaderboard.Page
			So(json.Unmarshal([]byte(out), &page), ShouldBeNil)
			So(page.Total, ShouldEqual, 2)
			So(page.Entries, ShouldHaveLength, 1)
			So(page.Entries[0].Username, ShouldEqual, "longer-handle")
		})

		Convey("Sync user needs an existing user", func() {
			_, err := run(store, "sync", "user", "--id", "missing", "--handle", "octo")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Refresh reports the row count", func() {
			out, err := run(store, "refresh")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, `"rows": 0`)
		})

		Convey("An unknown window is rejected", func() {
			_, err := run(store, "leaderboard", "--window", "2w")
			So(errors.Is(err, model.ErrInvalidWindow), ShouldBeTrue)
		})
	})
}
