package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/dundeezhang/UWGitRank/internal/adapters/github"
	repository "github.com/dundeezhang/UWGitRank/internal/adapters/repository"
	app "github.com/dundeezhang/UWGitRank/internal/app"
	"github.com/dundeezhang/UWGitRank/internal/config"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

type stubGitHub struct{}

func (stubGitHub) Fetch(context.Context, string) (model.RawMetrics, error) {
	return model.RawMetrics{AllTime: model.Counts{Contributions: 1}}, nil
}

func (stubGitHub) Quota(context.Context) (github.Quota, error) { return github.Quota{}, nil }

func (stubGitHub) TopRepos(context.Context, string) ([]github.Repo, error) { return nil, nil }

func TestHandler(t *testing.T) {
	convey.Convey("Given the assembled handler", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.CronSecret = "cron"
		svc := app.New(cfg,
			app.WithStore(repository.NewMemoryStore()),
			app.WithGitHub(stubGitHub{}),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		convey.Reset(func() { _ = svc.Stop(ctx) })
		h := newHandler(cfg, svc)

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
			return w
		}

		convey.Convey("Then API and docs routes are served", func() {
			convey.So(get("/healthz").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/leaderboard").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/openapi.yaml").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/api-docs").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("And the configured limit is enforced", func() {
			convey.So(get("/leaderboard?limit=101").Code, convey.ShouldEqual, http.StatusBadRequest)
		})

		convey.Convey("And cron routes require the configured secret", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/leaderboard/refresh", http.NoBody)
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)

			w = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodPost, "/leaderboard/refresh", http.NoBody)
			req.Header.Set("Authorization", "Bearer cron")
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestLoadDotEnv(t *testing.T) {
	convey.Convey("Given a working directory", t, func() {
		dir := t.TempDir()
		wd, err := os.Getwd()
		convey.So(err, convey.ShouldBeNil)
		convey.So(os.Chdir(dir), convey.ShouldBeNil)
		convey.Reset(func() { _ = os.Chdir(wd) })

		convey.Convey("A missing .env is not an error", func() {
			convey.So(loadDotEnv(), convey.ShouldBeNil)
		})

		convey.Convey("A present .env is loaded", func() {
			path := filepath.Join(dir, ".env")
			convey.So(os.WriteFile(path, []byte("GITRANK_TEST_DOTENV=loaded\n"), 0o600), convey.ShouldBeNil)
			convey.Reset(func() { _ = os.Unsetenv("GITRANK_TEST_DOTENV") })

			convey.So(loadDotEnv(), convey.ShouldBeNil)
			convey.So(os.Getenv("GITRANK_TEST_DOTENV"), convey.ShouldEqual, "loaded")
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("Updating system metrics does not panic", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
	})
}
