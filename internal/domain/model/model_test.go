package model_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestWindow(t *testing.T) {
	convey.Convey("Given window query values", t, func() {
		convey.Convey("Known values and empty parse", func() {
			for _, s := range []string{"7d", "30d", "1y", "all"} {
				w, err := model.ParseWindow(s)
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(w), convey.ShouldEqual, s)
			}
			w, err := model.ParseWindow("")
			convey.So(err, convey.ShouldBeNil)
			convey.So(w, convey.ShouldEqual, model.WindowAll)
		})

		convey.Convey("Unknown values are rejected", func() {
			_, err := model.ParseWindow("90d")
			convey.So(errors.Is(err, model.ErrInvalidWindow), convey.ShouldBeTrue)
		})

		convey.Convey("Window starts are relative to now", func() {
			now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
			convey.So(model.Window7d.Start(now), convey.ShouldEqual, time.Date(2025, 3, 24, 12, 0, 0, 0, time.UTC))
			convey.So(model.Window30d.Start(now), convey.ShouldEqual, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
			convey.So(model.Window1y.Start(now), convey.ShouldEqual, time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC))
			convey.So(model.WindowAll.Start(now).IsZero(), convey.ShouldBeTrue)
		})
	})
}

func TestMetricsSnapshot(t *testing.T) {
	convey.Convey("Given a metrics snapshot", t, func() {
		m := model.MetricsSnapshot{
			UserID: "u1",
			RawMetrics: model.RawMetrics{
				Stars:    100,
				AllTime:  model.Counts{Contributions: 50, Merges: 10},
				Last7d:   model.Counts{Contributions: 2, Merges: 1},
				Last30d:  model.Counts{Contributions: 9, Merges: 3},
				LastYear: model.Counts{Contributions: 40, Merges: 8},
			},
			Scores:           model.WindowScores{All: 1100, D7: 1007, D30: 1024, Y1: 1080},
			EndorsementCount: 4,
			SyncedAt:         time.Unix(1, 0),
		}

		convey.Convey("Counts and scores select by window", func() {
			convey.So(m.Counts(model.Window30d).Merges, convey.ShouldEqual, 3)
			convey.So(m.Counts(model.WindowAll).Contributions, convey.ShouldEqual, 50)
			convey.So(m.Scores.Get(model.Window7d), convey.ShouldEqual, 1007)
			convey.So(m.Scores.Get(model.WindowAll), convey.ShouldEqual, 1100)
		})

		convey.Convey("SameMetrics ignores bookkeeping fields", func() {
			o := m
			o.EndorsementCount = 9
			o.SyncedAt = time.Unix(2, 0)
			convey.So(m.SameMetrics(o), convey.ShouldBeTrue)
			o.Stars = 101
			convey.So(m.SameMetrics(o), convey.ShouldBeFalse)
		})

		convey.Convey("History requires a contribution", func() {
			convey.So(m.HasHistory(), convey.ShouldBeTrue)
			convey.So(model.MetricsSnapshot{}.HasHistory(), convey.ShouldBeFalse)
		})
	})
}

func TestRating(t *testing.T) {
	convey.Convey("Given fixed-point ratings", t, func() {
		convey.So(model.RatingFromFloat(1200).Float(), convey.ShouldEqual, 1200)
		convey.So(model.RatingFromFloat(16), convey.ShouldEqual, model.Rating(16*model.RatingScale))

		convey.Convey("JSON uses points", func() {
			b, err := json.Marshal(model.RatingFromFloat(1216.5))
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual, "1216.5")

			var r model.Rating
			convey.So(json.Unmarshal([]byte("1184"), &r), convey.ShouldBeNil)
			convey.So(r, convey.ShouldEqual, model.RatingFromFloat(1184))
		})

		convey.Convey("Match deltas are read per participant", func() {
			m := model.MatchRecord{
				WinnerID: "a", LoserID: "b",
				WinnerBefore: model.RatingFromFloat(1200), WinnerAfter: model.RatingFromFloat(1216),
				LoserBefore: model.RatingFromFloat(1200), LoserAfter: model.RatingFromFloat(1184),
			}
			convey.So(m.Delta("a"), convey.ShouldEqual, model.RatingFromFloat(16))
			convey.So(m.Delta("b"), convey.ShouldEqual, model.RatingFromFloat(-16))
			convey.So(m.Delta("c"), convey.ShouldEqual, model.Rating(0))
		})

		convey.Convey("Unrated profiles fall back to the baseline", func() {
			base := model.RatingFromFloat(1200)
			convey.So(model.Profile{}.EffectiveRating(base), convey.ShouldEqual, base)
			p := model.Profile{Rated: true, Rating: model.RatingFromFloat(1300)}
			convey.So(p.EffectiveRating(base), convey.ShouldEqual, model.RatingFromFloat(1300))
		})
	})
}

func TestValidationErrors(t *testing.T) {
	convey.Convey("Given validation errors", t, func() {
		err := fmt.Errorf("vote: %w", model.Validation(model.KindUnauthorized, "voter u9 is not verified"))

		convey.So(errors.Is(err, model.ErrUnauthorized), convey.ShouldBeTrue)
		convey.So(errors.Is(err, model.ErrInvalidPair), convey.ShouldBeFalse)

		v, ok := model.AsValidation(err)
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(v.Kind, convey.ShouldEqual, model.KindUnauthorized)
		convey.So(err.Error(), convey.ShouldContainSubstring, "voter u9 is not verified")

		_, ok = model.AsValidation(errors.New("plain"))
		convey.So(ok, convey.ShouldBeFalse)
	})

	convey.Convey("Given user flags", t, func() {
		convey.So(model.User{Verified: true, GitHubHandle: "octocat"}.Syncable(), convey.ShouldBeTrue)
		convey.So(model.User{Verified: true, GitHubHandle: "  "}.Syncable(), convey.ShouldBeFalse)
		convey.So(model.User{GitHubHandle: "octocat"}.Syncable(), convey.ShouldBeFalse)
	})
}
