package rating_test

import (
	"testing"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func TestElo(t *testing.T) {
	Convey("Given the default Elo", t, func() {
		e := rating.NewElo(rating.DefaultK)
		r := model.RatingFromFloat

		Convey("Equal ratings transfer exactly half of K", func() {
			So(e.Expected(r(1200), r(1200)), ShouldEqual, 0.5)
			w, l := e.Transfer(r(1200), r(1200))
			So(w, ShouldEqual, r(1216))
			So(l, ShouldEqual, r(1184))
		})

		Convey("Every transfer is zero-sum", func() {
			for _, pair := range [][2]float64{
				{1200, 1200}, {1500, 900}, {900, 1500}, {1234.567, 1187.001}, {0, 3000}, {-50, 40},
			} {
				wb, lb := r(pair[0]), r(pair[1])
				wa, la := e.Transfer(wb, lb)
				So(wa-wb, ShouldEqual, -(la - lb))
				So(wa-wb, ShouldBeGreaterThanOrEqualTo, 0)
				So(wa-wb, ShouldBeLessThanOrEqualTo, r(rating.DefaultK))
			}
		})

		Convey("Beating a stronger opponent gains more", func() {
			weak := e.Delta(r(1200), r(1000))
			even := e.Delta(r(1200), r(1200))
			strong := e.Delta(r(1200), r(1400))
			So(weak, ShouldBeLessThan, even)
			So(even, ShouldBeLessThan, strong)
		})

		Convey("K scales the transfer", func() {
			So(rating.NewElo(16).Delta(r(1200), r(1200)), ShouldEqual, r(8))
		})
	})
}
