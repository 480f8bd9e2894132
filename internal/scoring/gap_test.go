package scoring_test

import (
	"testing"

	"github.com/marathon-scoring/internal/domain"
	"github.com/marathon-scoring/internal/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGapSeconds(t *testing.T) {
	Convey("Given finish and winner times", t, func() {
		Convey("The gap is floored to whole seconds", func() {
			So(scoring.GapSeconds(7530000, 7500000), ShouldEqual, int64(30))
			So(scoring.GapSeconds(7530999, 7500000), ShouldEqual, int64(30))
			So(scoring.GapSeconds(7500000, 7500000), ShouldEqual, int64(0))
		})
	})
}

func TestGapPoints(t *testing.T) {
	windows := []domain.GapWindow{
		{MaxGapSeconds: 60, Points: 25},
		{MaxGapSeconds: 180, Points: 18},
		{MaxGapSeconds: 600, Points: 10},
	}

	Convey("Given an ascending window table", t, func() {
		Convey("The first covering window applies", func() {
			points, matched := scoring.GapPoints(windows, 0)
			So(points, ShouldEqual, 25)
			So(*matched, ShouldEqual, int64(60))

			points, matched = scoring.GapPoints(windows, 60)
			So(points, ShouldEqual, 25)
			So(*matched, ShouldEqual, int64(60))

			points, matched = scoring.GapPoints(windows, 61)
			So(points, ShouldEqual, 18)
			So(*matched, ShouldEqual, int64(180))

			points, matched = scoring.GapPoints(windows, 600)
			So(points, ShouldEqual, 10)
			So(*matched, ShouldEqual, int64(600))
		})

		Convey("A gap beyond every window scores zero", func() {
			points, matched := scoring.GapPoints(windows, 601)
			So(points, ShouldEqual, 0)
			So(matched, ShouldBeNil)
		})

		Convey("Points are monotonically non-increasing as the gap grows", func() {
			prev := int(^uint(0) >> 1)
			for gap := int64(0); gap <= 700; gap++ {
				points, _ := scoring.GapPoints(windows, gap)
				So(points, ShouldBeLessThanOrEqualTo, prev)
				prev = points
			}
		})

		Convey("An empty window table scores zero", func() {
			points, matched := scoring.GapPoints(nil, 10)
			So(points, ShouldEqual, 0)
			So(matched, ShouldBeNil)
		})
	})
}
