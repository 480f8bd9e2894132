package domain_test

import (
	"testing"
	"time"

	"github.com/marathon-scoring/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

func provisionalResult() domain.RaceResult {
	return domain.RaceResult{
		ID:                "result-1",
		AthleteID:         "athlete-1",
		PlacementPoints:   10,
		TimeGapPoints:     25,
		RecordBonusPoints: 0,
		TotalPoints:       35,
		RecordType:        domain.RecordWorld,
		RecordStatus:      domain.RecordStatusProvisional,
		Breakdown: &domain.Breakdown{
			RulesVersion: "v1",
			RecordBonuses: []domain.RecordAward{
				{
					Type:         domain.RecordWorld,
					Status:       domain.RecordStatusProvisional,
					Points:       0, // withheld pending confirmation
					ActualPoints: 50,
					ThresholdMs:  7200000,
				},
			},
			TotalPoints: 35,
		},
	}
}

func TestConfirmRecordBonus(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

	Convey("Given a result with a withheld provisional world record bonus", t, func() {
		original := provisionalResult()

		Convey("When the record is confirmed", func() {
			updated, change, err := original.ConfirmRecordBonus(domain.RecordWorld, now)
			So(err, ShouldBeNil)

			Convey("Then the held-back points are credited", func() {
				So(updated.RecordBonusPoints, ShouldEqual, 50)
				So(updated.TotalPoints, ShouldEqual, 85)
				So(updated.Breakdown.TotalPoints, ShouldEqual, 85)
				So(updated.Breakdown.RecordBonuses[0].Points, ShouldEqual, 50)
				So(updated.Breakdown.RecordBonuses[0].Status, ShouldEqual, domain.RecordStatusConfirmed)
				So(updated.RecordStatus, ShouldEqual, domain.RecordStatusConfirmed)
				So(updated.RecordType, ShouldEqual, domain.RecordWorld)
			})

			Convey("Then the audit event carries the delta", func() {
				So(change.ResultID, ShouldEqual, "result-1")
				So(change.RecordType, ShouldEqual, domain.RecordWorld)
				So(change.Before, ShouldEqual, domain.RecordStatusProvisional)
				So(change.After, ShouldEqual, domain.RecordStatusConfirmed)
				So(change.PointsDelta, ShouldEqual, 50)
			})

			Convey("Then the original result is untouched", func() {
				So(original.TotalPoints, ShouldEqual, 35)
				So(original.Breakdown.RecordBonuses[0].Status, ShouldEqual, domain.RecordStatusProvisional)
			})

			Convey("And confirmed is terminal", func() {
				_, _, err := updated.ConfirmRecordBonus(domain.RecordWorld, now)
				So(domain.IsStateError(err), ShouldBeTrue)
				_, _, err = updated.RejectRecordBonus(domain.RecordWorld, now)
				So(domain.IsStateError(err), ShouldBeTrue)
			})
		})
	})

	Convey("Given a provisional bonus credited immediately under the provisional policy", t, func() {
		original := provisionalResult()
		original.Breakdown.RecordBonuses[0].Points = 50
		original.RecordBonusPoints = 50
		original.TotalPoints = 85
		original.Breakdown.TotalPoints = 85

		Convey("When confirmed, the delta is zero", func() {
			updated, change, err := original.ConfirmRecordBonus(domain.RecordWorld, now)
			So(err, ShouldBeNil)
			So(change.PointsDelta, ShouldEqual, 0)
			So(updated.TotalPoints, ShouldEqual, 85)
		})
	})
}

func TestRejectRecordBonus(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

	Convey("Given a result with a credited provisional record bonus", t, func() {
		original := provisionalResult()
		original.Breakdown.RecordBonuses[0].Points = 50
		original.RecordBonusPoints = 50
		original.TotalPoints = 85
		original.Breakdown.TotalPoints = 85

		Convey("When the record is rejected", func() {
			updated, change, err := original.RejectRecordBonus(domain.RecordWorld, now)
			So(err, ShouldBeNil)

			Convey("Then the contribution is zeroed and the type reset", func() {
				So(updated.RecordBonusPoints, ShouldEqual, 0)
				So(updated.TotalPoints, ShouldEqual, 35)
				So(updated.Breakdown.TotalPoints, ShouldEqual, 35)
				So(updated.RecordType, ShouldEqual, domain.RecordNone)
				So(updated.RecordStatus, ShouldEqual, domain.RecordStatusRejected)
			})

			Convey("Then the audit event subtracts the credited points", func() {
				So(change.PointsDelta, ShouldEqual, -50)
				So(change.After, ShouldEqual, domain.RecordStatusRejected)
			})

			Convey("And rejected is terminal", func() {
				_, _, err := updated.ConfirmRecordBonus(domain.RecordWorld, now)
				So(domain.IsStateError(err), ShouldBeTrue)
			})
		})
	})

	Convey("Given a result with no record bonus at all", t, func() {
		r := domain.RaceResult{ID: "result-2", TotalPoints: 20}

		Convey("Transitions are rejected with a state error and no mutation", func() {
			_, _, err := r.ConfirmRecordBonus(domain.RecordWorld, now)
			So(domain.IsStateError(err), ShouldBeTrue)
			So(r.TotalPoints, ShouldEqual, 20)
		})
	})
}

func TestRecordTransitionsWithBothRecords(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

	Convey("Given a result holding both record bonuses provisionally", t, func() {
		r := domain.RaceResult{
			ID:                "result-3",
			RecordType:        domain.RecordBoth,
			RecordStatus:      domain.RecordStatusProvisional,
			RecordBonusPoints: 80,
			TotalPoints:       100,
			Breakdown: &domain.Breakdown{
				RecordBonuses: []domain.RecordAward{
					{Type: domain.RecordWorld, Status: domain.RecordStatusProvisional, Points: 50, ActualPoints: 50},
					{Type: domain.RecordCourse, Status: domain.RecordStatusProvisional, Points: 30, ActualPoints: 30},
				},
				TotalPoints: 100,
			},
		}

		Convey("When the world record is rejected but the course record confirmed", func() {
			afterReject, _, err := r.RejectRecordBonus(domain.RecordWorld, now)
			So(err, ShouldBeNil)
			So(afterReject.RecordStatus, ShouldEqual, domain.RecordStatusProvisional)
			So(afterReject.RecordType, ShouldEqual, domain.RecordCourse)

			final, _, err := afterReject.ConfirmRecordBonus(domain.RecordCourse, now)
			So(err, ShouldBeNil)

			Convey("Then only the course bonus remains in the total", func() {
				So(final.RecordBonusPoints, ShouldEqual, 30)
				So(final.TotalPoints, ShouldEqual, 50)
				So(final.RecordType, ShouldEqual, domain.RecordCourse)
				So(final.RecordStatus, ShouldEqual, domain.RecordStatusConfirmed)
			})
		})
	})
}
