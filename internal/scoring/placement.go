package scoring

import (
	"cmp"
	"slices"

	"github.com/marathon-scoring/internal/domain"
)

// AssignPlacements assigns standard competition ranks within each gender
// cohort and returns the winning time per gender. Results without a finish
// time receive no placement. Ties share a placement and use up rank slots:
// two tied for 2nd means both get 2 and the next distinct time gets 4.
// An empty cohort simply produces no winner entry.
//
// Men and women never share placement ordinals or winner-time references.
func AssignPlacements(results []*domain.RaceResult) map[domain.Gender]int64 {
	winners := make(map[domain.Gender]int64)

	cohorts := make(map[domain.Gender][]*domain.RaceResult)
	for _, r := range results {
		r.Placement = nil
		if r.Finished() {
			cohorts[r.Gender] = append(cohorts[r.Gender], r)
		}
	}

	for _, gender := range domain.Genders {
		cohort := cohorts[gender]
		if len(cohort) == 0 {
			continue
		}

		// Secondary sort on athlete ID keeps tie output order deterministic.
		slices.SortFunc(cohort, func(a, b *domain.RaceResult) int {
			if c := cmp.Compare(*a.FinishTimeMs, *b.FinishTimeMs); c != 0 {
				return c
			}
			return cmp.Compare(a.AthleteID, b.AthleteID)
		})

		place := 1
		for i, r := range cohort {
			if i > 0 && *r.FinishTimeMs != *cohort[i-1].FinishTimeMs {
				place = i + 1
			}
			p := place
			r.Placement = &p
		}

		winners[gender] = *cohort[0].FinishTimeMs
	}

	return winners
}
