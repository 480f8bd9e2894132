package scoring

import "github.com/marathon-scoring/internal/domain"

// DetectRecordBreak compares a finish time against the gender's stored
// thresholds. A record is broken only by a strictly faster time; a missing
// finish time never breaks anything.
func DetectRecordBreak(finishMs *int64, records map[domain.RecordType]domain.RaceRecord) domain.RecordType {
	if finishMs == nil {
		return domain.RecordNone
	}

	world := brokeRecord(*finishMs, records, domain.RecordWorld)
	course := brokeRecord(*finishMs, records, domain.RecordCourse)

	switch {
	case world && course:
		return domain.RecordBoth
	case world:
		return domain.RecordWorld
	case course:
		return domain.RecordCourse
	default:
		return domain.RecordNone
	}
}

func brokeRecord(finishMs int64, records map[domain.RecordType]domain.RaceRecord, t domain.RecordType) bool {
	rec, ok := records[t]
	return ok && finishMs < rec.TimeMs
}

// RecordOutcome is the record-bonus result for one athlete.
type RecordOutcome struct {
	Type   domain.RecordType
	Status domain.RecordStatus
	Awards []domain.RecordAward
	Points int
}

// ComputeRecordBonuses turns a detected break into awarded bonuses.
//
// Status is provisional when the rules require confirmation, confirmed
// otherwise. Provisional points are credited immediately only under the
// "provisional" award policy; each award still carries actual_points so a
// later confirmation can add the delta without re-deriving it. When both
// records fall and the rules mark record bonuses mutually exclusive, the
// precedence list collapses the pair to a single award so the same run is
// never double-counted.
func ComputeRecordBonuses(rules *domain.ScoringRules, broken domain.RecordType, records map[domain.RecordType]domain.RaceRecord) RecordOutcome {
	if broken == domain.RecordNone {
		return RecordOutcome{Type: domain.RecordNone}
	}

	types := brokenTypes(broken)
	if broken == domain.RecordBoth && rules.RecordBonusesMutuallyExclusive {
		types = []domain.RecordType{highestPrecedence(rules.RecordBonusPrecedence, types)}
	}

	status := domain.RecordStatusConfirmed
	if rules.RecordRequiresConfirmation {
		status = domain.RecordStatusProvisional
	}
	awardNow := status == domain.RecordStatusConfirmed ||
		rules.RecordProvisionalPointsPolicy == domain.ProvisionalPolicyAward

	out := RecordOutcome{Type: broken, Status: status}
	for _, t := range types {
		actual := rules.RecordBonusPoints[t]
		points := 0
		if awardNow {
			points = actual
		}
		out.Awards = append(out.Awards, domain.RecordAward{
			Type:         t,
			Status:       status,
			Points:       points,
			ActualPoints: actual,
			ThresholdMs:  records[t].TimeMs,
		})
		out.Points += points
	}
	return out
}

func brokenTypes(broken domain.RecordType) []domain.RecordType {
	if broken == domain.RecordBoth {
		return []domain.RecordType{domain.RecordWorld, domain.RecordCourse}
	}
	return []domain.RecordType{broken}
}

// highestPrecedence picks the first precedence entry present in types. An
// empty or non-matching precedence list falls back to the first broken type.
func highestPrecedence(precedence, types []domain.RecordType) domain.RecordType {
	for _, p := range precedence {
		for _, t := range types {
			if p == t {
				return t
			}
		}
	}
	return types[0]
}
