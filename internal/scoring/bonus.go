package scoring

import "github.com/marathon-scoring/internal/domain"

const (
	// fast finish needs at least this much race to compare against
	minFastFinishDistanceMeters = 10000
	lastSplitDistanceMeters     = 5000
)

// bonusOrder fixes the evaluation (and therefore exclusion encounter) order.
var bonusOrder = []string{
	domain.BonusNegativeSplit,
	domain.BonusEvenPace,
	domain.BonusFastFinish,
}

// BonusInput carries the pacing data one athlete needs for bonus evaluation.
type BonusInput struct {
	FinishTimeMs   *int64
	Splits         domain.SplitTimes
	DistanceMeters int
}

// EvaluatePerformanceBonuses runs the independent pacing checks and resolves
// configured mutual exclusions. A bonus that is disabled or missing its
// required inputs yields nothing; evaluation never errors.
func EvaluatePerformanceBonuses(rules *domain.ScoringRules, in BonusInput) []domain.BonusAward {
	var awards []domain.BonusAward
	for _, name := range bonusOrder {
		cfg, ok := rules.Bonuses[name]
		if !ok || !cfg.Enabled {
			continue
		}

		var award *domain.BonusAward
		switch name {
		case domain.BonusNegativeSplit:
			award = negativeSplit(cfg, in)
		case domain.BonusEvenPace:
			award = evenPace(cfg, in)
		case domain.BonusFastFinish:
			award = fastFinish(cfg, in)
		}
		if award != nil {
			awards = append(awards, *award)
		}
	}
	return resolveExclusions(awards, rules.BonusExclusions)
}

// SumBonusPoints totals the surviving awards.
func SumBonusPoints(awards []domain.BonusAward) int {
	total := 0
	for _, a := range awards {
		total += a.Points
	}
	return total
}

// negativeSplit awards when the second half is strictly faster than the first.
func negativeSplit(cfg domain.BonusConfig, in BonusInput) *domain.BonusAward {
	first, second := in.Splits.FirstHalfMs, in.Splits.SecondHalfMs
	if first == nil || second == nil {
		return nil
	}
	if *second >= *first {
		return nil
	}
	return &domain.BonusAward{
		Type:   domain.BonusNegativeSplit,
		Points: cfg.Points,
		Details: map[string]int64{
			"first_half_ms":  *first,
			"second_half_ms": *second,
			"improvement_ms": *first - *second,
		},
	}
}

// evenPace awards when the half-split deviation stays within the configured
// fraction of the total time.
func evenPace(cfg domain.BonusConfig, in BonusInput) *domain.BonusAward {
	first, second := in.Splits.FirstHalfMs, in.Splits.SecondHalfMs
	if first == nil || second == nil || in.FinishTimeMs == nil {
		return nil
	}
	deviation := *second - *first
	if deviation < 0 {
		deviation = -deviation
	}
	tolerance := int64(float64(*in.FinishTimeMs) * cfg.ToleranceRatio)
	if deviation > tolerance {
		return nil
	}
	return &domain.BonusAward{
		Type:   domain.BonusEvenPace,
		Points: cfg.Points,
		Details: map[string]int64{
			"first_half_ms":  *first,
			"second_half_ms": *second,
			"deviation_ms":   deviation,
			"tolerance_ms":   tolerance,
		},
	}
}

// fastFinish awards a closing kick: the last-5k pace must be at least the
// configured ratio faster than the overall average pace.
func fastFinish(cfg domain.BonusConfig, in BonusInput) *domain.BonusAward {
	last := in.Splits.Last5KMs
	if last == nil || in.FinishTimeMs == nil || in.DistanceMeters < minFastFinishDistanceMeters {
		return nil
	}
	avgPace := float64(*in.FinishTimeMs) / float64(in.DistanceMeters)
	lastPace := float64(*last) / float64(lastSplitDistanceMeters)
	if lastPace > avgPace*(1-cfg.PaceImprovementRatio) {
		return nil
	}
	return &domain.BonusAward{
		Type:   domain.BonusFastFinish,
		Points: cfg.Points,
		Details: map[string]int64{
			"last_5k_ms":             *last,
			"avg_pace_ms_per_km":     int64(avgPace * 1000),
			"last_5k_pace_ms_per_km": int64(lastPace * 1000),
		},
	}
}

// resolveExclusions drops the lower-point bonus of each configured conflict.
// On an exact points tie the bonus targeted by the exclusion list is the one
// dropped, walking awards in encounter order. That tie-break is inherited
// behavior and deliberately kept (see DESIGN.md).
func resolveExclusions(awards []domain.BonusAward, exclusions map[string][]string) []domain.BonusAward {
	if len(awards) < 2 || len(exclusions) == 0 {
		return awards
	}

	dropped := make(map[string]bool)
	for _, a := range awards {
		if dropped[a.Type] {
			continue
		}
		for _, targetType := range exclusions[a.Type] {
			target := findAward(awards, targetType)
			if target == nil || dropped[target.Type] || target.Type == a.Type {
				continue
			}
			if target.Points > a.Points {
				dropped[a.Type] = true
				break
			}
			dropped[target.Type] = true
		}
	}

	kept := awards[:0]
	for _, a := range awards {
		if !dropped[a.Type] {
			kept = append(kept, a)
		}
	}
	return kept
}

func findAward(awards []domain.BonusAward, bonusType string) *domain.BonusAward {
	for i := range awards {
		if awards[i].Type == bonusType {
			return &awards[i]
		}
	}
	return nil
}
