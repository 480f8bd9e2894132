// Package scoring implements the marathon scoring engine: clock-time
// parsing, per-gender placement assignment, time-gap scoring, performance
// and record bonuses, and the batch orchestration tying them together.
//
// Everything here is pure and deterministic over an in-memory batch; all
// I/O (rules lookup, result loading, record lookup, persistence) belongs to
// the caller. Scoring the same batch twice with the same rules version
// produces byte-identical breakdowns.
package scoring

import (
	"fmt"
	"log/slog"

	"github.com/marathon-scoring/internal/domain"
)

// Batch is the full in-memory input to one scoring run.
type Batch struct {
	GameID         string
	RaceID         string
	DistanceMeters int
	Results        []*domain.RaceResult
	// Records holds the stored record thresholds per gender cohort.
	Records map[domain.Gender]map[domain.RecordType]domain.RaceRecord
}

// Skip reports one result left unscored and why. Skips preserve partial
// progress: one bad row never aborts the batch.
type Skip struct {
	ResultID  string `json:"result_id"`
	AthleteID string `json:"athlete_id"`
	Reason    string `json:"reason"`
}

// Outcome is the scored batch handed back for persistence.
type Outcome struct {
	Scored      []*domain.RaceResult
	Skipped     []Skip
	WinnerTimes map[domain.Gender]int64
}

// Engine drives the per-athlete scoring pipeline.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// ScoreBatch scores every result in the batch under the given rules.
//
// Legacy rows carrying only a raw time string are normalized first;
// unparseable ones are skipped with a reason. Placements are assigned per
// gender, winner times derived, and each finisher gets placement, time-gap,
// performance-bonus and record-bonus points with a full breakdown. Results
// without a finish time (DNS/DNF rows included via the richer load mode)
// are zeroed and stamped but receive no placement or points.
//
// Fatal conditions: malformed rules, an empty batch, or no finisher in
// either gender cohort.
func (e *Engine) ScoreBatch(rules *domain.ScoringRules, batch *Batch) (*Outcome, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if len(batch.Results) == 0 {
		return nil, fmt.Errorf("%w: game %s race %s", domain.ErrNoResults, batch.GameID, batch.RaceID)
	}

	out := &Outcome{}

	eligible := make([]*domain.RaceResult, 0, len(batch.Results))
	for _, r := range batch.Results {
		if !r.Finished() && r.RawFinishTime != "" {
			ms, err := ParseClockTime(r.RawFinishTime)
			if err != nil {
				e.logger.Warn("skipping result with unparseable time",
					"result_id", r.ID,
					"athlete_id", r.AthleteID,
					"raw_time", r.RawFinishTime,
				)
				out.Skipped = append(out.Skipped, Skip{
					ResultID:  r.ID,
					AthleteID: r.AthleteID,
					Reason:    err.Error(),
				})
				continue
			}
			r.FinishTimeMs = ms
		}
		eligible = append(eligible, r)
	}

	winners := AssignPlacements(eligible)
	if len(winners) == 0 {
		return nil, domain.ErrNoFinishers
	}
	out.WinnerTimes = winners

	for _, r := range eligible {
		resetScoredFields(r, rules.Version)

		if !r.Finished() {
			out.Scored = append(out.Scored, r)
			continue
		}

		winnerMs, ok := winners[r.Gender]
		if !ok {
			e.logger.Warn("skipping result with no winner time for gender",
				"result_id", r.ID,
				"athlete_id", r.AthleteID,
				"gender", r.Gender,
			)
			out.Skipped = append(out.Skipped, Skip{
				ResultID:  r.ID,
				AthleteID: r.AthleteID,
				Reason:    fmt.Sprintf("no winner time for gender %q", r.Gender),
			})
			continue
		}

		e.scoreResult(rules, batch, r, winnerMs)
		out.Scored = append(out.Scored, r)
	}

	return out, nil
}

// scoreResult computes all four point components and the breakdown for one
// finisher. Total points is always the sum of the components; the breakdown
// serializes exactly the same four contributions.
func (e *Engine) scoreResult(rules *domain.ScoringRules, batch *Batch, r *domain.RaceResult, winnerMs int64) {
	breakdown := &domain.Breakdown{RulesVersion: rules.Version}

	if r.Placement != nil {
		r.PlacementPoints = rules.PlacementPointsFor(*r.Placement)
		breakdown.Placement = &domain.PlacementDetail{
			Place:  *r.Placement,
			Points: r.PlacementPoints,
		}
	}

	gap := GapSeconds(*r.FinishTimeMs, winnerMs)
	gapPoints, matched := GapPoints(rules.GapWindows, gap)
	r.TimeGapSeconds = &gap
	r.TimeGapPoints = gapPoints
	breakdown.TimeGap = &domain.TimeGapDetail{
		GapSeconds:       gap,
		MatchedMaxGapSec: matched,
		Points:           gapPoints,
	}

	bonuses := EvaluatePerformanceBonuses(rules, BonusInput{
		FinishTimeMs:   r.FinishTimeMs,
		Splits:         r.Splits,
		DistanceMeters: batch.DistanceMeters,
	})
	r.PerformanceBonusPoints = SumBonusPoints(bonuses)
	breakdown.PerformanceBonuses = bonuses

	broken := DetectRecordBreak(r.FinishTimeMs, batch.Records[r.Gender])
	recordOutcome := ComputeRecordBonuses(rules, broken, batch.Records[r.Gender])
	r.RecordType = recordOutcome.Type
	r.RecordStatus = recordOutcome.Status
	r.RecordBonusPoints = recordOutcome.Points
	breakdown.RecordBonuses = recordOutcome.Awards

	r.TotalPoints = r.PlacementPoints + r.TimeGapPoints + r.PerformanceBonusPoints + r.RecordBonusPoints
	breakdown.TotalPoints = r.TotalPoints
	r.Breakdown = breakdown
}

// resetScoredFields clears every computed field so re-scoring stale rows is
// idempotent regardless of what a previous run (under any rules version)
// left behind.
func resetScoredFields(r *domain.RaceResult, version string) {
	r.PlacementPoints = 0
	r.TimeGapSeconds = nil
	r.TimeGapPoints = 0
	r.PerformanceBonusPoints = 0
	r.RecordBonusPoints = 0
	r.TotalPoints = 0
	r.RecordType = domain.RecordNone
	r.RecordStatus = domain.RecordStatusNone
	r.Breakdown = nil
	r.RulesVersion = version
}
