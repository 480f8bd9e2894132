package domain

import "time"

// Gender partitions a race into independently ranked cohorts
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Genders lists the cohorts in the order they are processed
var Genders = []Gender{GenderMale, GenderFemale}

// SplitTimes holds the intermediate course splits for one finisher.
// All values are milliseconds from the gun; nil means the split was not taken.
type SplitTimes struct {
	Split5KMs    *int64 `json:"split_5k_ms,omitempty"`
	Split10KMs   *int64 `json:"split_10k_ms,omitempty"`
	FirstHalfMs  *int64 `json:"first_half_ms,omitempty"`
	SecondHalfMs *int64 `json:"second_half_ms,omitempty"`
	Split30KMs   *int64 `json:"split_30k_ms,omitempty"`
	Last5KMs     *int64 `json:"last_5k_ms,omitempty"`
}

// RaceResult is one athlete's row for one race instance. Created when a time
// is first recorded, mutated on every scoring run, deleted only by an
// explicit reset.
type RaceResult struct {
	ID        string `json:"id"`
	GameID    string `json:"game_id"`
	RaceID    string `json:"race_id"`
	AthleteID string `json:"athlete_id"`
	Gender    Gender `json:"gender"`

	// FinishTimeMs is nil for DNF/DNS entries and for legacy rows that still
	// carry only RawFinishTime. Legacy rows are normalized at the repository
	// boundary before scoring.
	FinishTimeMs  *int64     `json:"finish_time_ms,omitempty"`
	RawFinishTime string     `json:"raw_finish_time,omitempty"`
	Splits        SplitTimes `json:"splits"`

	Placement              *int   `json:"placement,omitempty"`
	PlacementPoints        int    `json:"placement_points"`
	TimeGapSeconds         *int64 `json:"time_gap_seconds,omitempty"`
	TimeGapPoints          int    `json:"time_gap_points"`
	PerformanceBonusPoints int    `json:"performance_bonus_points"`
	RecordBonusPoints      int    `json:"record_bonus_points"`
	TotalPoints            int    `json:"total_points"`

	RulesVersion string       `json:"rules_version,omitempty"`
	Breakdown    *Breakdown   `json:"breakdown,omitempty"`
	RecordType   RecordType   `json:"record_type"`
	RecordStatus RecordStatus `json:"record_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished reports whether the row carries a usable finish time.
func (r *RaceResult) Finished() bool {
	return r.FinishTimeMs != nil
}

// Breakdown is the write-once audit snapshot of how a result's total was
// derived. It must be regenerable byte-for-byte from the same rules version
// and raw inputs, so every field it serializes is either a fixed-layout
// struct or a map with deterministic key ordering.
type Breakdown struct {
	RulesVersion        string            `json:"rules_version"`
	Placement           *PlacementDetail  `json:"placement,omitempty"`
	TimeGap             *TimeGapDetail    `json:"time_gap,omitempty"`
	PerformanceBonuses  []BonusAward      `json:"performance_bonuses,omitempty"`
	RecordBonuses       []RecordAward     `json:"record_bonuses,omitempty"`
	TotalPoints         int               `json:"total_points"`
}

// PlacementDetail records the rank and the points it mapped to.
type PlacementDetail struct {
	Place  int `json:"place"`
	Points int `json:"points"`
}

// TimeGapDetail records the gap to the gender winner and which window matched.
type TimeGapDetail struct {
	GapSeconds       int64  `json:"gap_seconds"`
	MatchedMaxGapSec *int64 `json:"matched_max_gap_seconds,omitempty"`
	Points           int    `json:"points"`
}

// BonusAward is one awarded performance bonus with its detail payload.
type BonusAward struct {
	Type    string           `json:"type"`
	Points  int              `json:"points"`
	Details map[string]int64 `json:"details,omitempty"`
}

// RecordAward is one awarded record bonus. Points is what was credited by the
// scoring run; ActualPoints is what the bonus is worth once confirmed, so the
// confirm/reject workflow can apply the delta without re-deriving it.
type RecordAward struct {
	Type         RecordType   `json:"type"`
	Status       RecordStatus `json:"status"`
	Points       int          `json:"points"`
	ActualPoints int          `json:"actual_points"`
	ThresholdMs  int64        `json:"threshold_ms"`
}

// StandingsEntry is one row of the ranked standings view for a scored race.
type StandingsEntry struct {
	Rank        int    `json:"rank"`
	AthleteID   string `json:"athlete_id"`
	Gender      Gender `json:"gender"`
	TotalPoints int    `json:"total_points"`
	FinishTime  string `json:"finish_time,omitempty"`
}
