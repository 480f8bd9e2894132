package domain

import (
	"fmt"
	"time"
)

// Performance bonus type names as they appear in rules documents and
// breakdowns.
const (
	BonusNegativeSplit = "negative_split"
	BonusEvenPace      = "even_pace"
	BonusFastFinish    = "fast_finish"
)

// Record provisional award policies.
const (
	// ProvisionalPolicyAward credits provisional record points immediately;
	// any other value withholds them until confirmation.
	ProvisionalPolicyAward = "provisional"
)

// GapWindow maps a time gap to the winner onto a points value. Windows are
// stored ascending by MaxGapSeconds; the first window whose MaxGapSeconds is
// >= the athlete's gap applies.
type GapWindow struct {
	MaxGapSeconds int64 `json:"max_gap_seconds"`
	Points        int   `json:"points"`
}

// BonusConfig is the configuration of one named performance bonus.
// ToleranceRatio applies to even_pace, PaceImprovementRatio to fast_finish.
type BonusConfig struct {
	Enabled              bool    `json:"enabled"`
	Points               int     `json:"points"`
	ToleranceRatio       float64 `json:"tolerance_ratio,omitempty"`
	PaceImprovementRatio float64 `json:"pace_improvement_ratio,omitempty"`
}

// ScoringRules is one immutable, versioned rules configuration. A result is
// always stamped with the version used to score it; re-scoring with a new
// version never mutates old versions.
type ScoringRules struct {
	Version string `json:"version"`

	// PlacementPoints is indexed by place-1; MaxScoredPlace cuts off scoring
	// below that place regardless of the table length.
	PlacementPoints []int `json:"placement_points"`
	MaxScoredPlace  int   `json:"max_scored_place"`

	// GapWindows must be ascending by MaxGapSeconds. Validated once at
	// creation, not re-checked during scoring.
	GapWindows []GapWindow `json:"gap_windows"`

	Bonuses         map[string]BonusConfig `json:"bonuses"`
	BonusExclusions map[string][]string    `json:"bonus_exclusions,omitempty"`

	RecordBonusPoints              map[RecordType]int `json:"record_bonus_points"`
	RecordRequiresConfirmation     bool               `json:"record_requires_confirmation"`
	RecordProvisionalPointsPolicy  string             `json:"record_provisional_points_policy,omitempty"`
	RecordBonusesMutuallyExclusive bool               `json:"record_bonuses_mutually_exclusive"`
	RecordBonusPrecedence          []RecordType       `json:"record_bonus_precedence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the structural invariants of a rules document. Malformed
// tables are configuration errors and abort the whole scoring run.
func (r *ScoringRules) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("%w: empty version", ErrMalformedRules)
	}
	if r.MaxScoredPlace < 0 {
		return fmt.Errorf("%w: negative max_scored_place", ErrMalformedRules)
	}
	for i := 1; i < len(r.GapWindows); i++ {
		if r.GapWindows[i].MaxGapSeconds <= r.GapWindows[i-1].MaxGapSeconds {
			return fmt.Errorf("%w: gap_windows not ascending at index %d", ErrMalformedRules, i)
		}
	}
	for _, t := range r.RecordBonusPrecedence {
		if t != RecordWorld && t != RecordCourse {
			return fmt.Errorf("%w: unknown record type %q in precedence", ErrMalformedRules, t)
		}
	}
	for t := range r.RecordBonusPoints {
		if t != RecordWorld && t != RecordCourse {
			return fmt.Errorf("%w: unknown record type %q in bonus points", ErrMalformedRules, t)
		}
	}
	return nil
}

// PlacementPointsFor returns the points for a 1-based place, honoring the
// MaxScoredPlace cutoff. Places beyond the table or the cutoff score zero.
func (r *ScoringRules) PlacementPointsFor(place int) int {
	if place < 1 || place > r.MaxScoredPlace || place > len(r.PlacementPoints) {
		return 0
	}
	return r.PlacementPoints[place-1]
}
