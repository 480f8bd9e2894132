package scoring

import "github.com/marathon-scoring/internal/domain"

// GapSeconds is the whole-second gap between a finisher and their gender's
// winner, truncated toward zero.
func GapSeconds(finishMs, winnerMs int64) int64 {
	return (finishMs - winnerMs) / 1000
}

// GapPoints maps a gap onto the first window whose MaxGapSeconds covers it
// and reports which window matched. No matching window scores zero.
//
// The window list being ascending by MaxGapSeconds is an invariant of the
// stored rules document (checked once at rules creation), so a linear scan
// returning the first hit is correct here without re-validation.
func GapPoints(windows []domain.GapWindow, gapSeconds int64) (int, *int64) {
	for _, w := range windows {
		if w.MaxGapSeconds >= gapSeconds {
			matched := w.MaxGapSeconds
			return w.Points, &matched
		}
	}
	return 0, nil
}
