package domain

import (
	"fmt"
	"time"
)

// RecordType identifies which stored record(s) a finish time broke.
type RecordType string

const (
	RecordNone   RecordType = "NONE"
	RecordWorld  RecordType = "WORLD"
	RecordCourse RecordType = "COURSE"
	RecordBoth   RecordType = "BOTH"
)

// RecordStatus is the lifecycle state of a record bonus. Provisional may move
// to Confirmed or Rejected; both of those are terminal.
type RecordStatus string

const (
	RecordStatusNone        RecordStatus = ""
	RecordStatusProvisional RecordStatus = "provisional"
	RecordStatusConfirmed   RecordStatus = "confirmed"
	RecordStatusRejected    RecordStatus = "rejected"
)

// RaceRecord is a stored record threshold for one race, gender and record
// type. Read-only input to scoring; maintained by a separate admin process.
type RaceRecord struct {
	RaceID     string     `json:"race_id"`
	Gender     Gender     `json:"gender"`
	Type       RecordType `json:"type"`
	TimeMs     int64      `json:"time_ms"`
	Holder     string     `json:"holder,omitempty"`
	Verified   bool       `json:"verified"`
	AchievedAt time.Time  `json:"achieved_at,omitempty"`
}

// RecordStatusChange is the audit event emitted by a record bonus transition.
type RecordStatusChange struct {
	ID          string       `json:"id"`
	ResultID    string       `json:"result_id"`
	RecordType  RecordType   `json:"record_type"`
	Before      RecordStatus `json:"before"`
	After       RecordStatus `json:"after"`
	PointsDelta int          `json:"points_delta"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// ConfirmRecordBonus transitions the named provisional record bonus to
// confirmed, crediting the held-back points. It returns the updated result
// and the audit event; the receiver is not mutated.
func (r RaceResult) ConfirmRecordBonus(recordType RecordType, now time.Time) (RaceResult, RecordStatusChange, error) {
	return r.transitionRecordBonus(recordType, RecordStatusConfirmed, now)
}

// RejectRecordBonus transitions the named provisional record bonus to
// rejected, zeroing its contribution to the total.
func (r RaceResult) RejectRecordBonus(recordType RecordType, now time.Time) (RaceResult, RecordStatusChange, error) {
	return r.transitionRecordBonus(recordType, RecordStatusRejected, now)
}

func (r RaceResult) transitionRecordBonus(recordType RecordType, to RecordStatus, now time.Time) (RaceResult, RecordStatusChange, error) {
	if r.Breakdown == nil || len(r.Breakdown.RecordBonuses) == 0 {
		return r, RecordStatusChange{}, &StateError{
			Op:     string(to),
			Reason: "result has no record bonus",
		}
	}

	updated := r
	updated.Breakdown = r.Breakdown.clone()

	idx := -1
	for i, award := range updated.Breakdown.RecordBonuses {
		if award.Type == recordType {
			idx = i
			break
		}
	}
	if idx < 0 {
		return r, RecordStatusChange{}, &StateError{
			Op:     string(to),
			Reason: fmt.Sprintf("no %s record bonus on result", recordType),
		}
	}

	award := &updated.Breakdown.RecordBonuses[idx]
	if award.Status != RecordStatusProvisional {
		return r, RecordStatusChange{}, &StateError{
			Op:     string(to),
			From:   award.Status,
			Reason: "record bonus is not provisional",
		}
	}

	var delta int
	switch to {
	case RecordStatusConfirmed:
		delta = award.ActualPoints - award.Points
		award.Points = award.ActualPoints
	case RecordStatusRejected:
		delta = -award.Points
		award.Points = 0
	default:
		return r, RecordStatusChange{}, &StateError{Op: string(to), Reason: "unknown target status"}
	}
	award.Status = to

	updated.RecordBonusPoints += delta
	updated.TotalPoints += delta
	updated.Breakdown.TotalPoints += delta
	updated.RecordType = updated.Breakdown.remainingRecordType()
	updated.RecordStatus = updated.Breakdown.overallRecordStatus()
	updated.UpdatedAt = now

	change := RecordStatusChange{
		ResultID:    r.ID,
		RecordType:  recordType,
		Before:      RecordStatusProvisional,
		After:       to,
		PointsDelta: delta,
		OccurredAt:  now,
	}
	return updated, change, nil
}

func (b *Breakdown) clone() *Breakdown {
	out := *b
	out.PerformanceBonuses = append([]BonusAward(nil), b.PerformanceBonuses...)
	out.RecordBonuses = append([]RecordAward(nil), b.RecordBonuses...)
	return &out
}

// remainingRecordType derives the result-level record type from the awards
// that were not rejected. A rejected bonus no longer counts as a break.
func (b *Breakdown) remainingRecordType() RecordType {
	world, course := false, false
	for _, award := range b.RecordBonuses {
		if award.Status == RecordStatusRejected {
			continue
		}
		switch award.Type {
		case RecordWorld:
			world = true
		case RecordCourse:
			course = true
		}
	}
	switch {
	case world && course:
		return RecordBoth
	case world:
		return RecordWorld
	case course:
		return RecordCourse
	default:
		return RecordNone
	}
}

// overallRecordStatus is provisional while any award is still provisional,
// otherwise the status of the surviving award(s).
func (b *Breakdown) overallRecordStatus() RecordStatus {
	confirmed := false
	for _, award := range b.RecordBonuses {
		switch award.Status {
		case RecordStatusProvisional:
			return RecordStatusProvisional
		case RecordStatusConfirmed:
			confirmed = true
		}
	}
	if confirmed {
		return RecordStatusConfirmed
	}
	if len(b.RecordBonuses) > 0 {
		return RecordStatusRejected
	}
	return RecordStatusNone
}
