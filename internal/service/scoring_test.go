package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/marathon-scoring/internal/config"
	"github.com/marathon-scoring/internal/domain"
	"github.com/marathon-scoring/internal/service"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeStores is an in-memory implementation of every service collaborator.
type fakeStores struct {
	results   map[string]*domain.RaceResult
	rules     map[string]*domain.ScoringRules
	records   map[string]map[domain.Gender]map[domain.RecordType]domain.RaceRecord
	audits    []domain.RecordStatusChange
	standings map[string][]domain.StandingsEntry

	runReports    []*service.ScoreReport
	recordChanges []domain.RecordStatusChange
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		results:   make(map[string]*domain.RaceResult),
		rules:     make(map[string]*domain.ScoringRules),
		records:   make(map[string]map[domain.Gender]map[domain.RecordType]domain.RaceRecord),
		standings: make(map[string][]domain.StandingsEntry),
	}
}

func isDNSSentinel(raw string) bool {
	switch raw {
	case "", "DNS", "dns", "DNF", "dnf":
		return true
	}
	return false
}

func (f *fakeStores) FetchResults(_ context.Context, gameID, raceID string, includeDNS bool) ([]*domain.RaceResult, error) {
	var out []*domain.RaceResult
	for _, r := range f.results {
		if r.GameID != gameID || r.RaceID != raceID {
			continue
		}
		if !includeDNS && r.FinishTimeMs == nil && isDNSSentinel(r.RawFinishTime) {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out, nil
}

func (f *fakeStores) GetResult(_ context.Context, resultID string) (*domain.RaceResult, error) {
	r, ok := f.results[resultID]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakeStores) UpsertResult(_ context.Context, result *domain.RaceResult) (*domain.RaceResult, error) {
	for _, existing := range f.results {
		if existing.GameID == result.GameID && existing.RaceID == result.RaceID && existing.AthleteID == result.AthleteID {
			result.ID = existing.ID
			break
		}
	}
	clone := *result
	f.results[result.ID] = &clone
	return result, nil
}

func (f *fakeStores) PersistScored(_ context.Context, results []*domain.RaceResult) error {
	for _, r := range results {
		clone := *r
		f.results[r.ID] = &clone
	}
	return nil
}

func (f *fakeStores) UpdateRecordStatus(_ context.Context, result *domain.RaceResult) error {
	if _, ok := f.results[result.ID]; !ok {
		return domain.ErrResultNotFound
	}
	clone := *result
	f.results[result.ID] = &clone
	return nil
}

func (f *fakeStores) DeleteResult(_ context.Context, resultID string) error {
	if _, ok := f.results[resultID]; !ok {
		return domain.ErrResultNotFound
	}
	delete(f.results, resultID)
	return nil
}

func (f *fakeStores) GetRules(_ context.Context, version string) (*domain.ScoringRules, error) {
	r, ok := f.rules[version]
	if !ok {
		return nil, domain.ErrRulesVersionNotFound
	}
	return r, nil
}

func (f *fakeStores) CreateRules(_ context.Context, rules *domain.ScoringRules) error {
	if _, ok := f.rules[rules.Version]; ok {
		return domain.ErrRulesVersionExists
	}
	f.rules[rules.Version] = rules
	return nil
}

func (f *fakeStores) ListRuleVersions(_ context.Context) ([]string, error) {
	var versions []string
	for v := range f.rules {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (f *fakeStores) GetRecords(_ context.Context, raceID string, gender domain.Gender) (map[domain.RecordType]domain.RaceRecord, error) {
	return f.records[raceID][gender], nil
}

func (f *fakeStores) UpsertRecord(_ context.Context, record domain.RaceRecord) error {
	if f.records[record.RaceID] == nil {
		f.records[record.RaceID] = make(map[domain.Gender]map[domain.RecordType]domain.RaceRecord)
	}
	if f.records[record.RaceID][record.Gender] == nil {
		f.records[record.RaceID][record.Gender] = make(map[domain.RecordType]domain.RaceRecord)
	}
	f.records[record.RaceID][record.Gender][record.Type] = record
	return nil
}

func (f *fakeStores) LogRecordStatusChange(_ context.Context, change domain.RecordStatusChange) error {
	f.audits = append(f.audits, change)
	return nil
}

func (f *fakeStores) ListRecordAuditLog(_ context.Context, resultID string) ([]domain.RecordStatusChange, error) {
	var out []domain.RecordStatusChange
	for i := len(f.audits) - 1; i >= 0; i-- {
		if f.audits[i].ResultID == resultID {
			out = append(out, f.audits[i])
		}
	}
	return out, nil
}

func (f *fakeStores) ReplaceStandings(_ context.Context, gameID, raceID string, entries []domain.StandingsEntry) error {
	f.standings[gameID+":"+raceID] = entries
	return nil
}

func (f *fakeStores) GetStandings(_ context.Context, gameID, raceID string) ([]domain.StandingsEntry, error) {
	return f.standings[gameID+":"+raceID], nil
}

func (f *fakeStores) InvalidateStandings(_ context.Context, gameID, raceID string) error {
	delete(f.standings, gameID+":"+raceID)
	return nil
}

func (f *fakeStores) NotifyScoringRun(report *service.ScoreReport) {
	f.runReports = append(f.runReports, report)
}

func (f *fakeStores) NotifyRecordStatusChange(_, _ string, change domain.RecordStatusChange) {
	f.recordChanges = append(f.recordChanges, change)
}

func msPtr(ms int64) *int64 { return &ms }

func seasonRules(version string) *domain.ScoringRules {
	return &domain.ScoringRules{
		Version:         version,
		PlacementPoints: []int{10, 8, 6},
		MaxScoredPlace:  3,
		GapWindows: []domain.GapWindow{
			{MaxGapSeconds: 60, Points: 25},
			{MaxGapSeconds: 300, Points: 15},
		},
		Bonuses: map[string]domain.BonusConfig{
			domain.BonusNegativeSplit: {Enabled: true, Points: 15},
		},
		RecordBonusPoints: map[domain.RecordType]int{
			domain.RecordWorld:  50,
			domain.RecordCourse: 30,
		},
		RecordRequiresConfirmation:     true,
		RecordProvisionalPointsPolicy:  "withhold",
		RecordBonusesMutuallyExclusive: true,
		RecordBonusPrecedence:          []domain.RecordType{domain.RecordWorld, domain.RecordCourse},
	}
}

func seedRace(f *fakeStores) {
	add := func(id, athlete string, gender domain.Gender, finishMs *int64, raw string) {
		f.results[id] = &domain.RaceResult{
			ID: id, GameID: "game-1", RaceID: "race-1",
			AthleteID: athlete, Gender: gender,
			FinishTimeMs: finishMs, RawFinishTime: raw,
			RecordType: domain.RecordNone,
		}
	}
	add("r1", "m-winner", domain.GenderMale, msPtr(7380000), "2:03:00") // breaks course record
	add("r2", "m-second", domain.GenderMale, msPtr(7410000), "2:03:30")
	add("r3", "w-winner", domain.GenderFemale, msPtr(8100000), "2:15:00")
	add("r4", "m-dns", domain.GenderMale, nil, "DNS")

	f.records["race-1"] = map[domain.Gender]map[domain.RecordType]domain.RaceRecord{
		domain.GenderMale: {
			domain.RecordWorld:  {RaceID: "race-1", Gender: domain.GenderMale, Type: domain.RecordWorld, TimeMs: 7200000},
			domain.RecordCourse: {RaceID: "race-1", Gender: domain.GenderMale, Type: domain.RecordCourse, TimeMs: 7400000},
		},
	}
}

func newTestService(f *fakeStores) *service.ScoringService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.ScoringConfig{DefaultDistanceMeters: 42195}
	svc := service.NewScoringService(f, f, f, f, f, cfg, logger)
	svc.SetNotifier(f)
	return svc
}

func TestScoreRace(t *testing.T) {
	ctx := context.Background()

	Convey("Given a seeded race and rules version", t, func() {
		f := newFakeStores()
		f.rules["v1"] = seasonRules("v1")
		seedRace(f)
		svc := newTestService(f)

		Convey("When scoring with the default load mode", func() {
			report, err := svc.ScoreRace(ctx, service.ScoreRequest{
				GameID: "game-1", RaceID: "race-1", RulesVersion: "v1",
			})
			So(err, ShouldBeNil)

			Convey("Then the report distinguishes scored from total", func() {
				So(report.Version, ShouldEqual, "v1")
				So(report.ScoredCount, ShouldEqual, 3)
				So(report.TotalCount, ShouldEqual, 3)
				So(report.Skipped, ShouldBeEmpty)
			})

			Convey("Then persisted rows are stamped and totaled", func() {
				winner, err := svc.GetResult(ctx, "r1")
				So(err, ShouldBeNil)
				So(winner.RulesVersion, ShouldEqual, "v1")
				So(*winner.Placement, ShouldEqual, 1)
				// 10 placement + 25 gap; record withheld pending confirmation
				So(winner.TotalPoints, ShouldEqual, 35)
				So(winner.RecordType, ShouldEqual, domain.RecordCourse)
				So(winner.RecordStatus, ShouldEqual, domain.RecordStatusProvisional)
				So(winner.Breakdown.RecordBonuses[0].ActualPoints, ShouldEqual, 30)
				So(winner.Breakdown.RecordBonuses[0].Points, ShouldEqual, 0)
			})

			Convey("Then the standings cache is rebuilt", func() {
				entries := f.standings["game-1:race-1"]
				So(entries, ShouldHaveLength, 3)
				So(entries[0].AthleteID, ShouldEqual, "m-winner")
				So(entries[0].Rank, ShouldEqual, 1)
			})

			Convey("Then the notifier saw the run", func() {
				So(f.runReports, ShouldHaveLength, 1)
			})
		})

		Convey("When scoring with DNS rows included", func() {
			includeDNS := true
			report, err := svc.ScoreRace(ctx, service.ScoreRequest{
				GameID: "game-1", RaceID: "race-1", RulesVersion: "v1",
				IncludeDNS: &includeDNS,
			})
			So(err, ShouldBeNil)
			So(report.TotalCount, ShouldEqual, 4)
			So(report.ScoredCount, ShouldEqual, 4)

			dns, err := svc.GetResult(ctx, "r4")
			So(err, ShouldBeNil)
			So(dns.Placement, ShouldBeNil)
			So(dns.TotalPoints, ShouldEqual, 0)
			So(dns.RulesVersion, ShouldEqual, "v1")
		})

		Convey("When re-scoring with unchanged inputs", func() {
			_, err := svc.ScoreRace(ctx, service.ScoreRequest{
				GameID: "game-1", RaceID: "race-1", RulesVersion: "v1",
			})
			So(err, ShouldBeNil)
			first, err := svc.GetResult(ctx, "r1")
			So(err, ShouldBeNil)
			firstJSON, err := json.Marshal(first.Breakdown)
			So(err, ShouldBeNil)

			_, err = svc.ScoreRace(ctx, service.ScoreRequest{
				GameID: "game-1", RaceID: "race-1", RulesVersion: "v1",
			})
			So(err, ShouldBeNil)
			second, err := svc.GetResult(ctx, "r1")
			So(err, ShouldBeNil)
			secondJSON, err := json.Marshal(second.Breakdown)
			So(err, ShouldBeNil)

			Convey("Then breakdowns are byte-identical", func() {
				So(string(secondJSON), ShouldEqual, string(firstJSON))
			})
		})

		Convey("When the rules version does not exist", func() {
			_, err := svc.ScoreRace(ctx, service.ScoreRequest{
				GameID: "game-1", RaceID: "race-1", RulesVersion: "v999",
			})

			Convey("Then the run aborts with no default substitution", func() {
				So(err, ShouldWrap, domain.ErrRulesVersionNotFound)
			})
		})

		Convey("When the race has no recorded results", func() {
			_, err := svc.ScoreRace(ctx, service.ScoreRequest{
				GameID: "game-1", RaceID: "race-empty", RulesVersion: "v1",
			})
			So(err, ShouldWrap, domain.ErrNoResults)
		})
	})
}

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scored race with a withheld provisional course record", t, func() {
		f := newFakeStores()
		f.rules["v1"] = seasonRules("v1")
		seedRace(f)
		svc := newTestService(f)

		_, err := svc.ScoreRace(ctx, service.ScoreRequest{
			GameID: "game-1", RaceID: "race-1", RulesVersion: "v1",
		})
		So(err, ShouldBeNil)

		Convey("When the commissioner confirms the record", func() {
			updated, err := svc.ConfirmRecord(ctx, "r1", domain.RecordCourse)
			So(err, ShouldBeNil)

			Convey("Then the held-back points land atomically", func() {
				So(updated.RecordBonusPoints, ShouldEqual, 30)
				So(updated.TotalPoints, ShouldEqual, 65)
				So(updated.RecordStatus, ShouldEqual, domain.RecordStatusConfirmed)

				persisted, err := svc.GetResult(ctx, "r1")
				So(err, ShouldBeNil)
				So(persisted.TotalPoints, ShouldEqual, 65)
			})

			Convey("Then the audit trail has the change", func() {
				So(f.audits, ShouldHaveLength, 1)
				So(f.audits[0].ResultID, ShouldEqual, "r1")
				So(f.audits[0].Before, ShouldEqual, domain.RecordStatusProvisional)
				So(f.audits[0].After, ShouldEqual, domain.RecordStatusConfirmed)
				So(f.audits[0].PointsDelta, ShouldEqual, 30)
				So(f.audits[0].ID, ShouldNotBeEmpty)
			})

			Convey("Then the standings cache was invalidated", func() {
				_, ok := f.standings["game-1:race-1"]
				So(ok, ShouldBeFalse)
			})

			Convey("Then the audit trail is readable through the service", func() {
				trail, err := svc.RecordAuditTrail(ctx, "r1")
				So(err, ShouldBeNil)
				So(trail, ShouldHaveLength, 1)
				So(trail[0].After, ShouldEqual, domain.RecordStatusConfirmed)
			})

			Convey("And a second transition is rejected without mutation", func() {
				_, err := svc.RejectRecord(ctx, "r1", domain.RecordCourse)
				So(domain.IsStateError(err), ShouldBeTrue)

				persisted, err2 := svc.GetResult(ctx, "r1")
				So(err2, ShouldBeNil)
				So(persisted.TotalPoints, ShouldEqual, 65)
			})
		})

		Convey("When the commissioner rejects the record", func() {
			updated, err := svc.RejectRecord(ctx, "r1", domain.RecordCourse)
			So(err, ShouldBeNil)

			Convey("Then the contribution is zeroed and the type reset", func() {
				So(updated.RecordBonusPoints, ShouldEqual, 0)
				So(updated.TotalPoints, ShouldEqual, 35)
				So(updated.RecordType, ShouldEqual, domain.RecordNone)
				So(f.audits[0].PointsDelta, ShouldEqual, 0) // nothing had been credited
			})
		})

		Convey("When transitioning a result with no record bonus", func() {
			_, err := svc.ConfirmRecord(ctx, "r2", domain.RecordCourse)
			So(domain.IsStateError(err), ShouldBeTrue)
		})

		Convey("When transitioning an unknown result", func() {
			_, err := svc.ConfirmRecord(ctx, "missing", domain.RecordCourse)
			So(err, ShouldWrap, domain.ErrResultNotFound)
		})
	})
}

func TestRecordTime(t *testing.T) {
	ctx := context.Background()

	Convey("Given the ingestion boundary", t, func() {
		f := newFakeStores()
		svc := newTestService(f)

		Convey("A valid submission is normalized and stored", func() {
			result, err := svc.RecordTime(ctx, service.TimeSubmission{
				GameID: "game-1", RaceID: "race-1", AthleteID: "a-1",
				Gender:     domain.GenderFemale,
				FinishTime: "2:15:30.5",
				Splits: map[string]string{
					service.SplitKeyFirstHalf:  "1:07:00",
					service.SplitKeySecondHalf: "1:08:30.5",
				},
			})
			So(err, ShouldBeNil)
			So(*result.FinishTimeMs, ShouldEqual, int64(8130500))
			So(*result.Splits.FirstHalfMs, ShouldEqual, int64(4020000))
			So(result.ID, ShouldNotBeEmpty)
		})

		Convey("A DNF submission stores a null time", func() {
			result, err := svc.RecordTime(ctx, service.TimeSubmission{
				GameID: "game-1", RaceID: "race-1", AthleteID: "a-2",
				Gender: domain.GenderMale, FinishTime: "DNF",
			})
			So(err, ShouldBeNil)
			So(result.FinishTimeMs, ShouldBeNil)
			So(result.RawFinishTime, ShouldEqual, "DNF")
		})

		Convey("Garbage time strings are rejected, never coerced to zero", func() {
			_, err := svc.RecordTime(ctx, service.TimeSubmission{
				GameID: "game-1", RaceID: "race-1", AthleteID: "a-3",
				Gender: domain.GenderMale, FinishTime: "about two hours",
			})
			So(domain.IsInputError(err), ShouldBeTrue)
		})

		Convey("Unknown split keys are rejected", func() {
			_, err := svc.RecordTime(ctx, service.TimeSubmission{
				GameID: "game-1", RaceID: "race-1", AthleteID: "a-4",
				Gender: domain.GenderMale, FinishTime: "2:10:00",
				Splits: map[string]string{"halfway": "1:05:00"},
			})
			So(domain.IsInputError(err), ShouldBeTrue)
		})

		Convey("Unknown gender cohorts are rejected", func() {
			_, err := svc.RecordTime(ctx, service.TimeSubmission{
				GameID: "game-1", RaceID: "race-1", AthleteID: "a-5",
				Gender: "other", FinishTime: "2:10:00",
			})
			So(domain.IsInputError(err), ShouldBeTrue)
		})
	})
}

func TestStandings(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scored race", t, func() {
		f := newFakeStores()
		f.rules["v1"] = seasonRules("v1")
		seedRace(f)
		svc := newTestService(f)

		_, err := svc.ScoreRace(ctx, service.ScoreRequest{
			GameID: "game-1", RaceID: "race-1", RulesVersion: "v1",
		})
		So(err, ShouldBeNil)

		Convey("Standings serve from the cache", func() {
			entries, err := svc.Standings(ctx, "game-1", "race-1")
			So(err, ShouldBeNil)
			So(entries[0].AthleteID, ShouldEqual, "m-winner")
			So(entries[0].FinishTime, ShouldEqual, "2:03:00")
		})

		Convey("A cache miss rebuilds from the repository", func() {
			So(f.InvalidateStandings(ctx, "game-1", "race-1"), ShouldBeNil)
			entries, err := svc.Standings(ctx, "game-1", "race-1")
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)
			So(f.standings["game-1:race-1"], ShouldHaveLength, 3)
		})
	})
}

func TestResetResult(t *testing.T) {
	ctx := context.Background()

	Convey("Given a stored result", t, func() {
		f := newFakeStores()
		f.rules["v1"] = seasonRules("v1")
		seedRace(f)
		svc := newTestService(f)

		Convey("Resetting deletes the row and invalidates standings", func() {
			f.standings["game-1:race-1"] = []domain.StandingsEntry{{AthleteID: "m-winner"}}
			So(svc.ResetResult(ctx, "r2"), ShouldBeNil)

			_, err := svc.GetResult(ctx, "r2")
			So(err, ShouldWrap, domain.ErrResultNotFound)
			_, ok := f.standings["game-1:race-1"]
			So(ok, ShouldBeFalse)
		})

		Convey("Resetting an unknown result fails", func() {
			So(svc.ResetResult(ctx, "missing"), ShouldWrap, domain.ErrResultNotFound)
		})
	})
}

func TestCreateRules(t *testing.T) {
	ctx := context.Background()

	Convey("Given the rules store", t, func() {
		f := newFakeStores()
		svc := newTestService(f)

		Convey("A valid version is stored once", func() {
			So(svc.CreateRules(ctx, seasonRules("v1")), ShouldBeNil)
			So(svc.CreateRules(ctx, seasonRules("v1")), ShouldWrap, domain.ErrRulesVersionExists)

			versions, err := svc.ListRuleVersions(ctx)
			So(err, ShouldBeNil)
			So(versions, ShouldResemble, []string{"v1"})
		})

		Convey("A malformed document is rejected before storage", func() {
			bad := seasonRules("v2")
			bad.GapWindows = []domain.GapWindow{
				{MaxGapSeconds: 300, Points: 15},
				{MaxGapSeconds: 60, Points: 25},
			}
			So(svc.CreateRules(ctx, bad), ShouldWrap, domain.ErrMalformedRules)
			_, err := svc.GetRules(ctx, "v2")
			So(err, ShouldWrap, domain.ErrRulesVersionNotFound)
		})
	})
}
