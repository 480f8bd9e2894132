package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marathon-scoring/internal/config"
	"github.com/marathon-scoring/internal/domain"
	"github.com/marathon-scoring/internal/scoring"
)

// ScoringService provides business logic for scoring races and managing the
// record bonus lifecycle.
type ScoringService struct {
	results  ResultStore
	rules    RuleStore
	records  RecordStore
	audit    AuditLog
	cache    StandingsCache
	notifier Notifier
	engine   *scoring.Engine
	config   *config.ScoringConfig
	logger   *slog.Logger
	locks    *raceLocks
}

// NewScoringService creates a new scoring service
func NewScoringService(
	results ResultStore,
	rules RuleStore,
	records RecordStore,
	audit AuditLog,
	cache StandingsCache,
	cfg *config.ScoringConfig,
	logger *slog.Logger,
) *ScoringService {
	return &ScoringService{
		results: results,
		rules:   rules,
		records: records,
		audit:   audit,
		cache:   cache,
		engine:  scoring.NewEngine(logger),
		config:  cfg,
		logger:  logger,
		locks:   newRaceLocks(),
	}
}

// SetNotifier attaches a notifier for scoring-run broadcasts.
func (s *ScoringService) SetNotifier(n Notifier) {
	s.notifier = n
}

// ScoreRace runs a full scoring pass for one game+race under the named rules
// version and persists the batch.
//
// Unknown rules versions, an empty result set and a batch with no finisher
// in either cohort are hard failures. Individual bad rows land on the skip
// list so one athlete never blocks the rest of the batch.
func (s *ScoringService) ScoreRace(ctx context.Context, req ScoreRequest) (*ScoreReport, error) {
	if req.GameID == "" || req.RaceID == "" || req.RulesVersion == "" {
		return nil, domain.ErrInvalidRequest
	}

	release := s.locks.acquire(req.GameID + ":" + req.RaceID)
	defer release()

	rules, err := s.rules.GetRules(ctx, req.RulesVersion)
	if err != nil {
		return nil, fmt.Errorf("loading rules version %q: %w", req.RulesVersion, err)
	}

	includeDNS := s.config.IncludeDNS
	if req.IncludeDNS != nil {
		includeDNS = *req.IncludeDNS
	}

	results, err := s.results.FetchResults(ctx, req.GameID, req.RaceID, includeDNS)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: game %s race %s", domain.ErrNoResults, req.GameID, req.RaceID)
	}

	records := make(map[domain.Gender]map[domain.RecordType]domain.RaceRecord, len(domain.Genders))
	for _, gender := range domain.Genders {
		recs, err := s.records.GetRecords(ctx, req.RaceID, gender)
		if err != nil {
			return nil, fmt.Errorf("loading %s records: %w", gender, err)
		}
		records[gender] = recs
	}

	distance := req.DistanceMeters
	if distance == 0 {
		distance = s.config.DefaultDistanceMeters
	}

	outcome, err := s.engine.ScoreBatch(rules, &scoring.Batch{
		GameID:         req.GameID,
		RaceID:         req.RaceID,
		DistanceMeters: distance,
		Results:        results,
		Records:        records,
	})
	if err != nil {
		return nil, err
	}

	if err := s.results.PersistScored(ctx, outcome.Scored); err != nil {
		return nil, fmt.Errorf("persisting scored results: %w", err)
	}

	if err := s.cache.ReplaceStandings(ctx, req.GameID, req.RaceID, BuildStandings(outcome.Scored)); err != nil {
		// The cache is rebuilt lazily on read and by the reconciler.
		s.logger.Warn("failed to refresh standings cache", "error", err)
	}

	report := &ScoreReport{
		GameID:      req.GameID,
		RaceID:      req.RaceID,
		Version:     rules.Version,
		ScoredCount: len(outcome.Scored),
		TotalCount:  len(results),
		Skipped:     outcome.Skipped,
		Results:     outcome.Scored,
	}

	s.logger.Info("race scored",
		"game_id", req.GameID,
		"race_id", req.RaceID,
		"rules_version", rules.Version,
		"scored", report.ScoredCount,
		"skipped", len(report.Skipped),
	)

	if s.notifier != nil {
		s.notifier.NotifyScoringRun(report)
	}

	return report, nil
}

// RecordTime ingests one raw timing row. Times are parsed here at the
// boundary; malformed input is an InputError for the single row.
func (s *ScoringService) RecordTime(ctx context.Context, sub TimeSubmission) (*domain.RaceResult, error) {
	if sub.GameID == "" || sub.RaceID == "" || sub.AthleteID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if sub.Gender != domain.GenderMale && sub.Gender != domain.GenderFemale {
		return nil, &domain.InputError{Field: "gender", Value: string(sub.Gender), Reason: "unknown gender cohort"}
	}

	finishMs, err := scoring.ParseClockTime(sub.FinishTime)
	if err != nil {
		return nil, err
	}

	splits, err := parseSplits(sub.Splits)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &domain.RaceResult{
		ID:            uuid.New().String(),
		GameID:        sub.GameID,
		RaceID:        sub.RaceID,
		AthleteID:     sub.AthleteID,
		Gender:        sub.Gender,
		FinishTimeMs:  finishMs,
		RawFinishTime: strings.TrimSpace(sub.FinishTime),
		Splits:        splits,
		RecordType:    domain.RecordNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stored, err := s.results.UpsertResult(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("upserting result: %w", err)
	}
	return stored, nil
}

// ConfirmRecord moves a provisional record bonus to confirmed, crediting the
// held-back points and appending the change to the audit trail.
func (s *ScoringService) ConfirmRecord(ctx context.Context, resultID string, recordType domain.RecordType) (*domain.RaceResult, error) {
	return s.transitionRecord(ctx, resultID, recordType, domain.RecordStatusConfirmed)
}

// RejectRecord moves a provisional record bonus to rejected, zeroing its
// contribution to the total.
func (s *ScoringService) RejectRecord(ctx context.Context, resultID string, recordType domain.RecordType) (*domain.RaceResult, error) {
	return s.transitionRecord(ctx, resultID, recordType, domain.RecordStatusRejected)
}

func (s *ScoringService) transitionRecord(ctx context.Context, resultID string, recordType domain.RecordType, to domain.RecordStatus) (*domain.RaceResult, error) {
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var updated domain.RaceResult
	var change domain.RecordStatusChange
	switch to {
	case domain.RecordStatusConfirmed:
		updated, change, err = result.ConfirmRecordBonus(recordType, now)
	case domain.RecordStatusRejected:
		updated, change, err = result.RejectRecordBonus(recordType, now)
	default:
		return nil, domain.ErrInvalidRequest
	}
	if err != nil {
		return nil, err
	}

	if err := s.results.UpdateRecordStatus(ctx, &updated); err != nil {
		return nil, fmt.Errorf("persisting record transition: %w", err)
	}

	change.ID = uuid.New().String()
	if err := s.audit.LogRecordStatusChange(ctx, change); err != nil {
		// Persisted state is authoritative; the audit row can be replayed.
		s.logger.Error("failed to append record audit event",
			"result_id", resultID,
			"record_type", recordType,
			"error", err,
		)
	}

	if err := s.cache.InvalidateStandings(ctx, updated.GameID, updated.RaceID); err != nil {
		s.logger.Warn("failed to invalidate standings cache", "error", err)
	}

	s.logger.Info("record bonus transitioned",
		"result_id", resultID,
		"record_type", recordType,
		"status", to,
		"points_delta", change.PointsDelta,
	)

	if s.notifier != nil {
		s.notifier.NotifyRecordStatusChange(updated.GameID, updated.RaceID, change)
	}

	return &updated, nil
}

// Standings returns the ranked standings for a scored race, serving from the
// cache when possible and rebuilding it from the repository on a miss.
func (s *ScoringService) Standings(ctx context.Context, gameID, raceID string) ([]domain.StandingsEntry, error) {
	entries, err := s.cache.GetStandings(ctx, gameID, raceID)
	if err != nil {
		s.logger.Warn("standings cache read failed, falling back to repository", "error", err)
	} else if entries != nil {
		return entries, nil
	}

	results, err := s.results.FetchResults(ctx, gameID, raceID, true)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}

	entries = BuildStandings(results)
	if err := s.cache.ReplaceStandings(ctx, gameID, raceID, entries); err != nil {
		s.logger.Warn("failed to repopulate standings cache", "error", err)
	}
	return entries, nil
}

// GetResult returns one result with its breakdown.
func (s *ScoringService) GetResult(ctx context.Context, resultID string) (*domain.RaceResult, error) {
	return s.results.GetResult(ctx, resultID)
}

// RecordAuditTrail returns the record transition history for one result,
// newest first.
func (s *ScoringService) RecordAuditTrail(ctx context.Context, resultID string) ([]domain.RecordStatusChange, error) {
	if _, err := s.results.GetResult(ctx, resultID); err != nil {
		return nil, err
	}
	return s.audit.ListRecordAuditLog(ctx, resultID)
}

// ResetResult removes a result row entirely. This is the only path that
// deletes a result.
func (s *ScoringService) ResetResult(ctx context.Context, resultID string) error {
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return err
	}
	if err := s.results.DeleteResult(ctx, resultID); err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	if err := s.cache.InvalidateStandings(ctx, result.GameID, result.RaceID); err != nil {
		s.logger.Warn("failed to invalidate standings cache", "error", err)
	}
	return nil
}

// CreateRules stores a new immutable rules version.
func (s *ScoringService) CreateRules(ctx context.Context, rules *domain.ScoringRules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	if rules.CreatedAt.IsZero() {
		rules.CreatedAt = time.Now().UTC()
	}
	return s.rules.CreateRules(ctx, rules)
}

// GetRules returns one rules version.
func (s *ScoringService) GetRules(ctx context.Context, version string) (*domain.ScoringRules, error) {
	return s.rules.GetRules(ctx, version)
}

// ListRuleVersions lists the stored rules versions.
func (s *ScoringService) ListRuleVersions(ctx context.Context) ([]string, error) {
	return s.rules.ListRuleVersions(ctx)
}

// UpsertRecord maintains a stored race record threshold (admin path).
func (s *ScoringService) UpsertRecord(ctx context.Context, record domain.RaceRecord) error {
	if record.Type != domain.RecordWorld && record.Type != domain.RecordCourse {
		return &domain.InputError{Field: "record_type", Value: string(record.Type), Reason: "must be WORLD or COURSE"}
	}
	return s.records.UpsertRecord(ctx, record)
}

// BuildStandings produces the ranked standings view from scored results,
// ordered by total points with finish time and athlete ID as deterministic
// tie-breaks.
func BuildStandings(results []*domain.RaceResult) []domain.StandingsEntry {
	ranked := make([]*domain.RaceResult, 0, len(results))
	for _, r := range results {
		if r.RulesVersion != "" {
			ranked = append(ranked, r)
		}
	}

	slices.SortFunc(ranked, func(a, b *domain.RaceResult) int {
		if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
			return c
		}
		af, bf := finishOrMax(a), finishOrMax(b)
		if c := cmp.Compare(af, bf); c != 0 {
			return c
		}
		return cmp.Compare(a.AthleteID, b.AthleteID)
	})

	entries := make([]domain.StandingsEntry, len(ranked))
	for i, r := range ranked {
		entry := domain.StandingsEntry{
			Rank:        i + 1,
			AthleteID:   r.AthleteID,
			Gender:      r.Gender,
			TotalPoints: r.TotalPoints,
		}
		if r.FinishTimeMs != nil {
			entry.FinishTime = scoring.FormatClockTime(*r.FinishTimeMs)
		}
		entries[i] = entry
	}
	return entries
}

func finishOrMax(r *domain.RaceResult) int64 {
	if r.FinishTimeMs == nil {
		return int64(^uint64(0) >> 1)
	}
	return *r.FinishTimeMs
}

// parseSplits normalizes the submitted split strings into canonical
// milliseconds. Unknown split keys are input errors so typos never silently
// drop a split.
func parseSplits(raw map[string]string) (domain.SplitTimes, error) {
	var splits domain.SplitTimes
	for key, value := range raw {
		ms, err := scoring.ParseClockTime(value)
		if err != nil {
			return domain.SplitTimes{}, err
		}
		switch key {
		case SplitKey5K:
			splits.Split5KMs = ms
		case SplitKey10K:
			splits.Split10KMs = ms
		case SplitKeyFirstHalf:
			splits.FirstHalfMs = ms
		case SplitKeySecondHalf:
			splits.SecondHalfMs = ms
		case SplitKey30K:
			splits.Split30KMs = ms
		case SplitKeyLast5K:
			splits.Last5KMs = ms
		default:
			return domain.SplitTimes{}, &domain.InputError{Field: "split", Value: key, Reason: "unknown split key"}
		}
	}
	return splits, nil
}
