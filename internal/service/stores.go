package service

import (
	"context"

	"github.com/marathon-scoring/internal/domain"
	"github.com/marathon-scoring/internal/scoring"
)

// The service talks to its collaborators through narrow interfaces so
// scoring runs are unit-testable with in-memory fakes and carry no hidden
// global state.

// ResultStore is the results repository.
type ResultStore interface {
	// FetchResults loads every recorded result for a game+race. With
	// includeDNS true, confirmed-but-not-finished athletes come back as DNS
	// rows with a nil finish time.
	FetchResults(ctx context.Context, gameID, raceID string, includeDNS bool) ([]*domain.RaceResult, error)

	GetResult(ctx context.Context, resultID string) (*domain.RaceResult, error)

	// UpsertResult records or updates a raw timing row, keyed by
	// (game, race, athlete).
	UpsertResult(ctx context.Context, result *domain.RaceResult) (*domain.RaceResult, error)

	// PersistScored writes a scored batch. All score fields of a given
	// result update together or not at all.
	PersistScored(ctx context.Context, results []*domain.RaceResult) error

	// UpdateRecordStatus persists a record-bonus transition atomically.
	UpdateRecordStatus(ctx context.Context, result *domain.RaceResult) error

	DeleteResult(ctx context.Context, resultID string) error
}

// RuleStore is the versioned rules repository. Versions are immutable once
// created.
type RuleStore interface {
	// GetRules returns domain.ErrRulesVersionNotFound for unknown versions;
	// no default is ever substituted.
	GetRules(ctx context.Context, version string) (*domain.ScoringRules, error)
	CreateRules(ctx context.Context, rules *domain.ScoringRules) error
	ListRuleVersions(ctx context.Context) ([]string, error)
}

// RecordStore is the race-record repository.
type RecordStore interface {
	GetRecords(ctx context.Context, raceID string, gender domain.Gender) (map[domain.RecordType]domain.RaceRecord, error)
	UpsertRecord(ctx context.Context, record domain.RaceRecord) error
}

// AuditLog is the append-only sink for record status changes.
type AuditLog interface {
	LogRecordStatusChange(ctx context.Context, change domain.RecordStatusChange) error
	ListRecordAuditLog(ctx context.Context, resultID string) ([]domain.RecordStatusChange, error)
}

// StandingsCache caches the ranked standings view per scored race.
// GetStandings returns (nil, nil) on a cache miss.
type StandingsCache interface {
	ReplaceStandings(ctx context.Context, gameID, raceID string, entries []domain.StandingsEntry) error
	GetStandings(ctx context.Context, gameID, raceID string) ([]domain.StandingsEntry, error)
	InvalidateStandings(ctx context.Context, gameID, raceID string) error
}

// Notifier pushes scoring-run and record-status updates to subscribers.
type Notifier interface {
	NotifyScoringRun(report *ScoreReport)
	NotifyRecordStatusChange(gameID, raceID string, change domain.RecordStatusChange)
}

// ScoreRequest names one scoring run.
type ScoreRequest struct {
	GameID       string `json:"game_id"`
	RaceID       string `json:"race_id"`
	RulesVersion string `json:"rules_version"`

	// IncludeDNS switches on the richer load mode. Nil defers to the
	// configured default.
	IncludeDNS *bool `json:"include_dns,omitempty"`

	// DistanceMeters overrides the configured race distance.
	DistanceMeters int `json:"distance_meters,omitempty"`
}

// ScoreReport is what a scoring run hands back: enough to tell "fully
// scored N of M" apart from an abort.
type ScoreReport struct {
	GameID      string                `json:"game_id"`
	RaceID      string                `json:"race_id"`
	Version     string                `json:"version"`
	ScoredCount int                   `json:"scored_count"`
	TotalCount  int                   `json:"total_count"`
	Skipped     []scoring.Skip        `json:"skipped,omitempty"`
	Results     []*domain.RaceResult  `json:"results"`
}

// TimeSubmission is one raw timing row arriving from the feed or manual
// entry. Times are human-entered strings; they are normalized to canonical
// milliseconds here at the boundary, before anything reaches the engine.
type TimeSubmission struct {
	GameID     string            `json:"game_id"`
	RaceID     string            `json:"race_id"`
	AthleteID  string            `json:"athlete_id"`
	Gender     domain.Gender     `json:"gender"`
	FinishTime string            `json:"finish_time"`
	Splits     map[string]string `json:"splits,omitempty"`
}

// Split keys accepted in a TimeSubmission.
const (
	SplitKey5K         = "split_5k"
	SplitKey10K        = "split_10k"
	SplitKeyFirstHalf  = "first_half"
	SplitKeySecondHalf = "second_half"
	SplitKey30K        = "split_30k"
	SplitKeyLast5K     = "last_5k"
)
