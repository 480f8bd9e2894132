package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marathon-scoring/internal/config"
	"github.com/marathon-scoring/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scoring_rules (
			version VARCHAR(64) PRIMARY KEY,
			doc JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS race_results (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL,
			race_id VARCHAR(64) NOT NULL,
			athlete_id VARCHAR(64) NOT NULL,
			gender VARCHAR(10) NOT NULL,
			finish_time_ms BIGINT,
			raw_finish_time VARCHAR(64) DEFAULT '',
			splits JSONB,
			placement INT,
			placement_points INT DEFAULT 0,
			time_gap_seconds BIGINT,
			time_gap_points INT DEFAULT 0,
			performance_bonus_points INT DEFAULT 0,
			record_bonus_points INT DEFAULT 0,
			total_points INT DEFAULT 0,
			rules_version VARCHAR(64) DEFAULT '',
			breakdown JSONB,
			record_type VARCHAR(10) DEFAULT 'NONE',
			record_status VARCHAR(20) DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(game_id, race_id, athlete_id)
		)`,
		`CREATE TABLE IF NOT EXISTS race_records (
			race_id VARCHAR(64) NOT NULL,
			gender VARCHAR(10) NOT NULL,
			record_type VARCHAR(10) NOT NULL,
			time_ms BIGINT NOT NULL,
			holder VARCHAR(255) DEFAULT '',
			verified BOOLEAN DEFAULT FALSE,
			achieved_at TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(race_id, gender, record_type)
		)`,
		`CREATE TABLE IF NOT EXISTS record_audit_log (
			id VARCHAR(64) PRIMARY KEY,
			result_id VARCHAR(64) NOT NULL,
			record_type VARCHAR(10) NOT NULL,
			before_status VARCHAR(20) NOT NULL,
			after_status VARCHAR(20) NOT NULL,
			points_delta INT NOT NULL,
			occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_race_results_race ON race_results(game_id, race_id)`,
		`CREATE INDEX IF NOT EXISTS idx_race_results_points ON race_results(game_id, race_id, total_points DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_record_audit_result ON record_audit_log(result_id, occurred_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const resultColumns = `
	id, game_id, race_id, athlete_id, gender,
	finish_time_ms, raw_finish_time, splits,
	placement, placement_points, time_gap_seconds, time_gap_points,
	performance_bonus_points, record_bonus_points, total_points,
	rules_version, breakdown, record_type, record_status,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*domain.RaceResult, error) {
	var result domain.RaceResult
	var splitsJSON, breakdownJSON []byte
	err := row.Scan(
		&result.ID,
		&result.GameID,
		&result.RaceID,
		&result.AthleteID,
		&result.Gender,
		&result.FinishTimeMs,
		&result.RawFinishTime,
		&splitsJSON,
		&result.Placement,
		&result.PlacementPoints,
		&result.TimeGapSeconds,
		&result.TimeGapPoints,
		&result.PerformanceBonusPoints,
		&result.RecordBonusPoints,
		&result.TotalPoints,
		&result.RulesVersion,
		&breakdownJSON,
		&result.RecordType,
		&result.RecordStatus,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(splitsJSON) > 0 {
		if err := json.Unmarshal(splitsJSON, &result.Splits); err != nil {
			return nil, fmt.Errorf("unmarshaling splits: %w", err)
		}
	}
	if len(breakdownJSON) > 0 {
		var breakdown domain.Breakdown
		if err := json.Unmarshal(breakdownJSON, &breakdown); err != nil {
			return nil, fmt.Errorf("unmarshaling breakdown: %w", err)
		}
		result.Breakdown = &breakdown
	}
	return &result, nil
}

func marshalResultJSON(result *domain.RaceResult) (splitsJSON, breakdownJSON []byte, err error) {
	splitsJSON, err = json.Marshal(result.Splits)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling splits: %w", err)
	}
	if result.Breakdown != nil {
		breakdownJSON, err = json.Marshal(result.Breakdown)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling breakdown: %w", err)
		}
	}
	return splitsJSON, breakdownJSON, nil
}

// FetchResults retrieves the result rows for one game+race. When includeDNS is
// false, rows with no usable time at all (no parsed milliseconds and a blank
// or DNS/DNF raw string) are left out.
func (r *Repository) FetchResults(ctx context.Context, gameID, raceID string, includeDNS bool) ([]*domain.RaceResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM race_results
		WHERE game_id = $1 AND race_id = $2
		  AND ($3 OR finish_time_ms IS NOT NULL OR LOWER(raw_finish_time) NOT IN ('', 'dns', 'dnf'))
		ORDER BY athlete_id
	`
	rows, err := r.pool.Query(ctx, query, gameID, raceID, includeDNS)
	if err != nil {
		return nil, fmt.Errorf("fetching results: %w", err)
	}
	defer rows.Close()

	var results []*domain.RaceResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// GetResult retrieves one result row by ID
func (r *Repository) GetResult(ctx context.Context, resultID string) (*domain.RaceResult, error) {
	query := `SELECT ` + resultColumns + ` FROM race_results WHERE id = $1`
	result, err := scanResult(r.pool.QueryRow(ctx, query, resultID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrResultNotFound
		}
		return nil, fmt.Errorf("getting result: %w", err)
	}
	return result, nil
}

// UpsertResult inserts or replaces the raw timing fields for one athlete's
// row, keyed by (game, race, athlete). Scored fields are left untouched; the
// next scoring run recomputes them.
func (r *Repository) UpsertResult(ctx context.Context, result *domain.RaceResult) (*domain.RaceResult, error) {
	splitsJSON, _, err := marshalResultJSON(result)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO race_results (id, game_id, race_id, athlete_id, gender,
			finish_time_ms, raw_finish_time, splits, record_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (game_id, race_id, athlete_id)
		DO UPDATE SET
			gender = $5,
			finish_time_ms = $6,
			raw_finish_time = $7,
			splits = $8,
			updated_at = $10
		RETURNING ` + resultColumns
	now := time.Now()
	stored, err := scanResult(r.pool.QueryRow(ctx, query,
		result.ID,
		result.GameID,
		result.RaceID,
		result.AthleteID,
		string(result.Gender),
		result.FinishTimeMs,
		result.RawFinishTime,
		splitsJSON,
		string(result.RecordType),
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting result: %w", err)
	}
	return stored, nil
}

// PersistScored writes a full scoring pass back in one batch
func (r *Repository) PersistScored(ctx context.Context, results []*domain.RaceResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		UPDATE race_results SET
			finish_time_ms = $2,
			placement = $3,
			placement_points = $4,
			time_gap_seconds = $5,
			time_gap_points = $6,
			performance_bonus_points = $7,
			record_bonus_points = $8,
			total_points = $9,
			rules_version = $10,
			breakdown = $11,
			record_type = $12,
			record_status = $13,
			updated_at = $14
		WHERE id = $1
	`
	now := time.Now()

	for _, result := range results {
		_, breakdownJSON, err := marshalResultJSON(result)
		if err != nil {
			return err
		}
		batch.Queue(query,
			result.ID,
			result.FinishTimeMs,
			result.Placement,
			result.PlacementPoints,
			result.TimeGapSeconds,
			result.TimeGapPoints,
			result.PerformanceBonusPoints,
			result.RecordBonusPoints,
			result.TotalPoints,
			result.RulesVersion,
			breakdownJSON,
			string(result.RecordType),
			string(result.RecordStatus),
			now,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch persisting scored results: %w", err)
		}
	}
	return nil
}

// UpdateRecordStatus persists the point fields touched by a record bonus
// transition without rewriting the raw timing columns.
func (r *Repository) UpdateRecordStatus(ctx context.Context, result *domain.RaceResult) error {
	_, breakdownJSON, err := marshalResultJSON(result)
	if err != nil {
		return err
	}

	query := `
		UPDATE race_results SET
			record_bonus_points = $2,
			total_points = $3,
			breakdown = $4,
			record_type = $5,
			record_status = $6,
			updated_at = $7
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		result.ID,
		result.RecordBonusPoints,
		result.TotalPoints,
		breakdownJSON,
		string(result.RecordType),
		string(result.RecordStatus),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating record status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResultNotFound
	}
	return nil
}

// DeleteResult removes one result row
func (r *Repository) DeleteResult(ctx context.Context, resultID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM race_results WHERE id = $1`, resultID)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrResultNotFound
	}
	return nil
}

// GetRules retrieves one immutable rules version
func (r *Repository) GetRules(ctx context.Context, version string) (*domain.ScoringRules, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM scoring_rules WHERE version = $1`, version).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRulesVersionNotFound
		}
		return nil, fmt.Errorf("getting rules: %w", err)
	}

	var rules domain.ScoringRules
	if err := json.Unmarshal(doc, &rules); err != nil {
		return nil, fmt.Errorf("unmarshaling rules document: %w", err)
	}
	return &rules, nil
}

// CreateRules stores a new rules version. Versions are insert-only; writing
// an existing version is an error, never an overwrite.
func (r *Repository) CreateRules(ctx context.Context, rules *domain.ScoringRules) error {
	doc, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshaling rules document: %w", err)
	}

	query := `
		INSERT INTO scoring_rules (version, doc, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (version) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, rules.Version, doc, rules.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating rules: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRulesVersionExists, rules.Version)
	}
	return nil
}

// ListRuleVersions lists the stored rules versions, newest first
func (r *Repository) ListRuleVersions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM scoring_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing rule versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scanning rule version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// GetRecords retrieves the stored record thresholds for one race and cohort,
// keyed by record type
func (r *Repository) GetRecords(ctx context.Context, raceID string, gender domain.Gender) (map[domain.RecordType]domain.RaceRecord, error) {
	query := `
		SELECT race_id, gender, record_type, time_ms, holder, verified, achieved_at
		FROM race_records
		WHERE race_id = $1 AND gender = $2
	`
	rows, err := r.pool.Query(ctx, query, raceID, string(gender))
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}
	defer rows.Close()

	records := make(map[domain.RecordType]domain.RaceRecord)
	for rows.Next() {
		var record domain.RaceRecord
		var achievedAt *time.Time
		err := rows.Scan(
			&record.RaceID,
			&record.Gender,
			&record.Type,
			&record.TimeMs,
			&record.Holder,
			&record.Verified,
			&achievedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if achievedAt != nil {
			record.AchievedAt = *achievedAt
		}
		records[record.Type] = record
	}
	return records, nil
}

// UpsertRecord inserts or replaces one record threshold
func (r *Repository) UpsertRecord(ctx context.Context, record domain.RaceRecord) error {
	query := `
		INSERT INTO race_records (race_id, gender, record_type, time_ms, holder, verified, achieved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (race_id, gender, record_type)
		DO UPDATE SET time_ms = $4, holder = $5, verified = $6, achieved_at = $7, updated_at = $8
	`
	var achievedAt *time.Time
	if !record.AchievedAt.IsZero() {
		achievedAt = &record.AchievedAt
	}
	_, err := r.pool.Exec(ctx, query,
		record.RaceID,
		string(record.Gender),
		string(record.Type),
		record.TimeMs,
		record.Holder,
		record.Verified,
		achievedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting record: %w", err)
	}
	return nil
}

// LogRecordStatusChange appends one record transition to the audit log. The
// log is append-only; rows are never updated or deleted.
func (r *Repository) LogRecordStatusChange(ctx context.Context, change domain.RecordStatusChange) error {
	query := `
		INSERT INTO record_audit_log (id, result_id, record_type, before_status, after_status, points_delta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		change.ID,
		change.ResultID,
		string(change.RecordType),
		string(change.Before),
		string(change.After),
		change.PointsDelta,
		change.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("appending record audit event: %w", err)
	}
	return nil
}

// ListRecordAuditLog retrieves the transition history for one result, newest
// first
func (r *Repository) ListRecordAuditLog(ctx context.Context, resultID string) ([]domain.RecordStatusChange, error) {
	query := `
		SELECT id, result_id, record_type, before_status, after_status, points_delta, occurred_at
		FROM record_audit_log
		WHERE result_id = $1
		ORDER BY occurred_at DESC
	`
	rows, err := r.pool.Query(ctx, query, resultID)
	if err != nil {
		return nil, fmt.Errorf("listing record audit log: %w", err)
	}
	defer rows.Close()

	var changes []domain.RecordStatusChange
	for rows.Next() {
		var change domain.RecordStatusChange
		err := rows.Scan(
			&change.ID,
			&change.ResultID,
			&change.RecordType,
			&change.Before,
			&change.After,
			&change.PointsDelta,
			&change.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// ListScoredRaces returns the distinct (game, race) pairs that have at least
// one scored row, for the cache reconciler.
func (r *Repository) ListScoredRaces(ctx context.Context) ([][2]string, error) {
	query := `
		SELECT DISTINCT game_id, race_id
		FROM race_results
		WHERE rules_version <> ''
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing scored races: %w", err)
	}
	defer rows.Close()

	var races [][2]string
	for rows.Next() {
		var gameID, raceID string
		if err := rows.Scan(&gameID, &raceID); err != nil {
			return nil, fmt.Errorf("scanning scored race: %w", err)
		}
		races = append(races, [2]string{gameID, raceID})
	}
	return races, nil
}
