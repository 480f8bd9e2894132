package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marathon-scoring/internal/config"
	"github.com/marathon-scoring/internal/postgres"
	"github.com/marathon-scoring/internal/redis"
	"github.com/marathon-scoring/internal/service"
)

// SyncWorker periodically rebuilds the cached standings views from the scored
// result rows in PostgreSQL. Scoring runs refresh the cache themselves; the
// worker repairs views lost to eviction, TTL expiry or a Redis restart.
type SyncWorker struct {
	cache    *redis.StandingsCache
	postgres *postgres.Repository
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	cache *redis.StandingsCache,
	postgres *postgres.Repository,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		cache:    cache,
		postgres: postgres,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll rebuilds the standings view for every scored race
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	races, err := w.postgres.ListScoredRaces(ctx)
	if err != nil {
		w.logger.Error("failed to list scored races for sync", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, race := range races {
		gameID, raceID := race[0], race[1]
		if err := w.SyncRace(ctx, gameID, raceID); err != nil {
			w.logger.Error("failed to sync standings",
				"game_id", gameID,
				"race_id", raceID,
				"error", err,
			)
			errorCount++
		} else {
			syncedCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("sync cycle completed",
		"duration", duration,
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// SyncRace rebuilds one race's standings view from PostgreSQL
func (w *SyncWorker) SyncRace(ctx context.Context, gameID, raceID string) error {
	w.logger.Debug("rebuilding standings view", "game_id", gameID, "race_id", raceID)

	results, err := w.postgres.FetchResults(ctx, gameID, raceID, true)
	if err != nil {
		return err
	}

	entries := service.BuildStandings(results)
	if len(entries) == 0 {
		w.logger.Debug("no scored rows for standings", "game_id", gameID, "race_id", raceID)
		return nil
	}

	if err := w.cache.ReplaceStandings(ctx, gameID, raceID, entries); err != nil {
		return err
	}

	w.logger.Debug("rebuilt standings view",
		"game_id", gameID,
		"race_id", raceID,
		"entry_count", len(entries),
	)

	return nil
}

// SyncAllOnStartup warms the cache for every scored race. Useful after a
// Redis restart so the first standings reads don't all fall through to
// PostgreSQL.
func (w *SyncWorker) SyncAllOnStartup(ctx context.Context) error {
	w.logger.Info("warming standings cache from database")

	races, err := w.postgres.ListScoredRaces(ctx)
	if err != nil {
		return err
	}

	for _, race := range races {
		if err := w.SyncRace(ctx, race[0], race[1]); err != nil {
			w.logger.Error("failed to warm standings view",
				"game_id", race[0],
				"race_id", race[1],
				"error", err,
			)
			// Continue with other races
		}
	}

	w.logger.Info("completed warming standings cache", "count", len(races))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
