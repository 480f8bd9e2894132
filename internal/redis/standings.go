package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marathon-scoring/internal/config"
	"github.com/marathon-scoring/internal/domain"
	"github.com/redis/go-redis/v9"
)

// StandingsCache provides Redis-based caching of ranked standings views.
// PostgreSQL remains the source of truth; every cached view can be rebuilt
// from the scored result rows.
type StandingsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStandingsCache creates a new Redis standings cache
func NewStandingsCache(cfg *config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*StandingsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &StandingsCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *StandingsCache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client
func (c *StandingsCache) Client() *redis.Client {
	return c.client
}

// standingsKey returns the Redis key for a race's standings view
func (c *StandingsCache) standingsKey(gameID, raceID string) string {
	return fmt.Sprintf("standings:%s:%s", gameID, raceID)
}

// ReplaceStandings overwrites the cached standings view for one race
func (c *StandingsCache) ReplaceStandings(ctx context.Context, gameID, raceID string, entries []domain.StandingsEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling standings: %w", err)
	}

	key := c.standingsKey(gameID, raceID)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting standings: %w", err)
	}
	return nil
}

// GetStandings retrieves the cached standings view for one race. A cache miss
// returns (nil, nil) so callers can fall back to the repository.
func (c *StandingsCache) GetStandings(ctx context.Context, gameID, raceID string) ([]domain.StandingsEntry, error) {
	key := c.standingsKey(gameID, raceID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("getting standings: %w", err)
	}

	var entries []domain.StandingsEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("unmarshaling standings: %w", err)
	}
	return entries, nil
}

// InvalidateStandings drops the cached view for one race
func (c *StandingsCache) InvalidateStandings(ctx context.Context, gameID, raceID string) error {
	key := c.standingsKey(gameID, raceID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("invalidating standings: %w", err)
	}
	return nil
}
