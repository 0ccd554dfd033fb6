// Package cache provides Redis-backed snapshot caching for threshold,
// regime, and risk state, with graceful degradation when Redis is down.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

// Key layouts for the cached snapshot types.
const (
	keyPairThreshold = "pair:%s:threshold"
	keyPairRegime    = "pair:%s:regime"
	keyUserRisk      = "user:%s:risk"
	patternUserRisk  = "user:*:risk"
)

// Snapshot TTLs. Risk state expires shortly after the daily boundary
// would have cleared it anyway.
const (
	ThresholdTTL = 8 * time.Hour
	RegimeTTL    = time.Hour
	RiskTTL      = 26 * time.Hour
)

// Service caches engine state snapshots in Redis. Reads and writes fail
// soft: when Redis is unreachable a health breaker opens and operations
// return errors the caller handles by hitting the primary store instead.
type Service struct {
	client *redis.Client
	cfg    config.RedisConfig
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewService connects to Redis. A failed initial connection returns the
// service in degraded mode rather than an error; the health check brings
// it back once Redis is reachable.
func NewService(cfg config.RedisConfig, logger *logging.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if logger == nil {
		logger = logging.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client:        client,
		cfg:           cfg,
		logger:        logger.WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("initial redis connection failed, running degraded", "error", err)
		return s, nil
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.logger.Info("redis connected", "address", cfg.Address)
	return s, nil
}

// IsHealthy reports whether Redis is currently usable.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			s.logger.Warn("redis marked unhealthy", "failures", s.failureCount)
		}
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		s.logger.Info("redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth probes Redis in the background once the check interval has
// passed while unhealthy.
func (s *Service) checkHealth() {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

func (s *Service) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.checkHealth()
	if !s.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

func (s *Service) getJSON(ctx context.Context, key string, dest interface{}) error {
	s.checkHealth()
	if !s.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return err
		}
		s.recordFailure()
		return fmt.Errorf("redis get failed: %w", err)
	}
	s.recordSuccess()
	return json.Unmarshal(data, dest)
}

// SetThresholdState caches a pair's threshold snapshot.
func (s *Service) SetThresholdState(ctx context.Context, state threshold.State) error {
	return s.setJSON(ctx, fmt.Sprintf(keyPairThreshold, state.Pair), state, ThresholdTTL)
}

// GetThresholdState reads a pair's cached threshold snapshot.
func (s *Service) GetThresholdState(ctx context.Context, pair string) (threshold.State, error) {
	var state threshold.State
	err := s.getJSON(ctx, fmt.Sprintf(keyPairThreshold, pair), &state)
	return state, err
}

// SetRegimeState caches a pair's regime snapshot.
func (s *Service) SetRegimeState(ctx context.Context, state *market.RegimeState) error {
	if state == nil {
		return nil
	}
	return s.setJSON(ctx, fmt.Sprintf(keyPairRegime, state.Pair), state, RegimeTTL)
}

// SetUserRiskState caches a user's risk snapshot.
func (s *Service) SetUserRiskState(ctx context.Context, state risk.UserState) error {
	return s.setJSON(ctx, fmt.Sprintf(keyUserRisk, state.UserID), state, RiskTTL)
}

// GetUserRiskState reads a user's cached risk snapshot.
func (s *Service) GetUserRiskState(ctx context.Context, userID string) (risk.UserState, error) {
	var state risk.UserState
	err := s.getJSON(ctx, fmt.Sprintf(keyUserRisk, userID), &state)
	return state, err
}

// InvalidateRiskStates drops every cached user risk snapshot, used after
// the daily reset.
func (s *Service) InvalidateRiskStates(ctx context.Context) error {
	s.checkHealth()
	if !s.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	iter := s.client.Scan(ctx, 0, patternUserRisk, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.recordFailure()
			return fmt.Errorf("redis delete failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis scan failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// Ping checks connectivity, updating breaker state.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.recordFailure()
		return err
	}
	s.recordSuccess()
	return nil
}

// Stats reports cache health for the monitoring endpoint.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
}

// GetStats returns current cache statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Healthy: s.healthy, FailureCount: s.failureCount, Address: s.cfg.Address}
}

// Close closes the Redis connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
