package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"forex-signal-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("database")

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL", "database", cfg.Database)
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("running database migrations")

	migrations := []string{
		// Live threshold per pair, restored into the optimizer at startup.
		`CREATE TABLE IF NOT EXISTS threshold_states (
			pair VARCHAR(12) PRIMARY KEY,
			min_confidence DECIMAL(5, 2) NOT NULL,
			floor_confidence DECIMAL(5, 2) NOT NULL,
			ceiling_confidence DECIMAL(5, 2) NOT NULL,
			reasons TEXT[] NOT NULL DEFAULT '{}',
			last_adjusted_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		// Gate verdicts, one row per candidate signal.
		`CREATE TABLE IF NOT EXISTS signal_decisions (
			id BIGSERIAL PRIMARY KEY,
			signal_id UUID NOT NULL,
			pair VARCHAR(12) NOT NULL,
			accepted BOOLEAN NOT NULL,
			reason VARCHAR(32),
			confidence DECIMAL(5, 2) NOT NULL,
			threshold DECIMAL(5, 2) NOT NULL,
			evaluated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_decisions_pair ON signal_decisions(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_decisions_evaluated_at ON signal_decisions(evaluated_at)`,

		// Final per-user execution decisions.
		`CREATE TABLE IF NOT EXISTS authorizations (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			signal_id UUID NOT NULL,
			pair VARCHAR(12) NOT NULL,
			allowed BOOLEAN NOT NULL,
			reason VARCHAR(32),
			confidence DECIMAL(5, 2) NOT NULL,
			required_confidence DECIMAL(5, 2) NOT NULL,
			cooldown_until TIMESTAMPTZ,
			decided_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_authorizations_user ON authorizations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_authorizations_decided_at ON authorizations(decided_at)`,

		// Confirmed trade outcomes as reported by the execution side.
		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			pair VARCHAR(12) NOT NULL,
			result VARCHAR(8) NOT NULL,
			pnl_pct DECIMAL(10, 4) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_user ON trade_outcomes(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_pair ON trade_outcomes(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_recorded_at ON trade_outcomes(recorded_at)`,

		// Per-user risk posture, restored into the controller at startup.
		`CREATE TABLE IF NOT EXISTS user_risk_states (
			user_id VARCHAR(64) PRIMARY KEY,
			state VARCHAR(16) NOT NULL,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			daily_loss_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			cooldown_until TIMESTAMPTZ,
			escalated_min_confidence DECIMAL(5, 2),
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("database migrations completed")
	return nil
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
