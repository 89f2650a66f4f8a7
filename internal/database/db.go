package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	PoolSize int
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	maxConns := int32(cfg.PoolSize)
	if maxConns <= 0 {
		maxConns = 25
	}
	poolConfig.MaxConns = maxConns
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

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The partial unique indexes on trades and trading_signals use
// this as the race arbiter: the losing insert sees 23505 and treats it as
// a rejection, not an error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Accounts: one row per MT5 terminal account, created on first
		// connect. API keys are stored hashed.
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			account_number BIGINT NOT NULL UNIQUE,
			api_key_hash TEXT NOT NULL UNIQUE,
			broker VARCHAR(100) NOT NULL DEFAULT '',
			platform VARCHAR(20) NOT NULL DEFAULT 'MT5',
			currency VARCHAR(10) NOT NULL DEFAULT 'EUR',
			balance DECIMAL(20, 2) NOT NULL DEFAULT 0,
			equity DECIMAL(20, 2) NOT NULL DEFAULT 0,
			margin DECIMAL(20, 2) NOT NULL DEFAULT 0,
			free_margin DECIMAL(20, 2) NOT NULL DEFAULT 0,
			profit_today DECIMAL(20, 2) NOT NULL DEFAULT 0,
			profit_week DECIMAL(20, 2) NOT NULL DEFAULT 0,
			profit_month DECIMAL(20, 2) NOT NULL DEFAULT 0,
			profit_year DECIMAL(20, 2) NOT NULL DEFAULT 0,
			last_heartbeat TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Broker symbol specs are global, not per-account.
		`CREATE TABLE IF NOT EXISTS broker_symbols (
			symbol VARCHAR(20) PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			volume_min DECIMAL(10, 4) NOT NULL DEFAULT 0.01,
			volume_max DECIMAL(10, 2) NOT NULL DEFAULT 100,
			volume_step DECIMAL(10, 4) NOT NULL DEFAULT 0.01,
			stops_level INTEGER NOT NULL DEFAULT 0,
			freeze_level INTEGER NOT NULL DEFAULT 0,
			digits INTEGER NOT NULL DEFAULT 5,
			point DECIMAL(15, 8) NOT NULL DEFAULT 0.00001,
			trade_mode VARCHAR(30) NOT NULL DEFAULT 'full',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS subscribed_symbols (
			id BIGSERIAL PRIMARY KEY,
			account_number BIGINT NOT NULL REFERENCES accounts(account_number),
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL DEFAULT 'H1',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (account_number, symbol)
		)`,

		// Ticks are global; timestamps are UTC after ingress conversion.
		`CREATE TABLE IF NOT EXISTS ticks (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			bid DECIMAL(20, 8) NOT NULL,
			ask DECIMAL(20, 8) NOT NULL,
			spread DECIMAL(20, 8) NOT NULL DEFAULT 0,
			volume BIGINT NOT NULL DEFAULT 0,
			tick_time TIMESTAMPTZ NOT NULL,
			UNIQUE (symbol, tick_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol_time ON ticks(symbol, tick_time DESC)`,

		`CREATE TABLE IF NOT EXISTS ohlc_candles (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume BIGINT NOT NULL DEFAULT 0,
			candle_time TIMESTAMPTZ NOT NULL,
			UNIQUE (symbol, timeframe, candle_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlc_symbol_tf_time ON ohlc_candles(symbol, timeframe, candle_time DESC)`,

		`CREATE TABLE IF NOT EXISTS trading_signals (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			signal_type VARCHAR(5) NOT NULL,
			confidence DECIMAL(5, 2) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			stop_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			take_profit DECIMAL(20, 8) NOT NULL DEFAULT 0,
			indicator_snapshot JSONB,
			patterns JSONB,
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		// One active signal per (symbol, timeframe). The generator expires
		// older actives first; this index catches the race.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_one_active
			ON trading_signals(symbol, timeframe) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON trading_signals(status)`,

		`CREATE TABLE IF NOT EXISTS commands (
			id UUID PRIMARY KEY,
			account_number BIGINT NOT NULL REFERENCES accounts(account_number),
			command_type VARCHAR(30) NOT NULL,
			payload JSONB NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			response JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			executed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_account_status ON commands(account_number, status)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_created ON commands(created_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			account_number BIGINT NOT NULL REFERENCES accounts(account_number),
			ticket BIGINT NOT NULL UNIQUE,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			volume DECIMAL(10, 4) NOT NULL,
			open_price DECIMAL(20, 8) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			close_price DECIMAL(20, 8),
			close_time TIMESTAMPTZ,
			stop_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			take_profit DECIMAL(20, 8) NOT NULL DEFAULT 0,
			initial_sl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			initial_tp DECIMAL(20, 8) NOT NULL DEFAULT 0,
			profit DECIMAL(20, 2) NOT NULL DEFAULT 0,
			commission DECIMAL(20, 2) NOT NULL DEFAULT 0,
			swap DECIMAL(20, 2) NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			source VARCHAR(20) NOT NULL DEFAULT 'mt5_manual',
			command_id UUID,
			signal_id BIGINT,
			entry_confidence DECIMAL(5, 2),
			timeframe VARCHAR(5),
			close_reason VARCHAR(20),
			mfe DECIMAL(20, 2) NOT NULL DEFAULT 0,
			mae DECIMAL(20, 2) NOT NULL DEFAULT 0,
			trailing_stop_active BOOLEAN NOT NULL DEFAULT FALSE,
			trailing_stop_moves INTEGER NOT NULL DEFAULT 0,
			entry_bid DECIMAL(20, 8),
			entry_ask DECIMAL(20, 8),
			entry_spread DECIMAL(20, 8),
			session VARCHAR(10),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// One open trade per (account, symbol). The duplicate insert is the
		// atomic check; no application mutex on top.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_one_open
			ON trades(account_number, symbol) WHERE status = 'open'`,
		`CREATE INDEX IF NOT EXISTS idx_trades_account_status ON trades(account_number, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time)`,

		`CREATE TABLE IF NOT EXISTS trade_history_events (
			id BIGSERIAL PRIMARY KEY,
			trade_id BIGINT NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
			event_type VARCHAR(20) NOT NULL,
			old_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			new_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			source VARCHAR(30) NOT NULL DEFAULT '',
			price_at_change DECIMAL(20, 8) NOT NULL DEFAULT 0,
			spread_at_change DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_trade ON trade_history_events(trade_id)`,

		`CREATE TABLE IF NOT EXISTS symbol_trading_configs (
			id BIGSERIAL PRIMARY KEY,
			account_number BIGINT NOT NULL REFERENCES accounts(account_number),
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4),
			min_confidence_threshold DECIMAL(5, 2) NOT NULL DEFAULT 50,
			risk_multiplier DECIMAL(4, 2) NOT NULL DEFAULT 1.0,
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			rolling_winrate DECIMAL(5, 2) NOT NULL DEFAULT 0,
			rolling_profit DECIMAL(20, 2) NOT NULL DEFAULT 0,
			consecutive_wins INTEGER NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			trades_counted INTEGER NOT NULL DEFAULT 0,
			winrate_trending DECIMAL(5, 2) NOT NULL DEFAULT 0,
			winrate_ranging DECIMAL(5, 2) NOT NULL DEFAULT 0,
			trending_trades INTEGER NOT NULL DEFAULT 0,
			ranging_trades INTEGER NOT NULL DEFAULT 0,
			preferred_regime VARCHAR(10),
			pause_reason TEXT,
			paused_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (account_number, symbol)
		)`,

		// Indicator scores are global, never keyed by account.
		`CREATE TABLE IF NOT EXISTS indicator_scores (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			indicator_name VARCHAR(30) NOT NULL,
			win_rate DECIMAL(5, 2) NOT NULL DEFAULT 50,
			profit_factor DECIMAL(10, 4) NOT NULL DEFAULT 1,
			total_signals INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (symbol, timeframe, indicator_name)
		)`,

		`CREATE TABLE IF NOT EXISTS protection_states (
			account_number BIGINT PRIMARY KEY REFERENCES accounts(account_number),
			protection_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			max_daily_loss_percent DECIMAL(5, 2) NOT NULL DEFAULT 2.0,
			max_daily_loss_eur DECIMAL(20, 2) NOT NULL DEFAULT 0,
			max_total_drawdown_percent DECIMAL(5, 2) NOT NULL DEFAULT 20.0,
			pause_after_consecutive_losses INTEGER NOT NULL DEFAULT 3,
			circuit_breaker_tripped BOOLEAN NOT NULL DEFAULT FALSE,
			tracking_date DATE NOT NULL DEFAULT CURRENT_DATE,
			daily_pnl DECIMAL(20, 2) NOT NULL DEFAULT 0,
			limit_reached BOOLEAN NOT NULL DEFAULT FALSE,
			auto_trading_disabled_at TIMESTAMPTZ,
			initial_balance DECIMAL(20, 2) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS ai_decision_logs (
			id BIGSERIAL PRIMARY KEY,
			account_number BIGINT NOT NULL DEFAULT 0,
			decision_type VARCHAR(30) NOT NULL,
			decision VARCHAR(10) NOT NULL,
			symbol VARCHAR(20) NOT NULL DEFAULT '',
			timeframe VARCHAR(5),
			primary_reason TEXT NOT NULL DEFAULT '',
			detailed_reasoning JSONB,
			impact_level VARCHAR(10) NOT NULL DEFAULT 'LOW',
			confidence_score DECIMAL(5, 2),
			risk_score DECIMAL(5, 2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_created ON ai_decision_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_symbol ON ai_decision_logs(symbol, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			account_number BIGINT NOT NULL REFERENCES accounts(account_number),
			ticket BIGINT NOT NULL UNIQUE,
			amount DECIMAL(20, 2) NOT NULL,
			tx_type VARCHAR(20) NOT NULL DEFAULT 'balance',
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	log.Println("Database migrations completed")
	return nil
}
