package database

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Sentinel errors surfaced to handlers and workers.
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateOpenTrade = errors.New("open trade already exists for symbol")
	ErrDuplicateSignal    = errors.New("active signal already exists")
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// ACCOUNTS
// ============================================================================

const apiKeyBytes = 24 // hex-encoded to 48 characters

// GenerateAPIKey returns a new 48-character opaque API key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashAPIKey hashes an API key for at-rest storage. Keys are high-entropy
// random tokens, so a single unsalted SHA-256 is the appropriate
// construction (unlike passwords).
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ConnectAccount registers a terminal account, idempotent on account
// number. On first connect it creates the account and stores the hashed
// key; the caller provides the freshly generated plaintext. Returns
// (account, isNew). On repeat connects the stored account is returned
// unchanged and apiKeyHash is ignored.
func (r *Repository) ConnectAccount(ctx context.Context, accountNumber int64, broker, platform, apiKeyHash string) (*Account, bool, error) {
	// Atomic: the account_number unique constraint arbitrates concurrent
	// first connects; ON CONFLICT DO NOTHING + re-select keeps this
	// idempotent.
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO accounts (account_number, api_key_hash, broker, platform)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_number) DO NOTHING
	`, accountNumber, apiKeyHash, broker, platform)
	if err != nil {
		return nil, false, fmt.Errorf("connect account %d: %w", accountNumber, err)
	}

	acct, err := r.GetAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, false, err
	}
	return acct, tag.RowsAffected() == 1, nil
}

const accountColumns = `id, account_number, api_key_hash, broker, platform, currency,
	balance, equity, margin, free_margin, profit_today, profit_week, profit_month, profit_year,
	last_heartbeat, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.ID, &a.AccountNumber, &a.APIKeyHash, &a.Broker, &a.Platform, &a.Currency,
		&a.Balance, &a.Equity, &a.Margin, &a.FreeMargin,
		&a.ProfitToday, &a.ProfitWeek, &a.ProfitMonth, &a.ProfitYear,
		&a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetAccountByNumber retrieves an account by its MT5 account number
func (r *Repository) GetAccountByNumber(ctx context.Context, accountNumber int64) (*Account, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber)
	return scanAccount(row)
}

// GetAccountByAPIKeyHash retrieves the account bound to a hashed API key
func (r *Repository) GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE api_key_hash = $1`, hash)
	return scanAccount(row)
}

// ListAccounts returns all registered accounts
func (r *Repository) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY account_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateHeartbeat records a heartbeat and the account metrics it carried
func (r *Repository) UpdateHeartbeat(ctx context.Context, accountNumber int64, balance, equity, margin, freeMargin float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, equity = $3, margin = $4, free_margin = $5,
		    last_heartbeat = NOW(), updated_at = NOW()
		WHERE account_number = $1
	`, accountNumber, balance, equity, margin, freeMargin)
	return err
}

// UpdateAccountMetrics updates the account-level numbers carried on a tick
// batch (balance/equity/margin plus rolling profit figures).
func (r *Repository) UpdateAccountMetrics(ctx context.Context, accountNumber int64, balance, equity, margin, freeMargin, profitToday, profitWeek, profitMonth, profitYear float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, equity = $3, margin = $4, free_margin = $5,
		    profit_today = $6, profit_week = $7, profit_month = $8, profit_year = $9,
		    updated_at = NOW()
		WHERE account_number = $1
	`, accountNumber, balance, equity, margin, freeMargin, profitToday, profitWeek, profitMonth, profitYear)
	return err
}

// ============================================================================
// SUBSCRIBED SYMBOLS
// ============================================================================

// SubscribeSymbol adds a symbol to the account's subscription list,
// idempotent per symbol
func (r *Repository) SubscribeSymbol(ctx context.Context, accountNumber int64, symbol, timeframe string) error {
	if timeframe == "" {
		timeframe = "H1"
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO subscribed_symbols (account_number, symbol, timeframe)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_number, symbol) DO UPDATE SET timeframe = EXCLUDED.timeframe
	`, accountNumber, symbol, timeframe)
	return err
}

// GetSubscribedSymbols returns the subscription list for an account
func (r *Repository) GetSubscribedSymbols(ctx context.Context, accountNumber int64) ([]*SubscribedSymbol, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, account_number, symbol, timeframe, created_at
		FROM subscribed_symbols WHERE account_number = $1 ORDER BY symbol
	`, accountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*SubscribedSymbol
	for rows.Next() {
		s := &SubscribedSymbol{}
		if err := rows.Scan(&s.ID, &s.AccountNumber, &s.Symbol, &s.Timeframe, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// GetAllSubscriptions returns every (account, symbol, timeframe) pair,
// used by the signal generator scheduler.
func (r *Repository) GetAllSubscriptions(ctx context.Context) ([]*SubscribedSymbol, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, account_number, symbol, timeframe, created_at
		FROM subscribed_symbols ORDER BY symbol, timeframe
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*SubscribedSymbol
	for rows.Next() {
		s := &SubscribedSymbol{}
		if err := rows.Scan(&s.ID, &s.AccountNumber, &s.Symbol, &s.Timeframe, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ============================================================================
// BROKER SYMBOLS
// ============================================================================

// UpsertBrokerSymbol stores broker-reported symbol properties
func (r *Repository) UpsertBrokerSymbol(ctx context.Context, s *BrokerSymbol) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO broker_symbols (symbol, description, volume_min, volume_max, volume_step,
			stops_level, freeze_level, digits, point, trade_mode, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			description = EXCLUDED.description,
			volume_min = EXCLUDED.volume_min,
			volume_max = EXCLUDED.volume_max,
			volume_step = EXCLUDED.volume_step,
			stops_level = EXCLUDED.stops_level,
			freeze_level = EXCLUDED.freeze_level,
			digits = EXCLUDED.digits,
			point = EXCLUDED.point,
			trade_mode = EXCLUDED.trade_mode,
			updated_at = NOW()
	`, s.Symbol, s.Description, s.VolumeMin, s.VolumeMax, s.VolumeStep,
		s.StopsLevel, s.FreezeLevel, s.Digits, s.Point, s.TradeMode)
	return err
}

// GetBrokerSymbol retrieves symbol properties
func (r *Repository) GetBrokerSymbol(ctx context.Context, symbol string) (*BrokerSymbol, error) {
	s := &BrokerSymbol{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT symbol, description, volume_min, volume_max, volume_step,
			stops_level, freeze_level, digits, point, trade_mode, updated_at
		FROM broker_symbols WHERE symbol = $1
	`, symbol).Scan(&s.Symbol, &s.Description, &s.VolumeMin, &s.VolumeMax, &s.VolumeStep,
		&s.StopsLevel, &s.FreezeLevel, &s.Digits, &s.Point, &s.TradeMode, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// RecordTransaction stores a deposit/withdrawal notification, idempotent
// on ticket. Returns true when the row was new.
func (r *Repository) RecordTransaction(ctx context.Context, tx *Transaction) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO transactions (account_number, ticket, amount, tx_type, comment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticket) DO NOTHING
	`, tx.AccountNumber, tx.Ticket, tx.Amount, tx.TxType, tx.Comment)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
