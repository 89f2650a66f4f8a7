package database

import (
	"time"
)

// ============================================================================
// ENUMS
// ============================================================================

// Signal types
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Signal statuses
const (
	SignalStatusActive   = "active"
	SignalStatusExpired  = "expired"
	SignalStatusExecuted = "executed"
	SignalStatusIgnored  = "ignored"
)

// Command types
const (
	CommandOpenTrade             = "OPEN_TRADE"
	CommandCloseTrade            = "CLOSE_TRADE"
	CommandModifyTrade           = "MODIFY_TRADE"
	CommandRequestOHLC           = "REQUEST_OHLC"
	CommandRequestHistoricalData = "REQUEST_HISTORICAL_DATA"
)

// IsTradeCommand reports whether a command type affects positions. Only
// these feed the command-failure circuit breaker; data requests failing
// says nothing about order execution.
func IsTradeCommand(commandType string) bool {
	switch commandType {
	case CommandOpenTrade, CommandCloseTrade, CommandModifyTrade:
		return true
	}
	return false
}

// Command statuses. Transitions are monotonic:
// pending -> sent -> completed|failed.
const (
	CommandStatusPending   = "pending"
	CommandStatusSent      = "sent"
	CommandStatusCompleted = "completed"
	CommandStatusFailed    = "failed"
)

// Trade statuses
const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Trade sources
const (
	TradeSourceAutotrade = "autotrade"
	TradeSourceEACommand = "ea_command"
	TradeSourceManual    = "mt5_manual"
)

// Close reasons
const (
	CloseReasonTPHit           = "TP_HIT"
	CloseReasonSLHit           = "SL_HIT"
	CloseReasonTrailingStop    = "TRAILING_STOP"
	CloseReasonManual          = "MANUAL"
	CloseReasonTimeout         = "TIMEOUT"
	CloseReasonOpportunityCost = "OPPORTUNITY_COST"
)

// Symbol config statuses
const (
	SymbolStatusActive   = "active"
	SymbolStatusPaused   = "paused"
	SymbolStatusDisabled = "disabled"
)

// Decision outcomes
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Decision types
const (
	DecisionTypeTradeOpen      = "TRADE_OPEN"
	DecisionTypeRiskLimit      = "RISK_LIMIT"
	DecisionTypeCircuitBreaker = "CIRCUIT_BREAKER"
	DecisionTypeDDLimit        = "DD_LIMIT"
	DecisionTypeSignalExpired  = "SIGNAL_EXPIRED"
	DecisionTypeSymbolDisable  = "SYMBOL_DISABLE"
	DecisionTypePositionLimit  = "POSITION_LIMIT"
	DecisionTypeSpreadRejected = "SPREAD_REJECTED"
	DecisionTypeTickStale      = "TICK_STALE"
	DecisionTypeNewsPause      = "NEWS_PAUSE"
	DecisionTypeMT5Disconnect  = "MT5_DISCONNECT"
	DecisionTypeMT5Reconnect   = "MT5_RECONNECT"
	DecisionTypeConfidence     = "CONFIDENCE"
	DecisionTypeSLInvalid      = "SL_INVALID"
	DecisionTypeLotTooSmall    = "LOT_TOO_SMALL"
)

// Impact levels
const (
	ImpactLow      = "LOW"
	ImpactMedium   = "MEDIUM"
	ImpactHigh     = "HIGH"
	ImpactCritical = "CRITICAL"
)

// Trade history event types
const (
	EventSLModified = "SL_MODIFIED"
	EventTPModified = "TP_MODIFIED"
)

// Timeframe codes
const (
	TimeframeM1  = "M1"
	TimeframeM5  = "M5"
	TimeframeM15 = "M15"
	TimeframeM30 = "M30"
	TimeframeH1  = "H1"
	TimeframeH4  = "H4"
	TimeframeD1  = "D1"
)

// Timeframes supported by the candle store
var Timeframes = []string{TimeframeM1, TimeframeM5, TimeframeM15, TimeframeM30, TimeframeH1, TimeframeH4, TimeframeD1}

// ValidTimeframe reports whether tf is a supported timeframe code
func ValidTimeframe(tf string) bool {
	_, ok := TimeframeMinutes[tf]
	return ok
}

// TimeframeMinutes maps a timeframe code to its bar length in minutes.
var TimeframeMinutes = map[string]int{
	"M1": 1, "M5": 5, "M15": 15, "M30": 30, "H1": 60, "H4": 240, "D1": 1440,
}

// ============================================================================
// ENTITIES
// ============================================================================

// Account represents one MT5 terminal account. Created on first connect,
// never deleted. The API key is stored hashed; the plaintext is only ever
// returned once, by /api/connect.
type Account struct {
	ID            int64      `json:"id"`
	AccountNumber int64      `json:"account_number"`
	APIKeyHash    string     `json:"-"`
	Broker        string     `json:"broker"`
	Platform      string     `json:"platform"`
	Currency      string     `json:"currency"`
	Balance       float64    `json:"balance"`
	Equity        float64    `json:"equity"`
	Margin        float64    `json:"margin"`
	FreeMargin    float64    `json:"free_margin"`
	ProfitToday   float64    `json:"profit_today"`
	ProfitWeek    float64    `json:"profit_week"`
	ProfitMonth   float64    `json:"profit_month"`
	ProfitYear    float64    `json:"profit_year"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BrokerSymbol holds broker-reported symbol properties. Global, not
// per-account.
type BrokerSymbol struct {
	Symbol      string    `json:"symbol"`
	Description string    `json:"description"`
	VolumeMin   float64   `json:"volume_min"`
	VolumeMax   float64   `json:"volume_max"`
	VolumeStep  float64   `json:"volume_step"`
	StopsLevel  int       `json:"stops_level"`  // Minimum SL/TP distance in points
	FreezeLevel int       `json:"freeze_level"` // No modifications inside this distance
	Digits      int       `json:"digits"`
	Point       float64   `json:"point"`
	TradeMode   string    `json:"trade_mode"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubscribedSymbol marks an (account, symbol) pair the terminal streams
// ticks for and accepts trades on.
type SubscribedSymbol struct {
	ID            int64     `json:"id"`
	AccountNumber int64     `json:"account_number"`
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe"` // Signal generation timeframe
	CreatedAt     time.Time `json:"created_at"`
}

// Tick is a single market quote. Global across accounts. TickTime is UTC.
type Tick struct {
	ID       int64     `json:"id"`
	Symbol   string    `json:"symbol"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Spread   float64   `json:"spread"`
	Volume   int64     `json:"volume"`
	TickTime time.Time `json:"tick_time"`
}

// OHLCCandle is one aggregated bar. Unique on (symbol, timeframe,
// candle_time). Global across accounts.
type OHLCCandle struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	CandleTime time.Time `json:"candle_time"`
}

// TradingSignal is a directional signal produced by the generator. At most
// one active signal per (symbol, timeframe), enforced by a partial unique
// index.
type TradingSignal struct {
	ID                int64                  `json:"id"`
	Symbol            string                 `json:"symbol"`
	Timeframe         string                 `json:"timeframe"`
	SignalType        string                 `json:"signal_type"`
	Confidence        float64                `json:"confidence"` // 0-100
	EntryPrice        float64                `json:"entry_price"`
	StopLoss          float64                `json:"stop_loss"`
	TakeProfit        float64                `json:"take_profit"`
	IndicatorSnapshot map[string]interface{} `json:"indicator_snapshot"`
	Patterns          []string               `json:"patterns"`
	Status            string                 `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
	ExpiresAt         time.Time              `json:"expires_at"`
}

// Command is one unit of work for the terminal. The ID is a
// client-generated UUID; auto-increment IDs have bitten us during
// migrations before.
type Command struct {
	ID            string                 `json:"id"`
	AccountNumber int64                  `json:"account_number"`
	CommandType   string                 `json:"command_type"`
	Payload       map[string]interface{} `json:"payload"`
	Status        string                 `json:"status"`
	Response      map[string]interface{} `json:"response,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	ExecutedAt    *time.Time             `json:"executed_at,omitempty"`
}

// Trade mirrors one MT5 position. Ticket is the broker-assigned external
// id, unique globally. At most one open trade per (account, symbol),
// enforced by a partial unique index.
type Trade struct {
	ID                 int64      `json:"id"`
	AccountNumber      int64      `json:"account_number"`
	Ticket             int64      `json:"ticket"`
	Symbol             string     `json:"symbol"`
	Direction          string     `json:"direction"` // BUY or SELL
	Volume             float64    `json:"volume"`
	OpenPrice          float64    `json:"open_price"`
	OpenTime           time.Time  `json:"open_time"`
	ClosePrice         *float64   `json:"close_price,omitempty"`
	CloseTime          *time.Time `json:"close_time,omitempty"`
	StopLoss           float64    `json:"stop_loss"`
	TakeProfit         float64    `json:"take_profit"`
	InitialSL          float64    `json:"initial_sl"`
	InitialTP          float64    `json:"initial_tp"`
	Profit             float64    `json:"profit"`
	Commission         float64    `json:"commission"`
	Swap               float64    `json:"swap"`
	Status             string     `json:"status"`
	Source             string     `json:"source"`
	CommandID          *string    `json:"command_id,omitempty"`
	SignalID           *int64     `json:"signal_id,omitempty"`
	EntryConfidence    *float64   `json:"entry_confidence,omitempty"`
	Timeframe          *string    `json:"timeframe,omitempty"`
	CloseReason        *string    `json:"close_reason,omitempty"`
	MFE                float64    `json:"mfe"` // Max favorable excursion
	MAE                float64    `json:"mae"` // Max adverse excursion
	TrailingStopActive bool       `json:"trailing_stop_active"`
	TrailingStopMoves  int        `json:"trailing_stop_moves"`
	EntryBid           *float64   `json:"entry_bid,omitempty"`
	EntryAsk           *float64   `json:"entry_ask,omitempty"`
	EntrySpread        *float64   `json:"entry_spread,omitempty"`
	Session            *string    `json:"session,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TradeHistoryEvent is one append-only SL/TP audit row owned by a trade.
type TradeHistoryEvent struct {
	ID             int64     `json:"id"`
	TradeID        int64     `json:"trade_id"`
	EventType      string    `json:"event_type"`
	OldValue       float64   `json:"old_value"`
	NewValue       float64   `json:"new_value"`
	Reason         string    `json:"reason"`
	Source         string    `json:"source"`
	PriceAtChange  float64   `json:"price_at_change"`
	SpreadAtChange float64   `json:"spread_at_change"`
	CreatedAt      time.Time `json:"created_at"`
}

// SymbolTradingConfig is the adaptive per-(account, symbol) trading
// profile, mutated after every trade close.
type SymbolTradingConfig struct {
	ID                     int64      `json:"id"`
	AccountNumber          int64      `json:"account_number"`
	Symbol                 string     `json:"symbol"`
	Direction              *string    `json:"direction,omitempty"`
	MinConfidenceThreshold float64    `json:"min_confidence_threshold"` // 45-80
	RiskMultiplier         float64    `json:"risk_multiplier"`          // 0.1-2.0
	Status                 string     `json:"status"`
	RollingWinrate         float64    `json:"rolling_winrate"`
	RollingProfit          float64    `json:"rolling_profit"`
	ConsecutiveWins        int        `json:"consecutive_wins"`
	ConsecutiveLosses      int        `json:"consecutive_losses"`
	TradesCounted          int        `json:"trades_counted"`
	WinrateTrending        float64    `json:"winrate_trending"`
	WinrateRanging         float64    `json:"winrate_ranging"`
	TrendingTrades         int        `json:"trending_trades"`
	RangingTrades          int        `json:"ranging_trades"`
	PreferredRegime        *string    `json:"preferred_regime,omitempty"`
	PauseReason            *string    `json:"pause_reason,omitempty"`
	PausedAt               *time.Time `json:"paused_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IndicatorScore tracks per-indicator historical performance. Global (no
// account); keyed by (symbol, timeframe, indicator_name).
type IndicatorScore struct {
	ID            int64     `json:"id"`
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe"`
	IndicatorName string    `json:"indicator_name"`
	WinRate       float64   `json:"win_rate"`
	ProfitFactor  float64   `json:"profit_factor"`
	TotalSignals  int       `json:"total_signals"`
	LastUpdated   time.Time `json:"last_updated"`
}

/// ProtectionState is 1:1 with an account. Resets daily at UTC midnight.
type ProtectionState struct {
	AccountNumber               int64      `json:"account_number"`
	ProtectionEnabled           bool       `json:"protection_enabled"`
	MaxDailyLossPercent         float64    `json:"max_daily_loss_percent"`
	MaxDailyLossEUR             float64    `json:"max_daily_loss_eur"`
	MaxTotalDrawdownPercent     float64    `json:"max_total_drawdown_percent"`
	PauseAfterConsecutiveLosses int        `json:"pause_after_consecutive_losses"`
	CircuitBreakerTripped       bool       `json:"circuit_breaker_tripped"`
	TrackingDate                time.Time  `json:"tracking_date"` // UTC date
	DailyPnL                    float64    `json:"daily_pnl"`
	LimitReached                bool       `json:"limit_reached"`
	AutoTradingDisabledAt       *time.Time `json:"auto_trading_disabled_at,omitempty"`
	InitialBalance              float64    `json:"initial_balance"`
	UpdatedAt                   time.Time  `json:"updated_at"`
}

// AIDecisionLog is one append-only accept/reject record from the decision
// pipeline.
type AIDecisionLog struct {
	ID                int64                  `json:"id"`
	AccountNumber     int64                  `json:"account_number"`
	DecisionType      string                 `json:"decision_type"`
	Decision          string                 `json:"decision"`
	Symbol            string                 `json:"symbol"`
	Timeframe         *string                `json:"timeframe,omitempty"`
	PrimaryReason     string                 `json:"primary_reason"`
	DetailedReasoning map[string]interface{} `json:"detailed_reasoning,omitempty"`
	ImpactLevel       string                 `json:"impact_level"`
	ConfidenceScore   *float64               `json:"confidence_score,omitempty"`
	RiskScore         *float64               `json:"risk_score,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// Transaction is a deposit/withdrawal notification, idempotent on ticket.
type Transaction struct {
	ID            int64     `json:"id"`
	AccountNumber int64     `json:"account_number"`
	Ticket        int64     `json:"ticket"`
	Amount        float64   `json:"amount"`
	TxType        string    `json:"tx_type"`
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"created_at"`
}
