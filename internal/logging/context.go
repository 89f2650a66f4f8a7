package logging

// Domain context helpers. Each returns a child logger pre-tagged with the
// fields the on-call person greps for first.

// CommandContext creates a logger context for command lifecycle operations
func CommandContext(commandID, commandType string, account int64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"command_id":   commandID,
		"command_type": commandType,
		"account":      account,
	}).WithComponent("command")
}

// SignalContext creates a logger context for trading signals
func SignalContext(symbol, timeframe, signalType string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":      symbol,
		"timeframe":   timeframe,
		"signal_type": signalType,
		"confidence":  confidence,
	}).WithComponent("signal")
}

// TradeContext creates a logger context for trade operations
func TradeContext(account int64, ticket int64, symbol, direction string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"account":   account,
		"ticket":    ticket,
		"symbol":    symbol,
		"direction": direction,
	}).WithComponent("trade")
}

// ConnectionContext creates a logger context for terminal connection events
func ConnectionContext(account int64, broker string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"account": account,
		"broker":  broker,
	}).WithComponent("connection")
}

// ProtectionContext creates a logger context for protection state changes
func ProtectionContext(account int64, reason string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"account": account,
		"reason":  reason,
	}).WithComponent("protection")
}

// MarketDataContext creates a logger context for tick/candle ingestion
func MarketDataContext(symbol, timeframe string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
	}).WithComponent("marketdata")
}

// WorkerContext creates a logger context for supervised workers
func WorkerContext(name string) *Logger {
	return Default().WithField("worker", name).WithComponent("worker")
}
