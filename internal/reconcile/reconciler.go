// Package reconcile keeps the server's trade table consistent with what
// the terminal actually holds: inserting unknown positions, closing
// phantoms, propagating SL/TP edits and linking trades back to the
// commands and signals that caused them.
package reconcile

import (
	"context"
	"math"
	"time"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/logging"
	"mt5-trading-backend/internal/marketdata"
	"mt5-trading-backend/internal/protection"
	"mt5-trading-backend/internal/risk"
)

// TradeReport is one position as the terminal sees it
type TradeReport struct {
	Ticket     int64    `json:"ticket"`
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"` // BUY or SELL
	Volume     float64  `json:"volume"`
	OpenPrice  float64  `json:"open_price"`
	OpenTime   string   `json:"open_time"` // broker time
	StopLoss   float64  `json:"sl"`
	TakeProfit float64  `json:"tp"`
	Profit     float64  `json:"profit"`
	Commission float64  `json:"commission"`
	Swap       float64  `json:"swap"`
	ClosePrice *float64 `json:"close_price,omitempty"`
	CloseTime  *string  `json:"close_time,omitempty"` // broker time, set when closed
}

// Reconciler cross-checks terminal state against the trade table
type Reconciler struct {
	repo       *database.Repository
	protection *protection.Manager
	trailing   *risk.TrailingManager
	bus        *events.EventBus
	logger     *logging.Logger
}

// NewReconciler creates the reconciliation service
func NewReconciler(repo *database.Repository, prot *protection.Manager, trailing *risk.TrailingManager, bus *events.EventBus, logger *logging.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		protection: prot,
		trailing:   trailing,
		bus:        bus,
		logger:     logger.WithComponent("reconcile"),
	}
}

// SyncResult summarizes one reconciliation pass
type SyncResult struct {
	Inserted int `json:"inserted"`
	Closed   int `json:"closed"`
	Updated  int `json:"updated"`
	Linked   int `json:"linked"`
}

// Sync reconciles the full position list reported by the terminal against
// the server's open trades for the account.
func (r *Reconciler) Sync(ctx context.Context, account *database.Account, reported []TradeReport) (SyncResult, error) {
	var result SyncResult

	serverOpen, err := r.repo.GetOpenTrades(ctx, account.AccountNumber)
	if err != nil {
		return result, err
	}
	serverByTicket := make(map[int64]*database.Trade, len(serverOpen))
	for _, t := range serverOpen {
		serverByTicket[t.Ticket] = t
	}

	reportedTickets := make(map[int64]bool, len(reported))
	for i := range reported {
		rep := &reported[i]
		reportedTickets[rep.Ticket] = true

		existing, ok := serverByTicket[rep.Ticket]
		if !ok {
			if r.insertFromReport(ctx, account.AccountNumber, rep) {
				result.Inserted++
				if r.linkCommand(ctx, account.AccountNumber, rep.Ticket) {
					result.Linked++
				}
			}
			continue
		}

		// SL/TP drift: terminal wins, with an audit trail.
		if levelsDiffer(existing.StopLoss, rep.StopLoss) || levelsDiffer(existing.TakeProfit, rep.TakeProfit) {
			if err := r.repo.UpdateTradeLevels(ctx, existing.ID, rep.StopLoss, rep.TakeProfit); err == nil {
				result.Updated++
				r.auditLevelChange(ctx, existing, rep)
			}
		}
		_ = r.repo.UpdateOpenTradeState(ctx, existing.ID, rep.Profit, rep.Swap, rep.StopLoss, rep.TakeProfit)
		if existing.CommandID == nil && r.linkCommand(ctx, account.AccountNumber, rep.Ticket) {
			result.Linked++
		}
	}

	// Open on the server, gone from the terminal: the position closed
	// while we were not looking.
	for ticket, trade := range serverByTicket {
		if reportedTickets[ticket] {
			continue
		}
		if r.closeMissing(ctx, account, trade) {
			result.Closed++
		}
	}

	if result.Inserted+result.Closed+result.Updated > 0 {
		r.logger.Info("Reconciliation pass applied changes",
			"account", account.AccountNumber, "inserted", result.Inserted,
			"closed", result.Closed, "updated", result.Updated, "linked", result.Linked)
	}
	return result, nil
}

// HandleClose processes a single closed-trade delta from the terminal
func (r *Reconciler) HandleClose(ctx context.Context, account *database.Account, rep *TradeReport) error {
	trade, err := r.repo.GetTradeByTicket(ctx, rep.Ticket)
	if err != nil {
		if err == database.ErrNotFound {
			// Closed before we ever saw it open; nothing to reconcile.
			return nil
		}
		return err
	}
	if trade.Status == database.TradeStatusClosed {
		return nil
	}

	closePrice := trade.OpenPrice
	if rep.ClosePrice != nil {
		closePrice = *rep.ClosePrice
	}

	closeTime := time.Now().UTC()
	if rep.CloseTime != nil {
		if t, err := marketdata.ParseBrokerTime(*rep.CloseTime); err == nil {
			closeTime = t
		}
	}

	reason := r.inferCloseReason(trade, closePrice)
	changed, err := r.repo.CloseTrade(ctx, trade.ID, closePrice, closeTime, rep.Profit, rep.Commission, rep.Swap, reason)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	logging.TradeContext(account.AccountNumber, trade.Ticket, trade.Symbol, trade.Direction).
		Info("Trade closed", "profit", rep.Profit, "reason", reason)
	if r.trailing != nil {
		r.trailing.Forget(trade.Ticket)
	}
	if r.bus != nil {
		r.bus.PublishTradeClosed(account.AccountNumber, trade.Symbol, trade.Ticket, rep.Profit, reason)
	}

	// Protection and adaptive learning run on the closed row.
	closed, err := r.repo.GetTradeByTicket(ctx, trade.Ticket)
	if err == nil {
		regime := ""
		if closed.SignalID != nil {
			if sig, err := r.repo.GetSignalByID(ctx, *closed.SignalID); err == nil {
				regime, _ = sig.IndicatorSnapshot["regime"].(string)
				r.scoreIndicators(ctx, closed, sig)
			}
		}
		if err := r.protection.OnTradeClosed(ctx, closed, account, regime); err != nil {
			r.logger.Error("Protection post-close failed", "ticket", trade.Ticket, "error", err)
		}
	}
	return nil
}

// scoreIndicators feeds a closed trade's outcome back into the
// per-indicator performance table that weights future confidence scores.
// Only indicators that voted for the executed direction are scored; the
// outcome says nothing about the ones that disagreed or abstained.
func (r *Reconciler) scoreIndicators(ctx context.Context, trade *database.Trade, sig *database.TradingSignal) {
	names := confirmingIndicators(sig.IndicatorSnapshot, sig.SignalType)
	if len(names) == 0 {
		return
	}
	scores, err := r.repo.GetIndicatorScores(ctx, sig.Symbol, sig.Timeframe)
	if err != nil {
		r.logger.Error("Indicator score load failed", "symbol", sig.Symbol, "error", err)
		return
	}

	won := trade.Profit > 0
	for _, name := range names {
		s, ok := scores[name]
		if !ok {
			s = &database.IndicatorScore{
				Symbol:        sig.Symbol,
				Timeframe:     sig.Timeframe,
				IndicatorName: name,
				WinRate:       50,
				ProfitFactor:  1,
			}
		}
		applyOutcome(s, won)
		if err := r.repo.UpsertIndicatorScore(ctx, s); err != nil {
			r.logger.Error("Indicator score update failed", "indicator", name, "error", err)
		}
	}
}

// confirmingIndicators extracts the indicators whose vote matched the
// signal direction from a snapshot as it comes back from the database
// (the JSONB round trip turns the vote map into generic maps).
func confirmingIndicators(snapshot map[string]interface{}, direction string) []string {
	votes, ok := snapshot["votes"].(map[string]interface{})
	if !ok {
		return nil
	}
	var names []string
	for name, raw := range votes {
		vote, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if dir, _ := vote["direction"].(string); dir == direction {
			names = append(names, name)
		}
	}
	return names
}

// applyOutcome folds one closed-trade result into an indicator's running
// score. Win rate is stored as a percentage.
func applyOutcome(s *database.IndicatorScore, won bool) {
	wins := s.WinRate / 100 * float64(s.TotalSignals)
	if won {
		wins++
	}
	s.TotalSignals++
	s.WinRate = wins / float64(s.TotalSignals) * 100
}

// inferCloseReason classifies a close by comparing the close price to the
// trade's levels.
func (r *Reconciler) inferCloseReason(trade *database.Trade, closePrice float64) string {
	tolerance := r.closeTolerance(trade)

	if trade.StopLoss > 0 && math.Abs(closePrice-trade.StopLoss) <= tolerance {
		if trade.TrailingStopActive {
			return database.CloseReasonTrailingStop
		}
		return database.CloseReasonSLHit
	}
	if trade.TakeProfit > 0 && math.Abs(closePrice-trade.TakeProfit) <= tolerance {
		return database.CloseReasonTPHit
	}
	if trade.TrailingStopActive {
		return database.CloseReasonTrailingStop
	}
	return database.CloseReasonManual
}

// closeTolerance scales the SL/TP match window with price magnitude
func (r *Reconciler) closeTolerance(trade *database.Trade) float64 {
	base := trade.OpenPrice * 0.0005
	if base <= 0 {
		base = 0.0005
	}
	return base
}

// insertFromReport records a position the terminal holds but the server
// never saw (manual trade or missed response).
func (r *Reconciler) insertFromReport(ctx context.Context, accountNumber int64, rep *TradeReport) bool {
	openTime := time.Now().UTC()
	if rep.OpenTime != "" {
		if t, err := marketdata.ParseBrokerTime(rep.OpenTime); err == nil {
			openTime = t
		}
	}

	trade := &database.Trade{
		AccountNumber: accountNumber,
		Ticket:        rep.Ticket,
		Symbol:        rep.Symbol,
		Direction:     rep.Direction,
		Volume:        rep.Volume,
		OpenPrice:     rep.OpenPrice,
		OpenTime:      openTime,
		StopLoss:      rep.StopLoss,
		TakeProfit:    rep.TakeProfit,
		InitialSL:     rep.StopLoss,
		InitialTP:     rep.TakeProfit,
		Profit:        rep.Profit,
		Commission:    rep.Commission,
		Swap:          rep.Swap,
		Status:        database.TradeStatusOpen,
		Source:        database.TradeSourceManual,
	}
	if err := r.repo.CreateTrade(ctx, trade); err != nil {
		if err != database.ErrDuplicateOpenTrade {
			r.logger.Error("Reconcile insert failed", "ticket", rep.Ticket, "error", err)
		}
		return false
	}
	logging.TradeContext(accountNumber, rep.Ticket, rep.Symbol, rep.Direction).
		Info("Unknown terminal position recorded")
	if r.bus != nil {
		r.bus.PublishTradeOpened(accountNumber, rep.Symbol, rep.Direction, rep.Ticket, rep.Volume)
	}
	return true
}

// closeMissing closes a server trade the terminal no longer reports
func (r *Reconciler) closeMissing(ctx context.Context, account *database.Account, trade *database.Trade) bool {
	rep := &TradeReport{
		Ticket: trade.Ticket,
		Symbol: trade.Symbol,
		Profit: trade.Profit, // last known floating P/L is the best estimate
	}
	if err := r.HandleClose(ctx, account, rep); err != nil {
		r.logger.Error("Reconcile close failed", "ticket", trade.Ticket, "error", err)
		return false
	}
	return true
}

// linkCommand back-fills command_id, signal_id, timeframe and entry
// confidence on a trade by matching the OPEN_TRADE response ticket.
func (r *Reconciler) linkCommand(ctx context.Context, accountNumber, ticket int64) bool {
	cmd, err := r.repo.FindOpenCommandByTicket(ctx, accountNumber, ticket)
	if err != nil {
		return false
	}
	trade, err := r.repo.GetTradeByTicket(ctx, ticket)
	if err != nil || trade.CommandID != nil {
		return false
	}

	var signalID *int64
	var confidence *float64
	var timeframe *string
	if raw, ok := cmd.Payload["signal_id"]; ok {
		if f, ok := raw.(float64); ok {
			id := int64(f)
			signalID = &id
			if sig, err := r.repo.GetSignalByID(ctx, id); err == nil {
				confidence = &sig.Confidence
			}
		}
	}
	if tf, ok := cmd.Payload["timeframe"].(string); ok {
		timeframe = &tf
	}

	if err := r.repo.LinkTradeToCommand(ctx, trade.ID, cmd.ID, signalID, confidence, timeframe); err != nil {
		return false
	}
	return true
}

func (r *Reconciler) auditLevelChange(ctx context.Context, existing *database.Trade, rep *TradeReport) {
	if levelsDiffer(existing.StopLoss, rep.StopLoss) {
		_ = r.repo.AppendTradeHistoryEvent(ctx, &database.TradeHistoryEvent{
			TradeID:   existing.ID,
			EventType: database.EventSLModified,
			OldValue:  existing.StopLoss,
			NewValue:  rep.StopLoss,
			Reason:    "terminal-side modification",
			Source:    "reconcile",
		})
	}
	if levelsDiffer(existing.TakeProfit, rep.TakeProfit) {
		_ = r.repo.AppendTradeHistoryEvent(ctx, &database.TradeHistoryEvent{
			TradeID:   existing.ID,
			EventType: database.EventTPModified,
			OldValue:  existing.TakeProfit,
			NewValue:  rep.TakeProfit,
			Reason:    "terminal-side modification",
			Source:    "reconcile",
		})
	}
}

func levelsDiffer(a, b float64) bool {
	return math.Abs(a-b) > 1e-9
}
