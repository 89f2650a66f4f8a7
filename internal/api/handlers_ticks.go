package api

import (
	"net/http"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/marketdata"

	"github.com/gin-gonic/gin"
)

// tickPayload is one tick as the terminal sends it. Time arrives in broker
// time as a string; epoch is the fallback for older EA builds.
type tickPayload struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Spread float64 `json:"spread"`
	Volume int64   `json:"volume"`
	Time   string  `json:"time"`
	Epoch  int64   `json:"epoch"`
}

// positionUpdate carries floating P/L for an open position on a tick batch
type positionUpdate struct {
	Ticket     int64   `json:"ticket"`
	Profit     float64 `json:"profit"`
	Swap       float64 `json:"swap"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
}

// accountInfo carries account-level numbers on a tick batch
type accountInfo struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	ProfitToday float64 `json:"profit_today"`
	ProfitWeek  float64 `json:"profit_week"`
	ProfitMonth float64 `json:"profit_month"`
	ProfitYear  float64 `json:"profit_year"`
}

// handleTicks ingests a tick batch: buffer ticks for the flusher, refresh
// account metrics and open-position floating P/L, and mark tick flow for
// the watchdog.
func (s *Server) handleTicks(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Ticks       []tickPayload    `json:"ticks"`
		AccountInfo *accountInfo     `json:"account_info"`
		Positions   []positionUpdate `json:"positions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid tick payload")
		return
	}

	ctx := c.Request.Context()
	buffered := 0
	for i := range req.Ticks {
		tick, ok := s.tickFromPayload(&req.Ticks[i])
		if !ok {
			continue
		}
		s.market.BufferTick(tick)
		buffered++
	}
	if buffered > 0 {
		s.registry.TickSeen(account.AccountNumber)
	}

	if info := req.AccountInfo; info != nil {
		err := s.repo.UpdateAccountMetrics(ctx, account.AccountNumber,
			info.Balance, info.Equity, info.Margin, info.FreeMargin,
			info.ProfitToday, info.ProfitWeek, info.ProfitMonth, info.ProfitYear)
		if err != nil {
			s.logger.Error("Account metrics update failed", "account", account.AccountNumber, "error", err)
		}
	}

	for _, pos := range req.Positions {
		trade, err := s.repo.GetTradeByTicket(ctx, pos.Ticket)
		if err != nil || trade.Status != database.TradeStatusOpen {
			continue
		}
		if err := s.repo.UpdateOpenTradeState(ctx, trade.ID, pos.Profit, pos.Swap, pos.StopLoss, pos.TakeProfit); err != nil {
			s.logger.Error("Position state update failed", "ticket", pos.Ticket, "error", err)
		}
	}

	successResponse(c, "", gin.H{"buffered": buffered})
}

// tickFromPayload converts broker time to UTC and validates prices
func (s *Server) tickFromPayload(p *tickPayload) (*database.Tick, bool) {
	if p.Symbol == "" || p.Bid <= 0 || p.Ask <= 0 {
		return nil, false
	}

	tick := &database.Tick{
		Symbol: p.Symbol,
		Bid:    p.Bid,
		Ask:    p.Ask,
		Spread: p.Spread,
		Volume: p.Volume,
	}
	if tick.Spread == 0 {
		tick.Spread = p.Ask - p.Bid
	}

	switch {
	case p.Time != "":
		t, err := marketdata.ParseBrokerTime(p.Time)
		if err != nil {
			return nil, false
		}
		tick.TickTime = t
	case p.Epoch > 0:
		tick.TickTime = marketdata.BrokerEpochToUTC(p.Epoch)
	default:
		return nil, false
	}
	return tick, true
}

// candlePayload is one historical bar as the terminal sends it
type candlePayload struct {
	Time   string  `json:"time"` // broker time
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// handleHistoricalOHLC bulk-imports completed candles sent by the terminal
// in response to REQUEST_HISTORICAL_DATA.
func (s *Server) handleHistoricalOHLC(c *gin.Context) {
	var req struct {
		Symbol    string          `json:"symbol"`
		Timeframe string          `json:"timeframe"`
		Candles   []candlePayload `json:"candles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Symbol == "" || req.Timeframe == "" {
		errorResponse(c, http.StatusBadRequest, "symbol and timeframe are required")
		return
	}
	if !database.ValidTimeframe(req.Timeframe) {
		errorResponse(c, http.StatusBadRequest, "unknown timeframe")
		return
	}

	candles := make([]*database.OHLCCandle, 0, len(req.Candles))
	for _, p := range req.Candles {
		t, err := marketdata.ParseBrokerTime(p.Time)
		if err != nil || p.High < p.Low {
			continue
		}
		candles = append(candles, &database.OHLCCandle{
			Symbol:     req.Symbol,
			Timeframe:  req.Timeframe,
			Open:       p.Open,
			High:       p.High,
			Low:        p.Low,
			Close:      p.Close,
			Volume:     p.Volume,
			CandleTime: t,
		})
	}

	imported, skipped, err := s.market.ImportCandles(c.Request.Context(), candles)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "candle import failed")
		return
	}
	successResponse(c, "", gin.H{"imported": imported, "skipped": skipped})
}
