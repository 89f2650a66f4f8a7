package api

import (
	"net/http"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/reconcile"

	"github.com/gin-gonic/gin"
)

// handleTradesSync reconciles the terminal's full position list against
// the server's trade table. The terminal is the source of truth for what
// is actually open.
func (s *Server) handleTradesSync(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Trades []reconcile.TradeReport `json:"trades"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid sync payload")
		return
	}

	result, err := s.reconciler.Sync(c.Request.Context(), account, req.Trades)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	successResponse(c, "", gin.H{
		"inserted": result.Inserted,
		"closed":   result.Closed,
		"updated":  result.Updated,
		"linked":   result.Linked,
	})
}

// handleTradeUpdate processes a single trade delta: a close notification
// when close_time is set, otherwise a state refresh for the open position.
func (s *Server) handleTradeUpdate(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Trade reconcile.TradeReport `json:"trade"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Trade.Ticket == 0 {
		errorResponse(c, http.StatusBadRequest, "trade.ticket is required")
		return
	}

	ctx := c.Request.Context()
	if req.Trade.CloseTime != nil || req.Trade.ClosePrice != nil {
		if err := s.reconciler.HandleClose(ctx, account, &req.Trade); err != nil {
			errorResponse(c, http.StatusInternalServerError, "close processing failed")
			return
		}
		successResponse(c, "", gin.H{"closed": true})
		return
	}

	trade, err := s.repo.GetTradeByTicket(ctx, req.Trade.Ticket)
	if err != nil {
		if err == database.ErrNotFound {
			errorResponse(c, http.StatusNotFound, "unknown ticket")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "trade lookup failed")
		return
	}
	if trade.Status != database.TradeStatusOpen {
		successResponse(c, "Trade already closed", nil)
		return
	}

	err = s.repo.UpdateOpenTradeState(ctx, trade.ID, req.Trade.Profit, req.Trade.Swap, req.Trade.StopLoss, req.Trade.TakeProfit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "trade update failed")
		return
	}
	successResponse(c, "", gin.H{"updated": true})
}

// handleTransaction records a deposit or withdrawal and rebases the
// drawdown baseline so funding changes don't trip the breaker.
func (s *Server) handleTransaction(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Ticket  int64   `json:"ticket"`
		Amount  float64 `json:"amount"`
		TxType  string  `json:"tx_type"`
		Comment string  `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Ticket == 0 {
		errorResponse(c, http.StatusBadRequest, "ticket is required")
		return
	}

	ctx := c.Request.Context()
	isNew, err := s.repo.RecordTransaction(ctx, &database.Transaction{
		AccountNumber: account.AccountNumber,
		Ticket:        req.Ticket,
		Amount:        req.Amount,
		TxType:        req.TxType,
		Comment:       req.Comment,
	})
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "transaction persist failed")
		return
	}
	if isNew {
		if err := s.protection.OnTransaction(ctx, account.AccountNumber, req.Amount); err != nil {
			s.logger.Error("Balance rebase failed", "account", account.AccountNumber, "error", err)
		}
	}
	successResponse(c, "", gin.H{"recorded": isNew})
}
