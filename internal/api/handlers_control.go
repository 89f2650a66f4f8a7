package api

import (
	"net/http"
	"time"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/logging"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// handleStatus is the unauthenticated liveness endpoint
func (s *Server) handleStatus(c *gin.Context) {
	dbOK := s.repo.HealthCheck(c.Request.Context()) == nil
	redisOK := false
	if s.cache != nil {
		redisOK = s.cache.IsHealthy()
	}

	workers := s.supervisor.HealthSnapshot()
	healthy := 0
	for _, w := range workers {
		if w.IsHealthy {
			healthy++
		}
	}

	successResponse(c, "", gin.H{
		"server_time":     time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":  int(time.Since(startTime).Seconds()),
		"database":        dbOK,
		"redis":           redisOK,
		"auto_trade":      s.pipeline.Enabled(),
		"workers_healthy": healthy,
		"workers_total":   len(workers),
	})
}

// handleConnect registers a terminal. Idempotent per account number; the
// plaintext API key is returned exactly once, on first connect.
func (s *Server) handleConnect(c *gin.Context) {
	var req struct {
		Account  int64  `json:"account"`
		Broker   string `json:"broker"`
		Platform string `json:"platform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Account == 0 {
		errorResponse(c, http.StatusBadRequest, "account is required")
		return
	}

	apiKey, err := database.GenerateAPIKey()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "key generation failed")
		return
	}

	account, isNew, err := s.repo.ConnectAccount(c.Request.Context(), req.Account, req.Broker, req.Platform, database.HashAPIKey(apiKey))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "connect failed")
		return
	}

	s.registry.MarkConnected(req.Account, req.Broker)
	s.bus.PublishConnectionChange(events.EventMT5Connected, req.Account, "api connect")
	if recovered, err := s.cmds.RecoverQueue(c.Request.Context(), req.Account); err == nil && recovered > 0 {
		s.logger.Info("Command queue recovered on connect", "account", req.Account, "commands", recovered)
	}

	logging.ConnectionContext(req.Account, req.Broker).Info("Terminal connected", "new_account", isNew)

	data := gin.H{"account": account.AccountNumber, "is_new": isNew}
	msg := "Reconnected"
	if isNew {
		// Only moment the plaintext key ever leaves the server.
		data["api_key"] = apiKey
		msg = "Account registered"
	}
	successResponse(c, msg, data)
}

// handleHeartbeat keeps the connection registry warm and refreshes the
// account metrics the terminal carries on each beat.
func (s *Server) handleHeartbeat(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Balance    float64 `json:"balance"`
		Equity     float64 `json:"equity"`
		Margin     float64 `json:"margin"`
		FreeMargin float64 `json:"free_margin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid heartbeat payload")
		return
	}

	ctx := c.Request.Context()
	if err := s.repo.UpdateHeartbeat(ctx, account.AccountNumber, req.Balance, req.Equity, req.Margin, req.FreeMargin); err != nil {
		errorResponse(c, http.StatusInternalServerError, "heartbeat persist failed")
		return
	}
	s.registry.Heartbeat(account.AccountNumber)

	if req.Balance > 0 {
		if _, err := s.protection.Ensure(ctx, account.AccountNumber, req.Balance); err != nil {
			s.logger.Error("Protection state init failed", "account", account.AccountNumber, "error", err)
		}
	}

	successResponse(c, "", gin.H{"auto_trade": s.pipeline.Enabled()})
}

// handleSymbols returns the account's subscription list so the terminal
// knows which symbols to stream.
func (s *Server) handleSymbols(c *gin.Context) {
	account := s.account(c)
	subs, err := s.repo.GetSubscribedSymbols(c.Request.Context(), account.AccountNumber)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "subscription lookup failed")
		return
	}
	successResponse(c, "", gin.H{"symbols": subs})
}

// handleSubscribe adds symbols to the account's subscription list
func (s *Server) handleSubscribe(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Symbols []struct {
			Symbol    string `json:"symbol"`
			Timeframe string `json:"timeframe"`
		} `json:"symbols"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Symbols) == 0 {
		errorResponse(c, http.StatusBadRequest, "symbols are required")
		return
	}

	ctx := c.Request.Context()
	added := 0
	for _, sym := range req.Symbols {
		if sym.Symbol == "" {
			continue
		}
		if err := s.repo.SubscribeSymbol(ctx, account.AccountNumber, sym.Symbol, sym.Timeframe); err != nil {
			s.logger.Error("Subscribe failed", "account", account.AccountNumber, "symbol", sym.Symbol, "error", err)
			continue
		}
		added++
	}
	successResponse(c, "", gin.H{"subscribed": added})
}

// handleSymbolSpecs stores broker-reported symbol properties (volume
// limits, stops level, digits, point).
func (s *Server) handleSymbolSpecs(c *gin.Context) {
	var req struct {
		Specs []database.BrokerSymbol `json:"specs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Specs) == 0 {
		errorResponse(c, http.StatusBadRequest, "specs are required")
		return
	}

	ctx := c.Request.Context()
	stored := 0
	for i := range req.Specs {
		if req.Specs[i].Symbol == "" {
			continue
		}
		if err := s.repo.UpsertBrokerSymbol(ctx, &req.Specs[i]); err != nil {
			s.logger.Error("Symbol spec upsert failed", "symbol", req.Specs[i].Symbol, "error", err)
			continue
		}
		stored++
	}
	successResponse(c, "", gin.H{"stored": stored})
}

// handleGetCommands hands pending commands to the terminal, oldest first
func (s *Server) handleGetCommands(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Limit int `json:"limit"`
	}
	_ = c.ShouldBindJSON(&req)

	cmds, err := s.cmds.Fetch(c.Request.Context(), account.AccountNumber, req.Limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "command fetch failed")
		return
	}
	if cmds == nil {
		cmds = []*database.Command{}
	}
	successResponse(c, "", gin.H{"commands": cmds})
}

// handleCreateCommand accepts an externally created command (dashboard,
// operator tooling) and queues it for the terminal.
func (s *Server) handleCreateCommand(c *gin.Context) {
	account := s.account(c)
	var req struct {
		CommandType string                 `json:"command_type"`
		Payload     map[string]interface{} `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CommandType == "" {
		errorResponse(c, http.StatusBadRequest, "command_type is required")
		return
	}

	cmd, err := s.cmds.Create(c.Request.Context(), account.AccountNumber, req.CommandType, req.Payload)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "command create failed")
		return
	}
	successResponse(c, "", gin.H{"command_id": cmd.ID})
}

// handleCommandResponse records the terminal's execution result for a
// command and feeds the command-failure breaker.
func (s *Server) handleCommandResponse(c *gin.Context) {
	account := s.account(c)
	var req struct {
		CommandID string                 `json:"command_id"`
		Success   bool                   `json:"success"`
		Response  map[string]interface{} `json:"response"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CommandID == "" {
		errorResponse(c, http.StatusBadRequest, "command_id is required")
		return
	}

	ctx := c.Request.Context()
	cmd, changed, err := s.cmds.HandleResponse(ctx, req.CommandID, req.Success, req.Response)
	if err != nil {
		if err == database.ErrNotFound {
			errorResponse(c, http.StatusNotFound, "unknown command")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "response persist failed")
		return
	}

	// Only trade-affecting commands feed the failure breaker. Repeated
	// duplicate responses (changed == false) must not double count.
	if changed && database.IsTradeCommand(cmd.CommandType) {
		s.protection.OnCommandResult(ctx, account.AccountNumber, req.Success)
	}

	successResponse(c, "", gin.H{"status_now": cmd.Status})
}

// handleAutoTradeToggle flips the global auto-trading switch
func (s *Server) handleAutoTradeToggle(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "enabled is required")
		return
	}
	s.pipeline.SetEnabled(req.Enabled)
	s.logger.Warn("Auto-trading toggled", "account", account.AccountNumber, "enabled", req.Enabled)
	successResponse(c, "", gin.H{"auto_trade": req.Enabled})
}

// handleProtectionReset is the operator override for a tripped equity
// breaker.
func (s *Server) handleProtectionReset(c *gin.Context) {
	account := s.account(c)
	if err := s.protection.ResetBreaker(c.Request.Context(), account.AccountNumber); err != nil {
		errorResponse(c, http.StatusInternalServerError, "breaker reset failed")
		return
	}
	successResponse(c, "Circuit breaker reset", nil)
}

// handleRecentDecisions exposes the decision audit log
func (s *Server) handleRecentDecisions(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 100
	}

	decisions, err := s.repo.GetRecentDecisions(c.Request.Context(), req.Limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "decision lookup failed")
		return
	}
	successResponse(c, "", gin.H{"decisions": decisions})
}

// handleWorkerHealth reports the supervisor's per-worker counters
func (s *Server) handleWorkerHealth(c *gin.Context) {
	successResponse(c, "", gin.H{"workers": s.supervisor.HealthSnapshot()})
}

// handleConnections reports live terminal connection state
func (s *Server) handleConnections(c *gin.Context) {
	successResponse(c, "", gin.H{"connections": s.registry.Snapshot()})
}
