// Package api exposes the four HTTP surfaces the MT5 Expert Advisor talks
// to: control (9900), ticks (9901), trades (9902) and logs (9903).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/autotrader"
	"mt5-trading-backend/internal/cache"
	"mt5-trading-backend/internal/commands"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/logging"
	"mt5-trading-backend/internal/marketdata"
	"mt5-trading-backend/internal/protection"
	"mt5-trading-backend/internal/reconcile"
	"mt5-trading-backend/internal/registry"
	"mt5-trading-backend/internal/workers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server hosts the four logical API surfaces on separate ports so a tick
// flood can never starve command delivery.
type Server struct {
	repo       *database.Repository
	cache      *cache.CacheService
	registry   *registry.Registry
	market     *marketdata.Service
	cmds       *commands.Service
	protection *protection.Manager
	pipeline   *autotrader.Pipeline
	reconciler *reconcile.Reconciler
	supervisor *workers.Supervisor
	bus        *events.EventBus
	cfg        *config.Config
	logger     *logging.Logger

	servers []*http.Server
}

// NewServer wires the handlers onto their engines
func NewServer(repo *database.Repository, cacheSvc *cache.CacheService, reg *registry.Registry, market *marketdata.Service, cmds *commands.Service, prot *protection.Manager, pipeline *autotrader.Pipeline, reconciler *reconcile.Reconciler, supervisor *workers.Supervisor, bus *events.EventBus, cfg *config.Config, logger *logging.Logger) *Server {
	return &Server{
		repo:       repo,
		cache:      cacheSvc,
		registry:   reg,
		market:     market,
		cmds:       cmds,
		protection: prot,
		pipeline:   pipeline,
		reconciler: reconciler,
		supervisor: supervisor,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.WithComponent("api"),
	}
}

// Start launches all four listeners. Errors from individual listeners are
// sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	gin.SetMode(gin.ReleaseMode)

	surfaces := []struct {
		name  string
		port  int
		build func(*gin.Engine)
	}{
		{"control", s.cfg.ServerConfig.ControlPort, s.controlRoutes},
		{"ticks", s.cfg.ServerConfig.TickPort, s.tickRoutes},
		{"trades", s.cfg.ServerConfig.TradePort, s.tradeRoutes},
		{"logs", s.cfg.ServerConfig.LogPort, s.logRoutes},
	}

	for _, surface := range surfaces {
		engine := gin.New()
		engine.Use(gin.Recovery())
		engine.Use(s.corsMiddleware())
		surface.build(engine)

		srv := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", s.cfg.ServerConfig.Host, surface.port),
			Handler:      engine,
			ReadTimeout:  time.Duration(s.cfg.ServerConfig.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(s.cfg.ServerConfig.WriteTimeout) * time.Second,
		}
		s.servers = append(s.servers, srv)

		name := surface.name
		go func() {
			s.logger.Info("API surface listening", "surface", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("%s listener: %w", name, err)
			}
		}()
	}
}

// Shutdown stops all listeners gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if s.cfg.ServerConfig.AllowedOrigins == "" || s.cfg.ServerConfig.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.ServerConfig.AllowedOrigins}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-API-Key")
	return cors.New(corsConfig)
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) controlRoutes(r *gin.Engine) {
	r.GET("/api/status", s.handleStatus)
	r.POST("/api/connect", s.handleConnect)

	auth := r.Group("/api", s.authMiddleware())
	auth.POST("/heartbeat", s.handleHeartbeat)
	auth.POST("/symbols", s.handleSymbols)
	auth.POST("/subscribe", s.handleSubscribe)
	auth.POST("/symbol_specs", s.handleSymbolSpecs)
	auth.POST("/get_commands", s.handleGetCommands)
	auth.POST("/create_command", s.handleCreateCommand)
	auth.POST("/command_response", s.handleCommandResponse)
	auth.POST("/autotrade", s.handleAutoTradeToggle)
	auth.POST("/protection/reset", s.handleProtectionReset)
	auth.POST("/decisions", s.handleRecentDecisions)
	auth.POST("/workers/health", s.handleWorkerHealth)
	auth.POST("/connections", s.handleConnections)
}

func (s *Server) tickRoutes(r *gin.Engine) {
	r.GET("/api/status", s.handleStatus)
	auth := r.Group("/api", s.authMiddleware())
	auth.POST("/ticks", s.handleTicks)
	auth.POST("/ohlc/historical", s.handleHistoricalOHLC)
}

func (s *Server) tradeRoutes(r *gin.Engine) {
	r.GET("/api/status", s.handleStatus)
	auth := r.Group("/api", s.authMiddleware())
	auth.POST("/trades/sync", s.handleTradesSync)
	auth.POST("/trades/update", s.handleTradeUpdate)
	auth.POST("/transaction", s.handleTransaction)
}

func (s *Server) logRoutes(r *gin.Engine) {
	r.GET("/api/status", s.handleStatus)
	auth := r.Group("/api", s.authMiddleware())
	auth.POST("/log", s.handleTerminalLog)
}

// ============================================================================
// AUTH MIDDLEWARE
// ============================================================================

const ctxAccountKey = "account"

// authMiddleware resolves the API key from the X-API-Key header or the
// body field api_key, loads the account, and rejects mismatches between
// the body's account number and the key's account.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		var bodyAccount int64

		if c.Request.Body != nil {
			raw, err := io.ReadAll(c.Request.Body)
			if err == nil {
				// Restore the body for the handler's own bind.
				c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
				var peek struct {
					APIKey  string `json:"api_key"`
					Account int64  `json:"account"`
				}
				if json.Unmarshal(raw, &peek) == nil {
					if apiKey == "" {
						apiKey = peek.APIKey
					}
					bodyAccount = peek.Account
				}
			}
		}

		if apiKey == "" {
			errorResponse(c, http.StatusUnauthorized, "API key required")
			c.Abort()
			return
		}

		account, err := s.repo.GetAccountByAPIKeyHash(c.Request.Context(), database.HashAPIKey(apiKey))
		if err != nil {
			errorResponse(c, http.StatusForbidden, "Invalid API key")
			c.Abort()
			return
		}
		if bodyAccount != 0 && bodyAccount != account.AccountNumber {
			errorResponse(c, http.StatusForbidden, "API key does not match account")
			c.Abort()
			return
		}

		c.Set(ctxAccountKey, account)
		c.Next()
	}
}

func (s *Server) account(c *gin.Context) *database.Account {
	v, ok := c.Get(ctxAccountKey)
	if !ok {
		return nil
	}
	return v.(*database.Account)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

// successResponse sends the standard envelope with extra data fields
func successResponse(c *gin.Context, message string, data gin.H) {
	body := gin.H{"status": "success"}
	if message != "" {
		body["message"] = message
	}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// errorResponse sends the standard error envelope
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"status":  "error",
		"message": message,
	})
}
