package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// terminalLogEntry is one log line forwarded by the Expert Advisor
type terminalLogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Source  string                 `json:"source"`
	Details map[string]interface{} `json:"details"`
}

// handleTerminalLog forwards EA-side log lines into the server's log
// stream so terminal and server events interleave in one place.
func (s *Server) handleTerminalLog(c *gin.Context) {
	account := s.account(c)
	var req struct {
		Entries []terminalLogEntry `json:"entries"`
		// Single-entry form used by older EA builds.
		terminalLogEntry
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid log payload")
		return
	}

	entries := req.Entries
	if len(entries) == 0 && req.Message != "" {
		entries = []terminalLogEntry{req.terminalLogEntry}
	}

	log := s.logger.WithComponent("terminal").WithField("account", account.AccountNumber)
	for _, e := range entries {
		if e.Message == "" {
			continue
		}
		args := []interface{}{"source", e.Source}
		for k, v := range e.Details {
			args = append(args, k, v)
		}
		switch e.Level {
		case "ERROR", "error":
			log.Error(e.Message, args...)
		case "WARN", "warn", "WARNING":
			log.Warn(e.Message, args...)
		case "DEBUG", "debug":
			log.Debug(e.Message, args...)
		default:
			log.Info(e.Message, args...)
		}
	}
	successResponse(c, "", gin.H{"accepted": len(entries)})
}
