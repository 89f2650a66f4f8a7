package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// AI DECISION LOG
// ============================================================================

// LogDecision appends one accept/reject record. Every path through the
// decision pipeline lands here, approvals included.
func (r *Repository) LogDecision(ctx context.Context, d *AIDecisionLog) error {
	reasoning, err := json.Marshal(d.DetailedReasoning)
	if err != nil {
		return fmt.Errorf("marshal decision reasoning: %w", err)
	}
	if d.ImpactLevel == "" {
		d.ImpactLevel = ImpactLow
	}
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO ai_decision_logs (account_number, decision_type, decision, symbol, timeframe,
			primary_reason, detailed_reasoning, impact_level, confidence_score, risk_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, d.AccountNumber, d.DecisionType, d.Decision, d.Symbol, d.Timeframe,
		d.PrimaryReason, reasoning, d.ImpactLevel, d.ConfidenceScore, d.RiskScore,
	).Scan(&d.ID, &d.CreatedAt)
}

// GetRecentDecisions returns the latest decision rows, newest first
func (r *Repository) GetRecentDecisions(ctx context.Context, limit int) ([]*AIDecisionLog, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, account_number, decision_type, decision, symbol, timeframe,
			primary_reason, detailed_reasoning, impact_level, confidence_score, risk_score, created_at
		FROM ai_decision_logs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*AIDecisionLog
	for rows.Next() {
		d := &AIDecisionLog{}
		var reasoning []byte
		if err := rows.Scan(&d.ID, &d.AccountNumber, &d.DecisionType, &d.Decision, &d.Symbol, &d.Timeframe,
			&d.PrimaryReason, &reasoning, &d.ImpactLevel, &d.ConfidenceScore, &d.RiskScore, &d.CreatedAt); err != nil {
			return nil, err
		}
		if len(reasoning) > 0 {
			_ = json.Unmarshal(reasoning, &d.DetailedReasoning)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// DeleteDecisionsBefore trims the decision log to its retention window
func (r *Repository) DeleteDecisionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM ai_decision_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
