package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/w3bsuki/strike-shop-trust/internal/models"
)

// AuditRepository persists every trust decision so review tooling has the
// full reason trail even for allowed transactions.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) SaveDecision(ctx context.Context, record *models.TrustDecisionRecord) error {
	query := `
		INSERT INTO trust_decisions (id, transaction_id, user_id, score, risk_level, action, reasons, processing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.TransactionID,
		record.UserID,
		record.Score,
		record.RiskLevel,
		record.Action,
		pq.Array(record.Reasons),
		record.ProcessingMS,
		record.CreatedAt,
	)
	return err
}

// DecisionStats summarizes recent decisions for the stats endpoint.
type DecisionStats struct {
	TotalChecks   int64 `json:"total_checks"`
	HighRiskCount int64 `json:"high_risk_count"`
	BlockedCount  int64 `json:"blocked_count"`
	ReviewCount   int64 `json:"review_count"`
}

func (r *AuditRepository) GetStats(ctx context.Context, since time.Duration) (*DecisionStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE risk_level = 'high'),
			COUNT(*) FILTER (WHERE action = 'block'),
			COUNT(*) FILTER (WHERE action = 'review')
		FROM trust_decisions
		WHERE created_at >= $1
	`
	stats := &DecisionStats{}
	cutoff := time.Now().Add(-since)
	err := r.db.QueryRowContext(ctx, query, cutoff).Scan(
		&stats.TotalChecks,
		&stats.HighRiskCount,
		&stats.BlockedCount,
		&stats.ReviewCount,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
