package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
)

// RollupRepository reads ledger rows for statistics.
type RollupRepository struct {
	db *sqlx.DB
}

// NewRollupRepository constructs the repository.
func NewRollupRepository(db *sqlx.DB) *RollupRepository {
	return &RollupRepository{db: db}
}

// SourceRows returns every non-voided entry whose effective instant falls in
// [from, to), joined with its contract's rate snapshot.
func (r *RollupRepository) SourceRows(ctx context.Context, from, to time.Time) ([]models.RollupSourceRow, error) {
	const query = `
SELECT al.id AS log_id, al.contract_id, al.status, al.occurred_at, al.substitute_at, c.rate_amount, c.rate_basis
FROM attendance_logs al
JOIN contracts c ON c.id = al.contract_id
WHERE NOT al.voided
  AND (CASE WHEN al.status = 'substitute' THEN al.substitute_at ELSE al.occurred_at END) >= $1
  AND (CASE WHEN al.status = 'substitute' THEN al.substitute_at ELSE al.occurred_at END) < $2
ORDER BY al.contract_id ASC, al.occurred_at ASC`
	var rows []models.RollupSourceRow
	if err := r.db.SelectContext(ctx, &rows, query, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("load rollup rows: %w", err)
	}
	return rows, nil
}
