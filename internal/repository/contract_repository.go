package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
)

const contractColumns = `id, student_id, tutor_id, subject, recurrence, start_date, end_date, status,
rate_amount, rate_basis, currency, terminated_at, created_at, updated_at`

// upsertContractQuery leaves rate_amount, rate_basis and currency untouched on
// conflict.
const upsertContractQuery = `
INSERT INTO contracts (id, student_id, tutor_id, subject, recurrence, start_date, end_date, status, rate_amount, rate_basis, currency, terminated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE
SET student_id = EXCLUDED.student_id,
    tutor_id = EXCLUDED.tutor_id,
    subject = EXCLUDED.subject,
    recurrence = EXCLUDED.recurrence,
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date,
    status = EXCLUDED.status,
    terminated_at = EXCLUDED.terminated_at,
    updated_at = EXCLUDED.updated_at
RETURNING ` + contractColumns

// ContractRepository persists the contract read model.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository constructs the repository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

func (r *ContractRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Upsert stores the lifecycle snapshot. The rate snapshot is written on insert
// only.
func (r *ContractRepository) Upsert(ctx context.Context, contract *models.Contract) error {
	now := time.Now().UTC()
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}
	contract.UpdatedAt = now

	var stored models.Contract
	if err := r.db.GetContext(ctx, &stored, upsertContractQuery,
		contract.ID, contract.StudentID, contract.TutorID, contract.Subject, contract.Recurrence,
		contract.StartDate, contract.EndDate, contract.Status, contract.RateAmount, contract.RateBasis,
		contract.Currency, contract.TerminatedAt, contract.CreatedAt, contract.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert contract: %w", err)
	}
	*contract = stored
	return nil
}

// FindByID returns the contract or sql.ErrNoRows.
func (r *ContractRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`
	var contract models.Contract
	if err := sqlx.GetContext(ctx, r.exec(exec), &contract, query, id); err != nil {
		return nil, fmt.Errorf("find contract %s: %w", id, err)
	}
	return &contract, nil
}

// ListGeneratable returns issued, non-closed contracts whose schedule may
// still produce occurrences on or after asOf.
func (r *ContractRepository) ListGeneratable(ctx context.Context, asOf time.Time) ([]models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts
WHERE status IN ('sent', 'signed', 'active')
  AND (end_date IS NULL OR end_date >= $1)
ORDER BY id ASC`
	var contracts []models.Contract
	if err := r.db.SelectContext(ctx, &contracts, query, asOf); err != nil {
		return nil, fmt.Errorf("list generatable contracts: %w", err)
	}
	return contracts, nil
}
