package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
)

const attendanceColumns = `id, reservation_id, contract_id, student_id, occurred_at, status, substitute_at, voided, voided_at, created_at, updated_at`

type attendanceRow struct {
	ID            string                  `db:"id"`
	ReservationID string                  `db:"reservation_id"`
	ContractID    string                  `db:"contract_id"`
	StudentID     string                  `db:"student_id"`
	OccurredAt    time.Time               `db:"occurred_at"`
	Status        models.AttendanceStatus `db:"status"`
	SubstituteAt  sql.NullTime            `db:"substitute_at"`
	Voided        bool                    `db:"voided"`
	VoidedAt      sql.NullTime            `db:"voided_at"`
	CreatedAt     time.Time               `db:"created_at"`
	UpdatedAt     time.Time               `db:"updated_at"`
}

func (r attendanceRow) toModel() (*models.AttendanceLog, error) {
	var substituteAt *time.Time
	if r.SubstituteAt.Valid {
		t := r.SubstituteAt.Time
		substituteAt = &t
	}
	outcome, err := models.NewOutcome(r.Status, substituteAt)
	if err != nil {
		return nil, fmt.Errorf("attendance log %s: %w", r.ID, err)
	}
	log := &models.AttendanceLog{
		ID:            r.ID,
		ReservationID: r.ReservationID,
		ContractID:    r.ContractID,
		StudentID:     r.StudentID,
		OccurredAt:    r.OccurredAt,
		Outcome:       outcome,
		Voided:        r.Voided,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.VoidedAt.Valid {
		t := r.VoidedAt.Time
		log.VoidedAt = &t
	}
	return log, nil
}

func outcomeColumns(outcome models.Outcome) (models.AttendanceStatus, *time.Time) {
	if outcome == nil {
		return models.AttendancePending, nil
	}
	if s, ok := outcome.(models.Substituted); ok {
		at := s.At
		return outcome.Status(), &at
	}
	return outcome.Status(), nil
}

// AttendanceRepository persists the attendance ledger.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *AttendanceRepository) getOne(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) (*models.AttendanceLog, error) {
	var row attendanceRow
	if err := sqlx.GetContext(ctx, r.exec(exec), &row, query, args...); err != nil {
		return nil, err
	}
	return row.toModel()
}

// GetByID loads a ledger entry, optionally locking it.
func (r *AttendanceRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AttendanceLog, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_logs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	log, err := r.getOne(ctx, exec, query, id)
	if err != nil {
		return nil, fmt.Errorf("get attendance log %s: %w", id, err)
	}
	return log, nil
}

// GetActiveByReservation returns the non-voided entry for a reservation, locked
// for update, or sql.ErrNoRows.
func (r *AttendanceRepository) GetActiveByReservation(ctx context.Context, exec sqlx.ExtContext, reservationID string) (*models.AttendanceLog, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_logs WHERE reservation_id = $1 AND NOT voided FOR UPDATE`
	log, err := r.getOne(ctx, exec, query, reservationID)
	if err != nil {
		return nil, fmt.Errorf("get active attendance for reservation %s: %w", reservationID, err)
	}
	return log, nil
}

// LatestByReservation returns the most recent entry for a reservation including
// voided ones.
func (r *AttendanceRepository) LatestByReservation(ctx context.Context, reservationID string) (*models.AttendanceLog, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_logs WHERE reservation_id = $1 ORDER BY voided ASC, updated_at DESC LIMIT 1`
	log, err := r.getOne(ctx, nil, query, reservationID)
	if err != nil {
		return nil, fmt.Errorf("latest attendance for reservation %s: %w", reservationID, err)
	}
	return log, nil
}

// Insert stores a new ledger entry.
func (r *AttendanceRepository) Insert(ctx context.Context, exec sqlx.ExtContext, log *models.AttendanceLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	log.CreatedAt = now
	log.UpdatedAt = now
	status, substituteAt := outcomeColumns(log.Outcome)

	const query = `
INSERT INTO attendance_logs (id, reservation_id, contract_id, student_id, occurred_at, status, substitute_at, voided, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $8)`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		log.ID, log.ReservationID, log.ContractID, log.StudentID, log.OccurredAt.UTC(), status, substituteAt, now,
	); err != nil {
		return fmt.Errorf("insert attendance log: %w", err)
	}
	return nil
}

// UpdateOutcome replaces the outcome of an active entry. occurred_at is never
// touched.
func (r *AttendanceRepository) UpdateOutcome(ctx context.Context, exec sqlx.ExtContext, id string, outcome models.Outcome) (*models.AttendanceLog, error) {
	status, substituteAt := outcomeColumns(outcome)
	query := `UPDATE attendance_logs SET status = $2, substitute_at = $3, updated_at = $4
WHERE id = $1 AND NOT voided
RETURNING ` + attendanceColumns
	log, err := r.getOne(ctx, exec, query, id, status, substituteAt, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update attendance outcome %s: %w", id, err)
	}
	return log, nil
}

// MarkVoided soft-deletes an entry. Voiding an already voided entry returns
// sql.ErrNoRows.
func (r *AttendanceRepository) MarkVoided(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AttendanceLog, error) {
	now := time.Now().UTC()
	query := `UPDATE attendance_logs SET voided = TRUE, voided_at = $2, updated_at = $2
WHERE id = $1 AND NOT voided
RETURNING ` + attendanceColumns
	log, err := r.getOne(ctx, exec, query, id, now)
	if err != nil {
		return nil, fmt.Errorf("void attendance log %s: %w", id, err)
	}
	return log, nil
}

// List returns ledger entries of a contract ordered by occurrence.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceLog, error) {
	where := []string{"contract_id = $1"}
	args := []interface{}{filter.ContractID}
	if !filter.IncludeVoided {
		where = append(where, "NOT voided")
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("occurred_at < $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM attendance_logs WHERE %s ORDER BY occurred_at ASC, id ASC`,
		attendanceColumns, strings.Join(where, " AND "))

	var rows []attendanceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance logs: %w", err)
	}
	logs := make([]models.AttendanceLog, 0, len(rows))
	for _, row := range rows {
		log, err := row.toModel()
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, nil
}

// ListByContract returns every entry of a contract, including voided ones, for
// use before a purge.
func (r *AttendanceRepository) ListByContract(ctx context.Context, exec sqlx.ExtContext, contractID string) ([]models.AttendanceLog, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_logs WHERE contract_id = $1 ORDER BY occurred_at ASC`
	var rows []attendanceRow
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rows, query, contractID); err != nil {
		return nil, fmt.Errorf("list attendance by contract: %w", err)
	}
	logs := make([]models.AttendanceLog, 0, len(rows))
	for _, row := range rows {
		log, err := row.toModel()
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, nil
}

// DeleteByContract hard-deletes every entry of a contract and returns how many
// rows were removed.
func (r *AttendanceRepository) DeleteByContract(ctx context.Context, exec sqlx.ExtContext, contractID string) (int64, error) {
	result, err := r.exec(exec).ExecContext(ctx, `DELETE FROM attendance_logs WHERE contract_id = $1`, contractID)
	if err != nil {
		return 0, fmt.Errorf("delete attendance by contract: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete attendance rows: %w", err)
	}
	return affected, nil
}
