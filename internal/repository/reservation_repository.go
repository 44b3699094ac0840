package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
)

const reservationColumns = `id, contract_id, scheduled_date, scheduled_time, reserved_date, reserved_time, voided, version, created_at, updated_at`

// ErrStaleReservation is returned when an optimistic version check fails.
var ErrStaleReservation = errors.New("reservation was modified concurrently")

// ReservationRepository persists lesson occurrences.
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository constructs the repository.
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertMissing inserts reservations, silently skipping any whose scheduled or
// active slot already exists. It returns the rows actually inserted.
func (r *ReservationRepository) InsertMissing(ctx context.Context, exec sqlx.ExtContext, reservations []models.Reservation) ([]models.Reservation, error) {
	if len(reservations) == 0 {
		return nil, nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO reservations (id, contract_id, scheduled_date, scheduled_time, reserved_date, reserved_time, voided, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, 1, $7, $7)
ON CONFLICT DO NOTHING
RETURNING ` + reservationColumns

	inserted := make([]models.Reservation, 0, len(reservations))
	for i := range reservations {
		res := &reservations[i]
		if res.ID == "" {
			res.ID = uuid.NewString()
		}
		var stored models.Reservation
		err := sqlx.GetContext(ctx, target, &stored, query,
			res.ID, res.ContractID, res.ScheduledDate, res.ScheduledTime, res.ReservedDate, res.ReservedTime, now)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert reservation: %w", err)
		}
		inserted = append(inserted, stored)
	}
	return inserted, nil
}

// ListForGeneration returns every reservation of the contract, voided or not,
// whose scheduled or reserved date falls in [from, to].
func (r *ReservationRepository) ListForGeneration(ctx context.Context, exec sqlx.ExtContext, contractID string, from, to time.Time) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
WHERE contract_id = $1
  AND ((scheduled_date BETWEEN $2 AND $3) OR (reserved_date BETWEEN $2 AND $3))
ORDER BY scheduled_date ASC, scheduled_time ASC NULLS FIRST`
	var reservations []models.Reservation
	if err := sqlx.SelectContext(ctx, r.exec(exec), &reservations, query, contractID, from, to); err != nil {
		return nil, fmt.Errorf("list reservations for generation: %w", err)
	}
	return reservations, nil
}

// GetByID loads a reservation, optionally locking the row for the current
// transaction.
func (r *ReservationRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var res models.Reservation
	if err := sqlx.GetContext(ctx, r.exec(exec), &res, query, id); err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return &res, nil
}

// FindActiveAtSlot returns the active reservation of the contract occupying the
// slot, ignoring excludeID. It returns sql.ErrNoRows when the slot is free.
func (r *ReservationRepository) FindActiveAtSlot(ctx context.Context, exec sqlx.ExtContext, contractID string, slot models.Slot, excludeID string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
WHERE contract_id = $1 AND reserved_date = $2 AND COALESCE(reserved_time, '') = $3
  AND NOT voided AND id <> $4
LIMIT 1`
	var res models.Reservation
	if err := sqlx.GetContext(ctx, r.exec(exec), &res, query, contractID, slot.Date, slot.Time, excludeID); err != nil {
		return nil, fmt.Errorf("find reservation at slot: %w", err)
	}
	return &res, nil
}

// MoveTo updates the reserved slot if the row still has expectedVersion. This
// is the only statement that writes reserved_date.
func (r *ReservationRepository) MoveTo(ctx context.Context, exec sqlx.ExtContext, id string, slot models.Slot, expectedVersion int) (*models.Reservation, error) {
	var tod *string
	if slot.Time != "" {
		tod = &slot.Time
	}
	query := `UPDATE reservations
SET reserved_date = $2, reserved_time = $3, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $5
RETURNING ` + reservationColumns
	var res models.Reservation
	err := sqlx.GetContext(ctx, r.exec(exec), &res, query, id, slot.Date, tod, time.Now().UTC(), expectedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStaleReservation
	}
	if err != nil {
		return nil, fmt.Errorf("move reservation %s: %w", id, err)
	}
	return &res, nil
}

// SetVoided releases (or reclaims) the reservation's active slot.
func (r *ReservationRepository) SetVoided(ctx context.Context, exec sqlx.ExtContext, id string, voided bool) error {
	const query = `UPDATE reservations SET voided = $2, version = version + 1, updated_at = $3 WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id, voided, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set reservation voided: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set reservation voided rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns reservations for a contract ordered by reserved date.
func (r *ReservationRepository) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	where := []string{"contract_id = $1"}
	args := []interface{}{filter.ContractID}
	if !filter.IncludeVoided {
		where = append(where, "NOT voided")
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("reserved_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("reserved_date <= $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE %s ORDER BY reserved_date ASC, reserved_time ASC NULLS FIRST`,
		reservationColumns, strings.Join(where, " AND "))
	var reservations []models.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, args...); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return reservations, nil
}
